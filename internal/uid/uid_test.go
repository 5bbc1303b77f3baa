package uid

import (
	"strings"
	"testing"
	"time"
)

func TestBuild(t *testing.T) {
	start := time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)

	b := Builder{SourceID: "ACME"}
	got := b.Build("G1", start)

	// sha256("G1")
	const digest = "7b778e4c1d1f33c90c619ed9bda321bbc5f05cf9f131a326c57fda87359d3b0b"
	want := "ACME-outlook-" + digest + "-20250203T080000Z"
	if got != want {
		t.Errorf("Build() = %v, want %v", got, want)
	}
}

func TestBuild_noSourceID(t *testing.T) {
	start := time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)

	got := Builder{}.Build("G1", start)
	if !strings.HasPrefix(got, "outlook-") {
		t.Errorf("Build() = %v, want outlook- prefix", got)
	}
}

func TestBuild_emptyGlobalID(t *testing.T) {
	start := time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)

	got := Builder{}.Build("", start)
	want := "outlook-" + strings.Repeat("0", 64) + "-20250203T080000Z"
	if got != want {
		t.Errorf("Build() = %v, want %v", got, want)
	}
}

func TestBuild_stable(t *testing.T) {
	start := time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)
	b := Builder{SourceID: "ACME"}

	if got, want := b.Build("G1", start), b.Build("G1", start); got != want {
		t.Errorf("Build() not stable: %v != %v", got, want)
	}
}

func TestBuild_nonUTCStart(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatal(err)
	}
	local := time.Date(2025, 2, 3, 9, 0, 0, 0, berlin)

	got := Builder{}.Build("G1", local)
	if !strings.HasSuffix(got, "-20250203T080000Z") {
		t.Errorf("Build() = %v, want suffix -20250203T080000Z", got)
	}
}

func TestManaged(t *testing.T) {
	tests := []struct {
		sourceID string
		uid      string
		want     bool
	}{
		{"ACME", "ACME-outlook-abc-20250101T080000Z", true},
		{"ACME", "acme-OUTLOOK-abc-20250101T080000Z", true},
		{"ACME", "outlook-abc-20250101T080000Z", true},
		{"ACME", "-outlook-abc-20250101T080000Z", true},
		{"ACME", "  outlook-abc  ", true},
		{"ACME", "FOREIGN-outlook-abc-20250101T080000Z", false},
		{"ACME", "ACME-something-else", false},
		{"ACME", "outlook", false},
		{"", "outlook-abc", true},
		{"", "ACME-outlook-abc", false},
		{"", "", false},
	}
	for _, tc := range tests {
		b := Builder{SourceID: tc.sourceID}
		if got := b.Managed(tc.uid); got != tc.want {
			t.Errorf("Builder{%q}.Managed(%q) = %v, want %v", tc.sourceID, tc.uid, got, tc.want)
		}
	}
}

func TestManaged_ownBuildIsManaged(t *testing.T) {
	start := time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)
	for _, sourceID := range []string{"", "ACME"} {
		b := Builder{SourceID: sourceID}
		u := b.Build("G1", start)
		if !b.Managed(u) {
			t.Errorf("Builder{%q}: Managed(Build(...)) = false, want true", sourceID)
		}
	}
}
