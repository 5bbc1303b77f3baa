package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func wall(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func newNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return NewNormalizer(berlin, berlin, time.Minute, nil)
}

func TestNormalize_timedEvent(t *testing.T) {
	n := newNormalizer(t)

	events := n.Normalize(&Raw{
		Subject:    "Standup",
		GlobalID:   "G1",
		StartLocal: wall(2025, 2, 3, 9, 0),
		EndLocal:   wall(2025, 2, 3, 9, 30),
	})
	require.Len(t, events, 1)

	ev := events[0]
	require.Equal(t, "Standup", ev.Subject)
	require.False(t, ev.IsAllDay)
	require.Equal(t, time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC), ev.StartUTC)
	require.Equal(t, time.Date(2025, 2, 3, 8, 30, 0, 0, time.UTC), ev.EndUTC)
	require.NoError(t, ev.Validate())
}

func TestNormalize_utcOnlyDerivesLocal(t *testing.T) {
	n := newNormalizer(t)

	events := n.Normalize(&Raw{
		Subject:  "Call",
		GlobalID: "G1",
		StartUTC: time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC),
		EndUTC:   time.Date(2025, 2, 3, 8, 30, 0, 0, time.UTC),
	})
	require.Len(t, events, 1)
	require.Equal(t, wall(2025, 2, 3, 9, 0), events[0].StartLocal)
}

func TestNormalize_mismatchPrefersUTC(t *testing.T) {
	n := newNormalizer(t)

	events := n.Normalize(&Raw{
		Subject:    "Skewed",
		GlobalID:   "G1",
		StartLocal: wall(2025, 2, 3, 11, 30), // off by 2.5h from UTC pair
		EndLocal:   wall(2025, 2, 3, 12, 0),
		StartUTC:   time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC),
		EndUTC:     time.Date(2025, 2, 3, 8, 30, 0, 0, time.UTC),
	})
	require.Len(t, events, 1)
	require.Equal(t, wall(2025, 2, 3, 9, 0), events[0].StartLocal)
	require.Equal(t, wall(2025, 2, 3, 9, 30), events[0].EndLocal)
}

func TestNormalize_withinToleranceKeepsLocal(t *testing.T) {
	n := newNormalizer(t)

	local := wall(2025, 2, 3, 9, 0).Add(30 * time.Second)
	events := n.Normalize(&Raw{
		Subject:    "Slight skew",
		GlobalID:   "G1",
		StartLocal: local,
		EndLocal:   local.Add(30 * time.Minute),
		StartUTC:   time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC),
		EndUTC:     time.Date(2025, 2, 3, 8, 30, 0, 0, time.UTC),
	})
	require.Len(t, events, 1)
	require.Equal(t, local, events[0].StartLocal)
}

func TestNormalize_noTimestampsDropped(t *testing.T) {
	n := newNormalizer(t)
	require.Empty(t, n.Normalize(&Raw{Subject: "Ghost", GlobalID: "G1"}))
}

func TestNormalize_nonPositiveSpanDropped(t *testing.T) {
	n := newNormalizer(t)
	require.Empty(t, n.Normalize(&Raw{
		Subject:    "Backwards",
		GlobalID:   "G1",
		StartLocal: wall(2025, 2, 3, 10, 0),
		EndLocal:   wall(2025, 2, 3, 9, 0),
	}))
}

func TestNormalize_allDayFlagged(t *testing.T) {
	n := newNormalizer(t)

	// Explicit flag on a midnight-to-midnight day.
	events := n.Normalize(&Raw{
		Subject:    "Offsite",
		GlobalID:   "G2",
		StartLocal: wall(2025, 2, 10, 0, 0),
		EndLocal:   wall(2025, 2, 11, 0, 0),
		AllDayFlag: true,
	})
	require.Len(t, events, 1)
	require.True(t, events[0].IsAllDay)
	require.Equal(t, time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC), events[0].StartUTC)
	require.Equal(t, time.Date(2025, 2, 11, 0, 0, 0, 0, time.UTC), events[0].EndUTC)
}

func TestNormalize_allDayInferredFromSpan(t *testing.T) {
	n := newNormalizer(t)

	// Midnight-to-midnight without the flag.
	events := n.Normalize(&Raw{
		Subject:    "Holiday",
		GlobalID:   "G2",
		StartLocal: wall(2025, 2, 10, 0, 0),
		EndLocal:   wall(2025, 2, 11, 0, 0),
	})
	require.Len(t, events, 1)
	require.True(t, events[0].IsAllDay)
}

func TestNormalize_flaggedShortEventStillAllDay(t *testing.T) {
	n := newNormalizer(t)

	events := n.Normalize(&Raw{
		Subject:    "Flagged",
		GlobalID:   "G9",
		StartLocal: wall(2025, 2, 10, 9, 0),
		EndLocal:   wall(2025, 2, 10, 10, 0),
		AllDayFlag: true,
	})
	require.Len(t, events, 1)
	require.True(t, events[0].IsAllDay)
}

func TestNormalize_timedEventNotInferredAllDay(t *testing.T) {
	n := newNormalizer(t)

	events := n.Normalize(&Raw{
		Subject:    "Long meeting",
		GlobalID:   "G9",
		StartLocal: wall(2025, 2, 10, 9, 0),
		EndLocal:   wall(2025, 2, 11, 9, 0),
	})
	require.Len(t, events, 1)
	require.False(t, events[0].IsAllDay)
}

func TestNormalize_multiDayAllDayChunked(t *testing.T) {
	n := newNormalizer(t)

	events := n.Normalize(&Raw{
		Subject:    "Conference",
		GlobalID:   "G3",
		StartLocal: wall(2025, 2, 10, 0, 0),
		EndLocal:   wall(2025, 2, 13, 0, 0),
	})
	require.Len(t, events, 3)

	for i, ev := range events {
		day := time.Date(2025, 2, 10+i, 0, 0, 0, 0, time.UTC)
		require.True(t, ev.IsAllDay)
		require.Equal(t, day, ev.StartUTC)
		require.Equal(t, day.AddDate(0, 0, 1), ev.EndUTC)
		require.Equal(t, "Conference", ev.Subject)
	}
}

func TestNormalize_lateEndCoversItsDay(t *testing.T) {
	n := newNormalizer(t)

	events := n.Normalize(&Raw{
		Subject:    "Late end",
		GlobalID:   "G3",
		StartLocal: wall(2025, 2, 10, 0, 0),
		EndLocal:   wall(2025, 2, 11, 23, 59),
	})
	require.Len(t, events, 2)
}

func TestNormalize_dedupe(t *testing.T) {
	n := newNormalizer(t)

	raw := &Raw{
		Subject:    "Twice",
		GlobalID:   "G1",
		StartLocal: wall(2025, 2, 3, 9, 0),
		EndLocal:   wall(2025, 2, 3, 9, 30),
	}
	require.Len(t, n.Normalize(raw), 1)
	require.Empty(t, n.Normalize(raw))

	// A different span with the same global id survives.
	other := &Raw{
		Subject:    "Twice",
		GlobalID:   "G1",
		StartLocal: wall(2025, 2, 4, 9, 0),
		EndLocal:   wall(2025, 2, 4, 9, 30),
	}
	require.Len(t, n.Normalize(other), 1)
}

func TestInferAllDay(t *testing.T) {
	tests := []struct {
		name       string
		start, end time.Time
		flag       bool
		want       bool
	}{
		{"flag wins", wall(2025, 1, 1, 9, 0), wall(2025, 1, 1, 10, 0), true, true},
		{"midnight span", wall(2025, 1, 1, 0, 0), wall(2025, 1, 2, 0, 0), false, true},
		{"midnight to 23:59", wall(2025, 1, 1, 0, 0), wall(2025, 1, 1, 23, 59), false, true},
		{"short midnight span", wall(2025, 1, 1, 0, 0), wall(2025, 1, 1, 12, 0), false, false},
		{"timed", wall(2025, 1, 1, 9, 0), wall(2025, 1, 2, 9, 0), false, false},
		{"non-midnight start", wall(2025, 1, 1, 1, 0), wall(2025, 1, 2, 1, 0), false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, InferAllDay(tc.start, tc.end, tc.flag))
		})
	}
}
