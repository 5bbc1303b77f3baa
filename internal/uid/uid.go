// Package uid builds and classifies the destination identifiers owned by a
// sync instance. UIDs are deterministic: the same appointment occurrence
// always maps to the same destination resource.
package uid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	marker = "outlook"

	// suffixLayout is the "date with UTC time" format defined in RFC 5545.
	suffixLayout = "20060102T150405Z"
)

// Builder constructs managed UIDs for one sync instance.
type Builder struct {
	// SourceID tags UIDs when several instances share a destination
	// calendar. May be empty.
	SourceID string
}

// Build returns the managed UID for an occurrence, shaped
// {source_id-}outlook-{sha256 hex of global id}-{start UTC}.
// Hashing the originating identifier bounds the UID length and keeps the
// raw identifier out of resource URLs.
func (b Builder) Build(globalID string, startUTC time.Time) string {
	prefix := marker
	if b.SourceID != "" {
		prefix = b.SourceID + "-" + marker
	}

	var digest string
	if globalID == "" {
		digest = strings.Repeat("0", hex.EncodedLen(sha256.Size))
	} else {
		sum := sha256.Sum256([]byte(globalID))
		digest = hex.EncodeToString(sum[:])
	}

	return prefix + "-" + digest + "-" + startUTC.UTC().Format(suffixLayout)
}

// Managed reports whether a destination UID belongs to this instance.
// Matching is case-insensitive on the prefix family. Entries that merely
// share the bare source id are not claimed: deleting a foreign event is
// unrecoverable, while skipping a legacy entry only leaves it behind.
func (b Builder) Managed(uid string) bool {
	uid = strings.ToLower(strings.TrimSpace(uid))

	prefixes := []string{
		"-" + marker + "-",
		marker + "-",
	}
	if b.SourceID != "" {
		prefixes = append(prefixes, strings.ToLower(b.SourceID)+"-"+marker+"-")
	}

	for _, p := range prefixes {
		if strings.HasPrefix(uid, p) {
			return true
		}
	}
	return false
}
