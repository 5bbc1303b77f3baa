// Package timezone resolves configured zone names and converts event
// timestamps between source-local, UTC and target-local wall clocks.
package timezone

import (
	"log/slog"
	"time"
)

// windowsZones maps the platform zone names a desktop PIM configuration is
// likely to carry onto IANA identifiers. The table covers the zones seen in
// the wild; anything else should be configured with an IANA name.
var windowsZones = map[string]string{
	"W. Europe Standard Time":      "Europe/Berlin",
	"Central Europe Standard Time": "Europe/Budapest",
	"Romance Standard Time":        "Europe/Paris",
	"GMT Standard Time":            "Europe/London",
	"Greenwich Standard Time":      "Atlantic/Reykjavik",
	"E. Europe Standard Time":      "Europe/Chisinau",
	"FLE Standard Time":            "Europe/Kiev",
	"Russian Standard Time":        "Europe/Moscow",
	"Eastern Standard Time":        "America/New_York",
	"Central Standard Time":        "America/Chicago",
	"Mountain Standard Time":       "America/Denver",
	"Pacific Standard Time":        "America/Los_Angeles",
	"US Eastern Standard Time":     "America/Indiana/Indianapolis",
	"Hawaiian Standard Time":       "Pacific/Honolulu",
	"Alaskan Standard Time":        "America/Anchorage",
	"China Standard Time":          "Asia/Shanghai",
	"Tokyo Standard Time":          "Asia/Tokyo",
	"Korea Standard Time":          "Asia/Seoul",
	"India Standard Time":          "Asia/Kolkata",
	"Singapore Standard Time":      "Asia/Singapore",
	"AUS Eastern Standard Time":    "Australia/Sydney",
	"New Zealand Standard Time":    "Pacific/Auckland",
	"UTC":                          "UTC",
}

// Resolve returns the location for an IANA or platform zone name. Unknown
// names fall back to the host's local zone with a warning; resolution never
// fails the cycle.
func Resolve(id string, logger *slog.Logger) *time.Location {
	if logger == nil {
		logger = slog.Default()
	}
	if id == "" {
		return time.Local
	}
	if iana, ok := windowsZones[id]; ok {
		id = iana
	}
	loc, err := time.LoadLocation(id)
	if err != nil {
		logger.Warn("unknown time zone, falling back to host local zone",
			"zone", id, "error", err)
		return time.Local
	}
	return loc
}

// ToUTC interprets a zone-less wall clock time in loc and returns the
// corresponding instant.
func ToUTC(local time.Time, loc *time.Location) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), loc).UTC()
}

// ToLocal converts an instant to the zone-less wall clock time in loc.
func ToLocal(utc time.Time, loc *time.Location) time.Time {
	l := utc.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(),
		l.Hour(), l.Minute(), l.Second(), l.Nanosecond(), time.UTC)
}

// Aligned reports whether two wall clock readings agree within tolerance.
func Aligned(a, b time.Time, tolerance time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
