// Package event defines the atomic calendar event record produced by the
// materialization pipeline and the normalizer that consolidates raw source
// appointments into it.
package event

import (
	"fmt"
	"time"
)

// Event is an atomic, post-expansion calendar event. Local times are
// zone-less wall clocks in the source zone; UTC times are instants.
type Event struct {
	Subject  string
	Body     string
	Location string

	StartLocal time.Time
	EndLocal   time.Time
	StartUTC   time.Time
	EndUTC     time.Time

	// GlobalID is the stable identifier of the originating appointment or
	// series.
	GlobalID string

	IsAllDay bool
}

// Validate checks the event's structural invariant.
func (e *Event) Validate() error {
	if !e.EndUTC.After(e.StartUTC) {
		return fmt.Errorf("event %q: end %v not after start %v", e.Subject, e.EndUTC, e.StartUTC)
	}
	return nil
}

// InferAllDay decides whether an event spanning [startLocal, endLocal] is an
// all-day event. The explicit source flag wins; otherwise a midnight-to-
// midnight span of at least 23 hours counts, because some sources expose
// multi-day all-day ranges as plain midnight intervals.
func InferAllDay(startLocal, endLocal time.Time, flagged bool) bool {
	if flagged {
		return true
	}

	if startLocal.Hour() != 0 || startLocal.Minute() != 0 || startLocal.Second() != 0 {
		return false
	}
	if endLocal.Sub(startLocal) < 23*time.Hour {
		return false
	}

	endMidnight := endLocal.Hour() == 0 && endLocal.Minute() == 0 && endLocal.Second() == 0
	endLate := endLocal.Hour() == 23 && endLocal.Minute() >= 59
	return endMidnight || endLate
}
