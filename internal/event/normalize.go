package event

import (
	"log/slog"
	"time"

	"github.com/workcal/outsyncd/internal/timezone"
)

// Raw is an appointment as the source bridge hands it over: a single item,
// a series master, or a post-expansion occurrence. Either timestamp pair
// may be missing.
type Raw struct {
	Subject  string
	Body     string
	Location string

	GlobalID string

	StartLocal time.Time
	EndLocal   time.Time
	StartUTC   time.Time
	EndUTC     time.Time

	AllDayFlag bool
}

// Normalizer consolidates raw appointments into atomic events with
// consistent timestamps. It keeps per-cycle deduplication state; use a
// fresh Normalizer for every cycle.
type Normalizer struct {
	SourceZone *time.Location
	TargetZone *time.Location
	Tolerance  time.Duration
	Logger     *slog.Logger

	seen map[dedupeKey]struct{}
}

type dedupeKey struct {
	globalID string
	startUTC int64
	endUTC   int64
}

func NewNormalizer(source, target *time.Location, tolerance time.Duration, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	if tolerance <= 0 {
		tolerance = time.Minute
	}
	return &Normalizer{
		SourceZone: source,
		TargetZone: target,
		Tolerance:  tolerance,
		Logger:     logger,
		seen:       make(map[dedupeKey]struct{}),
	}
}

// Normalize turns one raw appointment into zero or more atomic events.
// Multi-day all-day items are split into one event per day; duplicates of
// an already-seen (global id, start, end) signature are dropped with a
// warning.
func (n *Normalizer) Normalize(raw *Raw) []Event {
	startLocal, startUTC, ok := n.reconcile(raw.Subject, "start", raw.StartLocal, raw.StartUTC)
	if !ok {
		return nil
	}
	endLocal, endUTC, ok := n.reconcile(raw.Subject, "end", raw.EndLocal, raw.EndUTC)
	if !ok {
		return nil
	}

	n.checkTargetAlignment(raw.Subject, startLocal, startUTC)

	if !endUTC.After(startUTC) {
		n.Logger.Warn("dropping event with non-positive span",
			"subject", raw.Subject, "start", startUTC, "end", endUTC)
		return nil
	}

	allDay := InferAllDay(startLocal, endLocal, raw.AllDayFlag)

	var events []Event
	if allDay {
		events = n.chunkAllDay(raw, startLocal, endLocal)
	} else {
		events = []Event{{
			Subject:    raw.Subject,
			Body:       raw.Body,
			Location:   raw.Location,
			GlobalID:   raw.GlobalID,
			StartLocal: startLocal,
			EndLocal:   endLocal,
			StartUTC:   startUTC,
			EndUTC:     endUTC,
			IsAllDay:   false,
		}}
	}

	out := events[:0]
	for _, ev := range events {
		key := dedupeKey{ev.GlobalID, ev.StartUTC.Unix(), ev.EndUTC.Unix()}
		if _, dup := n.seen[key]; dup {
			n.Logger.Warn("dropping duplicate event",
				"subject", ev.Subject, "global_id", ev.GlobalID, "start", ev.StartUTC)
			continue
		}
		n.seen[key] = struct{}{}
		out = append(out, ev)
	}
	return out
}

// reconcile resolves a local/UTC timestamp pair. Missing values are derived
// from the other side; a disagreement beyond the tolerance is resolved in
// favour of the UTC-derived local value.
func (n *Normalizer) reconcile(subject, which string, local, utc time.Time) (time.Time, time.Time, bool) {
	switch {
	case local.IsZero() && utc.IsZero():
		n.Logger.Warn("dropping event with no usable timestamps",
			"subject", subject, "field", which)
		return time.Time{}, time.Time{}, false
	case utc.IsZero():
		return local, timezone.ToUTC(local, n.SourceZone), true
	case local.IsZero():
		return timezone.ToLocal(utc, n.SourceZone), utc.UTC(), true
	}

	derived := timezone.ToLocal(utc, n.SourceZone)
	if !timezone.Aligned(local, derived, n.Tolerance) {
		n.Logger.Warn("timestamp pair disagrees, using UTC-derived local time",
			"subject", subject, "field", which, "local", local, "derived", derived)
		local = derived
	}
	return local, utc.UTC(), true
}

// checkTargetAlignment verifies that identical source and target zones
// yield identical wall clocks. A mismatch is logged, never fatal.
func (n *Normalizer) checkTargetAlignment(subject string, startLocal, startUTC time.Time) {
	if n.TargetZone == nil || n.SourceZone == nil {
		return
	}
	if n.SourceZone.String() != n.TargetZone.String() {
		return
	}
	targetLocal := timezone.ToLocal(startUTC, n.TargetZone)
	if !timezone.Aligned(startLocal, targetLocal, n.Tolerance) {
		n.Logger.Warn("target zone wall clock disagrees with source",
			"subject", subject, "source_local", startLocal, "target_local", targetLocal)
	}
}

// chunkAllDay splits an all-day range into one atomic event per day. The
// UTC pair carries the date at midnight UTC so the day itself, not the
// zone offset, keys the occurrence.
func (n *Normalizer) chunkAllDay(raw *Raw, startLocal, endLocal time.Time) []Event {
	startDay := midnight(startLocal)
	endDay := midnight(endLocal)
	if endLocal.After(endDay) {
		// An end like 23:59 still covers its day.
		endDay = endDay.AddDate(0, 0, 1)
	}
	if !endDay.After(startDay) {
		endDay = startDay.AddDate(0, 0, 1)
	}

	var events []Event
	for day := startDay; day.Before(endDay); day = day.AddDate(0, 0, 1) {
		next := day.AddDate(0, 0, 1)
		events = append(events, Event{
			Subject:    raw.Subject,
			Body:       raw.Body,
			Location:   raw.Location,
			GlobalID:   raw.GlobalID,
			StartLocal: day,
			EndLocal:   next,
			StartUTC:   day,
			EndUTC:     next,
			IsAllDay:   true,
		})
	}
	return events
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
