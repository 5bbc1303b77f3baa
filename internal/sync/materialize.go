// Package sync hosts the sync engine: the materialization pipeline that
// turns source appointments into the desired event set, the reconciler
// that converges the destination collection onto it, and the supervisor
// loop that drives cycles.
package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/workcal/outsyncd/internal/event"
	"github.com/workcal/outsyncd/internal/outlook"
	"github.com/workcal/outsyncd/internal/recurrence"
	"github.com/workcal/outsyncd/internal/timezone"
	"github.com/workcal/outsyncd/internal/uid"
)

// Source yields raw appointments; implemented by the outlook bridge.
type Source interface {
	FetchAppointments(ctx context.Context, window outlook.Window) ([]outlook.Appointment, error)
}

// Materializer builds the desired event set for one cycle:
// fetch → recurrence expansion → normalization → UID assignment.
type Materializer struct {
	Source     Source
	UID        uid.Builder
	SourceZone *time.Location
	TargetZone *time.Location
	Tolerance  time.Duration
	Logger     *slog.Logger

	PastDays         int
	FutureDays       int
	ExpandPastDays   int
	ExpandFutureDays int
}

func (m *Materializer) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// Desired returns the managed UID → event mapping for the sync window
// around now. Events are created per cycle and discarded afterwards.
func (m *Materializer) Desired(ctx context.Context, now time.Time) (map[string]*event.Event, error) {
	nowLocal := timezone.ToLocal(now.UTC(), m.SourceZone)
	from := nowLocal.AddDate(0, 0, -m.PastDays)
	to := nowLocal.AddDate(0, 0, m.FutureDays)

	// Series are enumerated over an inflated window so occurrences whose
	// pattern straddles the sync boundary are not missed; the final set is
	// clipped back to the sync window.
	expandFrom := from.AddDate(0, 0, -m.ExpandPastDays)
	expandTo := to.AddDate(0, 0, m.ExpandFutureDays)

	appointments, err := m.Source.FetchAppointments(ctx, outlook.Window{Start: from, End: to})
	if err != nil {
		return nil, err
	}

	expander := &recurrence.Expander{
		SourceZone: m.SourceZone,
		Tolerance:  m.Tolerance,
		Logger:     m.logger(),
	}
	normalizer := event.NewNormalizer(m.SourceZone, m.TargetZone, m.Tolerance, m.logger())

	desired := make(map[string]*event.Event)
	add := func(raw *event.Raw) {
		for _, ev := range normalizer.Normalize(raw) {
			ev := ev
			if ev.StartLocal.Before(from) || ev.StartLocal.After(to) {
				continue
			}
			desired[m.UID.Build(ev.GlobalID, ev.StartUTC)] = &ev
		}
	}

	for i := range appointments {
		appt := &appointments[i]
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if appt.Cancelled {
			m.logger().Debug("skipping cancelled appointment", "subject", appt.Subject)
			continue
		}

		if appt.IsRecurring && appt.Series != nil {
			occs, err := expander.Expand(appt.Series, expandFrom, expandTo)
			if err != nil {
				m.logger().Warn("failed to expand series",
					"subject", appt.Subject, "error", err)
				continue
			}
			for _, occ := range occs {
				add(occurrenceRaw(appt, occ))
			}
			continue
		}

		add(&event.Raw{
			Subject:    appt.Subject,
			Body:       appt.Body,
			Location:   appt.Location,
			GlobalID:   appt.GlobalID,
			StartLocal: appt.StartLocal,
			EndLocal:   appt.EndLocal,
			StartUTC:   appt.StartUTC,
			EndUTC:     appt.EndUTC,
			AllDayFlag: appt.AllDay,
		})
	}

	return desired, nil
}

// occurrenceRaw projects one expanded occurrence back into a raw record,
// applying the exception's field overrides when present.
func occurrenceRaw(appt *outlook.Appointment, occ recurrence.Occurrence) *event.Raw {
	raw := &event.Raw{
		Subject:    appt.Subject,
		Body:       appt.Body,
		Location:   appt.Location,
		GlobalID:   appt.GlobalID,
		StartLocal: occ.StartLocal,
		EndLocal:   occ.EndLocal,
		StartUTC:   occ.StartUTC,
		EndUTC:     occ.EndUTC,
		AllDayFlag: occ.AllDay,
	}
	if occ.Subject != nil {
		raw.Subject = *occ.Subject
	}
	if occ.Body != nil {
		raw.Body = *occ.Body
	}
	if occ.Location != nil {
		raw.Location = *occ.Location
	}
	return raw
}
