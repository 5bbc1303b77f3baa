package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/workcal/outsyncd/internal/caldav"
	"github.com/workcal/outsyncd/internal/event"
	"github.com/workcal/outsyncd/internal/ics"
	"github.com/workcal/outsyncd/internal/logging"
	"github.com/workcal/outsyncd/internal/tray"
)

// Remote is the destination collection; implemented by the caldav client.
type Remote interface {
	Enumerate(ctx context.Context, filterManaged bool) (map[string]string, error)
	Upsert(ctx context.Context, uid, icsBody string) error
	Fetch(ctx context.Context, uid string) (string, error)
	Delete(ctx context.Context, uid string) error
}

const (
	// timedTolerance bounds verify-compare drift for timed events.
	timedTolerance = 2 * time.Minute

	deletePacing = 300 * time.Millisecond
	errorBackoff = 5 * time.Second
	settleWait   = 30 * time.Second
)

// Reconciler converges the destination collection onto a desired event
// set: stale reap first, then upsert with per-event write verification.
type Reconciler struct {
	Remote  Remote
	Managed func(string) bool
	Tray    tray.Surface
	Logger  *slog.Logger
	Events  logging.EventLog
	Encode  ics.Options

	// pacing knobs; tests shrink them
	DeletePacing time.Duration
	ErrorBackoff time.Duration
	SettleWait   time.Duration
}

func NewReconciler(remote Remote, managed func(string) bool, surface tray.Surface, logger *slog.Logger, encode ics.Options) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		Remote:       remote,
		Managed:      managed,
		Tray:         surface,
		Logger:       logger,
		Events:       logging.NewEventLog(logger),
		Encode:       encode,
		DeletePacing: deletePacing,
		ErrorBackoff: errorBackoff,
		SettleWait:   settleWait,
	}
}

// Wipe deletes destination entries: only this instance's managed entries
// when filtered, every entry otherwise. After deleting it waits for the
// destination caches to settle.
func (r *Reconciler) Wipe(ctx context.Context, filtered bool) error {
	r.Tray.SetDeleting()
	defer r.Tray.SetIdle()

	current, err := r.Remote.Enumerate(ctx, filtered)
	if err != nil {
		return fmt.Errorf("wipe enumeration failed: %w", err)
	}
	if len(current) == 0 {
		return nil
	}

	uids := sortedKeys(current)
	for i, u := range uids {
		r.Tray.UpdateText(fmt.Sprintf("deleting %d/%d (%d%%)", i+1, len(uids), (i+1)*100/len(uids)))
		if err := caldav.Sleep(ctx, r.DeletePacing); err != nil {
			return err
		}
		if err := r.Remote.Delete(ctx, u); err != nil {
			if errors.Is(err, caldav.ErrAuth) || isCancelled(err) {
				return err
			}
			r.Logger.Warn("wipe delete failed, backing off", "uid", u, "error", err)
			if err := caldav.Sleep(ctx, r.ErrorBackoff); err != nil {
				return err
			}
		}
	}

	r.Logger.Info("wipe finished, waiting for destination to settle", "deleted", len(uids))
	return caldav.Sleep(ctx, r.SettleWait)
}

// Reconcile runs one convergence pass. Phase A reaps stale managed
// entries, Phase B upserts and verifies the desired set, Phase C returns
// the tray to idle.
func (r *Reconciler) Reconcile(ctx context.Context, desired map[string]*event.Event) error {
	defer r.Tray.SetIdle()

	current, err := r.Remote.Enumerate(ctx, true)
	if err != nil {
		if errors.Is(err, caldav.ErrAuth) || isCancelled(err) {
			return err
		}
		// A malformed listing must not wedge the cycle: reconcile against
		// an empty snapshot and let the next cycle converge.
		r.Logger.Error("enumeration failed, proceeding with empty destination snapshot", "error", err)
		r.Events.Warning("calendar sync: destination listing could not be parsed")
		current = map[string]string{}
	}

	if err := r.reapStale(ctx, desired, current); err != nil {
		return err
	}
	return r.upsertAll(ctx, desired)
}

// reapStale is Phase A: every managed destination entry not in the
// desired set is deleted before any upsert is issued.
func (r *Reconciler) reapStale(ctx context.Context, desired map[string]*event.Event, current map[string]string) error {
	r.Tray.SetDeleting()

	var stale []string
	for u := range current {
		if !r.Managed(u) {
			continue
		}
		if _, keep := desired[u]; !keep {
			stale = append(stale, u)
		}
	}
	sort.Strings(stale)

	for _, u := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Remote.Delete(ctx, u); err != nil {
			if errors.Is(err, caldav.ErrAuth) || isCancelled(err) {
				return err
			}
			r.Logger.Warn("failed to delete stale entry", "uid", u, "error", err)
			continue
		}
		r.Logger.Info("deleted stale entry", "uid", u)
	}
	return nil
}

// upsertAll is Phase B: encode, PUT, verify by GET, and correct once.
func (r *Reconciler) upsertAll(ctx context.Context, desired map[string]*event.Event) error {
	r.Tray.SetUpdating()

	uids := make([]string, 0, len(desired))
	for u := range desired {
		uids = append(uids, u)
	}
	sort.Strings(uids)

	for i, u := range uids {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.Tray.UpdateText(fmt.Sprintf("updating %d/%d (%d%%)", i+1, len(uids), (i+1)*100/len(uids)))

		if err := r.upsertOne(ctx, u, desired[u]); err != nil {
			if errors.Is(err, caldav.ErrAuth) || isCancelled(err) {
				return err
			}
			r.Logger.Warn("failed to upsert event", "uid", u, "error", err)
		}
	}
	return nil
}

func (r *Reconciler) upsertOne(ctx context.Context, u string, ev *event.Event) error {
	body, err := ics.Encode(ev, u, r.Encode)
	if err != nil {
		return err
	}

	if err := r.Remote.Upsert(ctx, u, body); err != nil {
		return err
	}

	ok, err := r.verify(ctx, u, ev)
	if err != nil || ok {
		return err
	}

	// One corrective write, one re-verify; a still-failing result is
	// logged but not fatal.
	r.Logger.Warn("verify mismatch, rewriting event", "uid", u)
	if err := r.Remote.Upsert(ctx, u, body); err != nil {
		return err
	}
	ok, err = r.verify(ctx, u, ev)
	if err != nil {
		return err
	}
	if !ok {
		r.Logger.Error("event still mismatched after corrective write", "uid", u)
	}
	return nil
}

// verify fetches the stored document and compares it with the desired
// event. Parse failures skip verification for this event.
func (r *Reconciler) verify(ctx context.Context, u string, ev *event.Event) (bool, error) {
	body, err := r.Remote.Fetch(ctx, u)
	if err != nil {
		if errors.Is(err, caldav.ErrAuth) || isCancelled(err) {
			return false, err
		}
		r.Logger.Warn("verify fetch failed, skipping verification", "uid", u, "error", err)
		return true, nil
	}

	dec, err := ics.Decode(body)
	if err != nil {
		r.Logger.Warn("verify parse failed, skipping verification", "uid", u, "error", err)
		return true, nil
	}

	if dec.AllDay != ev.IsAllDay {
		r.Logger.Warn("all-day flag mismatch on destination",
			"uid", u, "want", ev.IsAllDay, "got", dec.AllDay)
		return false, nil
	}

	if ev.IsAllDay {
		return sameDay(dec.StartUTC, ev.StartUTC) && sameDay(dec.EndUTC, ev.EndUTC), nil
	}
	return within(dec.StartUTC, ev.StartUTC, timedTolerance) &&
		within(dec.EndUTC, ev.EndUTC, timedTolerance), nil
}

func within(a, b time.Time, tol time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func sortedKeys(m map[string]string) []string {
	l := make([]string, 0, len(m))
	for k := range m {
		l = append(l, k)
	}
	sort.Strings(l)
	return l
}
