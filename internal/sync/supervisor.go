package sync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/workcal/outsyncd/internal/caldav"
	"github.com/workcal/outsyncd/internal/event"
	"github.com/workcal/outsyncd/internal/logging"
	"github.com/workcal/outsyncd/internal/outlook"
	"github.com/workcal/outsyncd/internal/tray"
)

// DesiredSource produces the desired event set; implemented by
// Materializer.
type DesiredSource interface {
	Desired(ctx context.Context, now time.Time) (map[string]*event.Event, error)
}

// Converger reconciles the destination; implemented by Reconciler.
type Converger interface {
	Wipe(ctx context.Context, filtered bool) error
	Reconcile(ctx context.Context, desired map[string]*event.Event) error
}

// Supervisor hosts the periodic loop. Exactly one cycle runs at a time;
// each cycle gets its own cancellation scope so a manual full re-sync can
// preempt it.
type Supervisor struct {
	Source    DesiredSource
	Converger Converger
	Tray      tray.Surface
	Logger    *slog.Logger
	Events    logging.EventLog

	InitialWait time.Duration
	Interval    time.Duration

	// Now is the clock; tests pin it.
	Now func() time.Time

	mu sync.Mutex // the operation lock: held for the duration of a cycle

	scopeMu     sync.Mutex
	serviceCtx  context.Context
	cancelCycle context.CancelFunc

	// wipedOnce is process-wide: a restart re-triggers the filtered wipe.
	wipedOnce bool
}

func NewSupervisor(source DesiredSource, converger Converger, surface tray.Surface, logger *slog.Logger, events logging.EventLog) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = logging.NewEventLog(logger)
	}
	return &Supervisor{
		Source:      source,
		Converger:   converger,
		Tray:        surface,
		Logger:      logger,
		Events:      events,
		InitialWait: time.Minute,
		Interval:    3 * time.Minute,
		Now:         time.Now,
	}
}

// Run executes the periodic loop until ctx is cancelled. An error in one
// cycle never terminates the loop.
func (s *Supervisor) Run(ctx context.Context) error {
	s.scopeMu.Lock()
	s.serviceCtx = ctx
	s.scopeMu.Unlock()

	s.Events.Info("sync service starting")
	defer s.Events.Info("sync service stopped")

	if err := caldav.Sleep(ctx, s.InitialWait); err != nil {
		return nil
	}

	for {
		s.runCycle(ctx, false)

		if err := caldav.Sleep(ctx, s.Interval); err != nil {
			return nil
		}
	}
}

// TriggerFullResync cancels any in-flight cycle, then runs a cycle that
// first wipes every destination entry, managed or not. It blocks until
// the manual cycle finishes.
func (s *Supervisor) TriggerFullResync() {
	s.scopeMu.Lock()
	ctx := s.serviceCtx
	if s.cancelCycle != nil {
		s.cancelCycle()
	}
	s.scopeMu.Unlock()

	if ctx == nil {
		return
	}
	s.Logger.Info("manual full re-sync requested")
	s.runCycle(ctx, true)
}

// runCycle acquires the operation lock, installs a fresh per-cycle scope
// merged with the service scope, and runs one cycle under it.
func (s *Supervisor) runCycle(parent context.Context, wipeAll bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if parent.Err() != nil {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	s.scopeMu.Lock()
	s.cancelCycle = cancel
	s.scopeMu.Unlock()
	defer func() {
		s.scopeMu.Lock()
		s.cancelCycle = nil
		s.scopeMu.Unlock()
		cancel()
	}()

	logger := s.Logger.With("cycle", uuid.NewString()[:8])
	start := s.Now()
	logger.Info("cycle starting", "full_resync", wipeAll)

	if err := s.cycle(ctx, logger, wipeAll); err != nil {
		s.handleCycleError(ctx, logger, err)
	} else {
		logger.Info("cycle finished", "elapsed", s.Now().Sub(start).Round(time.Millisecond))
	}
}

func (s *Supervisor) cycle(ctx context.Context, logger *slog.Logger, wipeAll bool) error {
	if wipeAll || !s.wipedOnce {
		if err := s.Converger.Wipe(ctx, !wipeAll); err != nil {
			return err
		}
		s.wipedOnce = true
	}

	desired, err := s.Source.Desired(ctx, s.Now())
	if err != nil {
		return err
	}
	logger.Info("materialized desired set", "events", len(desired))

	return s.Converger.Reconcile(ctx, desired)
}

// handleCycleError applies the propagation policy: every cycle-level
// failure is logged and absorbed so the loop continues; only the service
// scope ends the loop.
func (s *Supervisor) handleCycleError(ctx context.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, caldav.ErrAuth):
		logger.Error("authentication rejected by destination", "error", err)
		s.Events.Error("calendar sync: destination rejected the configured credentials")
		s.Tray.NotifyAuthFailure("The destination calendar rejected the configured credentials.")
	case errors.Is(err, outlook.ErrTimedOut):
		logger.Error("source fetch timed out", "error", err)
	case errors.Is(err, outlook.ErrHostUnavailable):
		// No-data sentinel: without source data the destination must not
		// be treated as stale, so the cycle ends before any reconcile.
		logger.Warn("source host unavailable, skipping cycle", "error", err)
	case isCancelled(err) || ctx.Err() != nil:
		if s.serviceStopped() {
			logger.Info("cycle cancelled by service stop")
		} else {
			logger.Info("cycle cancelled, re-entering loop")
		}
	default:
		logger.Error("cycle failed", "error", err)
	}
}

func (s *Supervisor) serviceStopped() bool {
	s.scopeMu.Lock()
	defer s.scopeMu.Unlock()
	return s.serviceCtx != nil && s.serviceCtx.Err() != nil
}
