package outlook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	fetchTimeout = 2 * time.Minute

	attachAttempts = 5
	attachWait     = 10 * time.Second

	createRetries = 3
	createBackoff = 5 * time.Second

	hostStartTimeout = 30 * time.Second
	hostProbePeriod  = time.Second
)

// Bridge exposes the source calendar to the sync engine. It owns the
// connection-attach state machine and funnels every transport call through
// the affinitised worker.
type Bridge struct {
	worker    *Worker
	transport Transport
	prober    HostProber
	logger    *slog.Logger

	// Timeout caps one FetchAppointments call; defaults to two minutes.
	Timeout time.Duration
	// knobs for tests
	attachWait    time.Duration
	createBackoff time.Duration
	probePeriod   time.Duration
	startTimeout  time.Duration
}

func NewBridge(worker *Worker, transport Transport, prober HostProber, logger *slog.Logger) *Bridge {
	if prober == nil {
		prober = NoopProber{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		worker:        worker,
		transport:     transport,
		prober:        prober,
		logger:        logger,
		Timeout:       fetchTimeout,
		attachWait:    attachWait,
		createBackoff: createBackoff,
		probePeriod:   hostProbePeriod,
		startTimeout:  hostStartTimeout,
	}
}

// FetchAppointments returns the transport's appointments for the window as
// one finite batch; it does not clip them to the window. The whole call is bounded by the bridge timeout linked
// into ctx; attach failures after all retries surface as
// ErrHostUnavailable.
func (b *Bridge) FetchAppointments(ctx context.Context, window Window) ([]Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	var appointments []Appointment

	attempt := 0
	op := func() error {
		attempt++
		if err := b.ensureReady(ctx); err != nil {
			b.logger.Warn("attach sequence failed",
				"attempt", attempt, "of", attachAttempts, "error", err)
			return err
		}

		err := b.worker.Do(ctx, func() error {
			defer b.transport.Release()
			var err error
			appointments, err = b.transport.Fetch(window)
			return err
		})
		if err != nil {
			b.logger.Warn("appointment fetch failed",
				"attempt", attempt, "of", attachAttempts, "error", err)
		}
		return err
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(b.attachWait), attachAttempts-1), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimedOut, err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrHostUnavailable, err)
	}

	return appointments, nil
}

// ensureReady runs the attach state machine: probe a running host, launch
// and wait for it if absent, create a fresh instance with bounded retries
// on transient instantiation failures, and make a final attach attempt.
func (b *Bridge) ensureReady(ctx context.Context) error {
	if b.prober.Running() {
		if err := b.attach(ctx); err == nil {
			return nil
		}
	} else {
		if err := b.launchHost(ctx); err != nil {
			return err
		}
		if err := b.attach(ctx); err == nil {
			return nil
		}
	}

	if err := b.createInstance(ctx); err == nil {
		return nil
	}

	// One more attach attempt before giving up on this round.
	if err := b.attach(ctx); err != nil {
		return fmt.Errorf("final attach probe failed: %w", err)
	}
	return nil
}

func (b *Bridge) attach(ctx context.Context) error {
	return b.worker.Do(ctx, b.transport.AttachRunning)
}

func (b *Bridge) launchHost(ctx context.Context) error {
	if err := b.prober.Start(); err != nil {
		return fmt.Errorf("failed to start automation host: %w", err)
	}

	deadline := time.Now().Add(b.startTimeout)
	for !b.prober.Running() {
		if time.Now().After(deadline) {
			return errors.New("automation host did not come up in time")
		}
		if err := sleep(ctx, b.probePeriod); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) createInstance(ctx context.Context) error {
	op := func() error {
		err := b.worker.Do(ctx, b.transport.CreateInstance)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrServerExecutionFailed) {
			b.logger.Warn("host instantiation failed transiently, retrying", "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(b.createBackoff), createRetries), ctx)
	return backoff.Retry(op, bo)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
