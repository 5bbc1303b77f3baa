// Command outsyncd runs the one-way calendar synchronization daemon: it
// periodically mirrors the local desktop calendar into a CalDAV collection.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/workcal/outsyncd/internal/caldav"
	"github.com/workcal/outsyncd/internal/config"
	"github.com/workcal/outsyncd/internal/ics"
	"github.com/workcal/outsyncd/internal/logging"
	"github.com/workcal/outsyncd/internal/outlook"
	syncengine "github.com/workcal/outsyncd/internal/sync"
	"github.com/workcal/outsyncd/internal/timezone"
	"github.com/workcal/outsyncd/internal/tray"
	"github.com/workcal/outsyncd/internal/uid"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config.json (default: next to the executable)")
	flag.Parse()

	if configPath == "" {
		var err error
		if configPath, err = config.DefaultPath(); err != nil {
			return err
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, logCloser := logging.New(logging.Options{
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Level:      cfg.LogLevel,
	})
	if logCloser != nil {
		defer logCloser.Close()
	}
	slog.SetDefault(logger)
	events := logging.NewEventLog(logger)

	sourceZone := timezone.Resolve(cfg.SourceTimeZoneID, logger)
	targetZone := timezone.Resolve(cfg.TargetTimeZoneID, logger)
	builder := uid.Builder{SourceID: cfg.SourceID}

	worker, err := outlook.NewWorker(outlook.COMSetup, outlook.COMTeardown)
	if err != nil {
		return fmt.Errorf("failed to start automation worker: %w", err)
	}
	defer worker.Close()

	transport, err := outlook.NewTransport()
	if err != nil {
		return fmt.Errorf("failed to create automation transport: %w", err)
	}
	bridge := outlook.NewBridge(worker, transport, nil, logger)

	remote, err := caldav.New(caldav.Config{
		BaseURL:     cfg.ICloudCalDavURL,
		Username:    cfg.ICloudUser,
		Password:    cfg.ICloudPassword,
		PrincipalID: cfg.PrincipalID,
		CalendarID:  cfg.WorkCalendarID,
		Managed:     builder.Managed,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	surface := tray.NewLogging(logger)

	materializer := &syncengine.Materializer{
		Source:           bridge,
		UID:              builder,
		SourceZone:       sourceZone,
		TargetZone:       targetZone,
		Tolerance:        time.Minute,
		Logger:           logger,
		PastDays:         cfg.SyncDaysIntoPast,
		FutureDays:       cfg.SyncDaysIntoFuture,
		ExpandPastDays:   cfg.RecurrenceExpansionDaysPast,
		ExpandFutureDays: cfg.RecurrenceExpansionDaysFuture,
	}

	reconciler := syncengine.NewReconciler(remote, builder.Managed, surface, logger, ics.Options{
		Tag:                   cfg.EventTag,
		IncludeSecondReminder: cfg.IncludeSecondReminder,
	})

	supervisor := syncengine.NewSupervisor(materializer, reconciler, surface, logger, events)
	supervisor.InitialWait = time.Duration(cfg.InitialWaitSeconds) * time.Second
	supervisor.Interval = time.Duration(cfg.SyncIntervalMinutes) * time.Minute

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return supervisor.Run(ctx) })
	g.Go(func() error {
		select {
		case <-surface.ExitClicked():
			logger.Info("exit requested from tray menu")
			stop()
		case <-ctx.Done():
		}
		return nil
	})

	logger.Info("outsyncd started", "config", configPath)
	return g.Wait()
}
