// Package logging wires the application logger: structured records go to
// a rolling file sink plus stderr, lifecycle milestones additionally to a
// coarse event log.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configure the rolling file sink.
type Options struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      string
}

// New builds the application logger. With no file configured, records go
// to stderr only.
func New(opts Options) (*slog.Logger, io.Closer) {
	var w io.Writer = os.Stderr
	var closer io.Closer

	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
		}
		w = io.MultiWriter(os.Stderr, lj)
		closer = lj
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})
	return slog.New(handler), closer
}

// ParseLevel maps the configured level name; unknown names mean Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EventLog records coarse lifecycle milestones (start, stop, auth failure,
// parse failure). The default implementation writes through the structured
// logger; a platform event-log writer can replace it.
type EventLog interface {
	Info(msg string)
	Warning(msg string)
	Error(msg string)
}

type slogEventLog struct {
	logger *slog.Logger
}

// NewEventLog returns an EventLog backed by the structured logger.
func NewEventLog(logger *slog.Logger) EventLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogEventLog{logger: logger.With("channel", "eventlog")}
}

func (l *slogEventLog) Info(msg string)    { l.logger.Info(msg) }
func (l *slogEventLog) Warning(msg string) { l.logger.Warn(msg) }
func (l *slogEventLog) Error(msg string)   { l.logger.Error(msg) }

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
