// Package outlook bridges the source calendar's component-object automation
// interface. Every automation call runs on a dedicated single-threaded
// worker; the bridge owns host attachment, retries and the fetch session.
package outlook

import (
	"errors"
	"time"

	"github.com/workcal/outsyncd/internal/recurrence"
)

var (
	// ErrHostUnavailable means the automation host could not be attached
	// after all retries. The supervisor treats this as "no data", never as
	// an empty calendar.
	ErrHostUnavailable = errors.New("outlook: automation host unavailable")
	// ErrTimedOut means the overall fetch exceeded its deadline.
	ErrTimedOut = errors.New("outlook: fetch timed out")
	// ErrServerExecutionFailed is the transient instantiation failure the
	// attach sequence retries.
	ErrServerExecutionFailed = errors.New("outlook: server execution failed")
	// ErrUnsupportedPlatform is returned by the automation transport
	// constructor on hosts without a component-object runtime.
	ErrUnsupportedPlatform = errors.New("outlook: automation interface not available on this platform")
)

// Window bounds a fetch in source-local wall clock time.
type Window struct {
	Start time.Time
	End   time.Time
}

// Appointment is a raw calendar item as the automation interface exposes
// it: a single event or a series master carrying its recurrence descriptor.
type Appointment struct {
	Subject  string
	Body     string
	Location string

	GlobalID string

	StartLocal time.Time
	EndLocal   time.Time
	StartUTC   time.Time
	EndUTC     time.Time

	AllDay    bool
	Cancelled bool

	IsRecurring bool
	Series      *recurrence.Series
}

// Transport is one attachment to the automation host. Implementations are
// not safe for concurrent use; the bridge serializes all calls onto the
// affinitised worker.
type Transport interface {
	// AttachRunning attaches to an already-running host instance.
	AttachRunning() error
	// CreateInstance spawns a fresh host instance and attaches to it.
	CreateInstance() error
	// Fetch returns the calendar's appointments for the window. Items
	// outside the window may be included (the COM transport returns every
	// item, series masters included). The returned slice is complete, never
	// streamed.
	Fetch(window Window) ([]Appointment, error)
	// Release frees every native handle obtained during the session, in
	// reverse acquisition order. It must not panic.
	Release()
}

// HostProber locates and starts the automation host process. The concrete
// helpers are host-OS specific collaborators; the bridge only needs this
// contract.
type HostProber interface {
	Running() bool
	Start() error
}

// NoopProber assumes the host is always reachable through the transport
// alone.
type NoopProber struct{}

func (NoopProber) Running() bool { return true }
func (NoopProber) Start() error  { return nil }
