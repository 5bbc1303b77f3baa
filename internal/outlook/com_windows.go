//go:build windows

package outlook

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"

	"github.com/workcal/outsyncd/internal/recurrence"
)

// Object model constants of the automation host.
const (
	olFolderCalendar = 9

	olMeetingCanceled            = 5
	olMeetingReceivedAndCanceled = 7

	olRecursDaily    = 0
	olRecursWeekly   = 1
	olRecursMonthly  = 2
	olRecursMonthNth = 3
	olRecursYearly   = 5
	olRecursYearNth  = 6
)

const hostProgID = "Outlook.Application"

// COMSetup initialises a single-threaded apartment on the calling thread.
// It must run as the worker's setup hook.
func COMSetup() error {
	return ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED)
}

// COMTeardown uninitialises the apartment; the worker's teardown hook.
func COMTeardown() {
	ole.CoUninitialize()
}

// comTransport drives the host through its component-object interface.
// Handles are tracked in acquisition order and released in reverse.
type comTransport struct {
	app     *ole.IDispatch
	handles []*ole.IDispatch
}

// NewTransport returns the component-object transport.
func NewTransport() (Transport, error) {
	return &comTransport{}, nil
}

func (c *comTransport) keep(d *ole.IDispatch) *ole.IDispatch {
	c.handles = append(c.handles, d)
	return d
}

func (c *comTransport) AttachRunning() error {
	unknown, err := oleutil.GetActiveObject(hostProgID)
	if err != nil {
		return fmt.Errorf("no running host instance: %w", err)
	}
	defer unknown.Release()

	app, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return fmt.Errorf("host instance rejected dispatch query: %w", err)
	}
	c.app = c.keep(app)
	return nil
}

func (c *comTransport) CreateInstance() error {
	unknown, err := oleutil.CreateObject(hostProgID)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "server execution failed") {
			return fmt.Errorf("%w: %v", ErrServerExecutionFailed, err)
		}
		return fmt.Errorf("failed to create host instance: %w", err)
	}
	defer unknown.Release()

	app, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return fmt.Errorf("host instance rejected dispatch query: %w", err)
	}
	c.app = c.keep(app)
	return nil
}

func (c *comTransport) Fetch(window Window) ([]Appointment, error) {
	if c.app == nil {
		return nil, errors.New("not attached")
	}

	ns, err := c.dispCall(c.app, "GetNamespace", "MAPI")
	if err != nil {
		return nil, err
	}
	folder, err := c.dispCall(ns, "GetDefaultFolder", olFolderCalendar)
	if err != nil {
		return nil, err
	}
	items, err := c.dispGet(folder, "Items")
	if err != nil {
		return nil, err
	}
	// Window filtering happens in the engine: a [Start] restriction here
	// would drop series masters whose pattern began before the window.
	if _, err := oleutil.CallMethod(items, "Sort", "[Start]"); err != nil {
		return nil, fmt.Errorf("failed to sort items: %w", err)
	}
	if _, err := oleutil.PutProperty(items, "IncludeRecurrences", false); err != nil {
		return nil, fmt.Errorf("failed to disable recurrence expansion: %w", err)
	}

	count, err := intProp(items, "Count")
	if err != nil {
		return nil, err
	}

	var out []Appointment
	for i := 1; i <= count; i++ {
		item, err := c.dispCall(items, "Item", i)
		if err != nil {
			return nil, fmt.Errorf("failed to read item %d: %w", i, err)
		}
		appt, err := c.readAppointment(item)
		if err != nil {
			return nil, fmt.Errorf("failed to read item %d: %w", i, err)
		}
		out = append(out, *appt)
	}
	return out, nil
}

func (c *comTransport) readAppointment(item *ole.IDispatch) (*Appointment, error) {
	appt := &Appointment{}

	appt.Subject, _ = strProp(item, "Subject")
	appt.Body, _ = strProp(item, "Body")
	appt.Location, _ = strProp(item, "Location")
	appt.GlobalID, _ = strProp(item, "GlobalAppointmentID")
	appt.AllDay, _ = boolProp(item, "AllDayEvent")

	status, _ := intProp(item, "MeetingStatus")
	appt.Cancelled = status == olMeetingCanceled || status == olMeetingReceivedAndCanceled

	appt.StartLocal, _ = timeProp(item, "Start")
	appt.EndLocal, _ = timeProp(item, "End")
	appt.StartUTC, _ = timeProp(item, "StartUTC")
	appt.EndUTC, _ = timeProp(item, "EndUTC")

	appt.IsRecurring, _ = boolProp(item, "IsRecurring")
	if appt.IsRecurring {
		series, err := c.readSeries(item, appt)
		if err != nil {
			return nil, err
		}
		appt.Series = series
	}

	return appt, nil
}

func (c *comTransport) readSeries(item *ole.IDispatch, appt *Appointment) (*recurrence.Series, error) {
	pattern, err := c.dispCall(item, "GetRecurrencePattern")
	if err != nil {
		return nil, fmt.Errorf("failed to get recurrence pattern: %w", err)
	}

	series := &recurrence.Series{
		AllDay:           appt.AllDay,
		MasterStartLocal: appt.StartLocal,
		MasterEndLocal:   appt.EndLocal,
		MasterStartUTC:   appt.StartUTC,
		MasterEndUTC:     appt.EndUTC,
	}

	rtype, _ := intProp(pattern, "RecurrenceType")
	series.Frequency = mapFrequency(rtype)
	series.Interval, _ = intProp(pattern, "Interval")
	mask, _ := intProp(pattern, "DayOfWeekMask")
	series.Days = recurrence.DayMask(mask)
	series.DayOfMonth, _ = intProp(pattern, "DayOfMonth")
	series.MonthOfYear, _ = intProp(pattern, "MonthOfYear")
	series.Instance, _ = intProp(pattern, "Instance")

	series.PatternStart, _ = timeProp(pattern, "PatternStartDate")
	series.PatternStartTime, _ = timeProp(pattern, "StartTime")
	series.PatternEndTime, _ = timeProp(pattern, "EndTime")

	noEnd, _ := boolProp(pattern, "NoEndDate")
	switch {
	case noEnd:
		series.NoEnd = true
	default:
		if n, err := intProp(pattern, "Occurrences"); err == nil && n > 0 {
			series.Count = n
		} else {
			series.Until, _ = timeProp(pattern, "PatternEndDate")
		}
	}

	exceptions, err := c.dispGet(pattern, "Exceptions")
	if err != nil {
		return series, nil
	}
	n, err := intProp(exceptions, "Count")
	if err != nil {
		return series, nil
	}
	for i := 1; i <= n; i++ {
		exc, err := c.dispCall(exceptions, "Item", i)
		if err != nil {
			continue
		}
		series.Exceptions = append(series.Exceptions, c.readException(exc))
	}

	return series, nil
}

func (c *comTransport) readException(exc *ole.IDispatch) recurrence.Exception {
	out := recurrence.Exception{}
	out.OriginalDate, _ = timeProp(exc, "OriginalDate")

	if deleted, _ := boolProp(exc, "Deleted"); deleted {
		return out
	}

	// The replacement item is only reachable for non-deleted exceptions.
	item, err := c.dispGet(exc, "AppointmentItem")
	if err != nil {
		return out
	}

	ov := &recurrence.Override{}
	ov.StartLocal, _ = timeProp(item, "Start")
	ov.EndLocal, _ = timeProp(item, "End")
	ov.StartUTC, _ = timeProp(item, "StartUTC")
	ov.EndUTC, _ = timeProp(item, "EndUTC")
	ov.AllDay, _ = boolProp(item, "AllDayEvent")

	if s, err := strProp(item, "Subject"); err == nil {
		ov.Subject = &s
	}
	if s, err := strProp(item, "Body"); err == nil {
		ov.Body = &s
	}
	if s, err := strProp(item, "Location"); err == nil {
		ov.Location = &s
	}

	out.Override = ov
	return out
}

// Release frees all tracked handles in reverse acquisition order. Releases
// must not raise from the caller's perspective.
func (c *comTransport) Release() {
	defer func() { recover() }()
	for i := len(c.handles) - 1; i >= 0; i-- {
		if c.handles[i] != nil {
			c.handles[i].Release()
		}
	}
	c.handles = nil
	c.app = nil
}

func (c *comTransport) dispCall(d *ole.IDispatch, name string, args ...interface{}) (*ole.IDispatch, error) {
	v, err := oleutil.CallMethod(d, name, args...)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	disp := v.ToIDispatch()
	if disp == nil {
		return nil, fmt.Errorf("%s returned no object", name)
	}
	return c.keep(disp), nil
}

func (c *comTransport) dispGet(d *ole.IDispatch, name string) (*ole.IDispatch, error) {
	v, err := oleutil.GetProperty(d, name)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	disp := v.ToIDispatch()
	if disp == nil {
		return nil, fmt.Errorf("%s returned no object", name)
	}
	return c.keep(disp), nil
}

func strProp(d *ole.IDispatch, name string) (string, error) {
	v, err := oleutil.GetProperty(d, name)
	if err != nil {
		return "", err
	}
	defer v.Clear()
	return v.ToString(), nil
}

func intProp(d *ole.IDispatch, name string) (int, error) {
	v, err := oleutil.GetProperty(d, name)
	if err != nil {
		return 0, err
	}
	defer v.Clear()
	return int(v.Val), nil
}

func boolProp(d *ole.IDispatch, name string) (bool, error) {
	v, err := oleutil.GetProperty(d, name)
	if err != nil {
		return false, err
	}
	defer v.Clear()
	b, ok := v.Value().(bool)
	if !ok {
		return v.Val != 0, nil
	}
	return b, nil
}

// timeProp reads a date-valued property as a zone-less wall clock.
func timeProp(d *ole.IDispatch, name string) (time.Time, error) {
	v, err := oleutil.GetProperty(d, name)
	if err != nil {
		return time.Time{}, err
	}
	defer v.Clear()
	t, ok := v.Value().(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("%s is not a date", name)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC), nil
}

func mapFrequency(rtype int) recurrence.Frequency {
	switch rtype {
	case olRecursDaily:
		return recurrence.Daily
	case olRecursWeekly:
		return recurrence.Weekly
	case olRecursMonthly:
		return recurrence.Monthly
	case olRecursMonthNth:
		return recurrence.MonthlyNth
	case olRecursYearly:
		return recurrence.Yearly
	case olRecursYearNth:
		return recurrence.YearlyNth
	}
	return recurrence.Frequency(-1)
}
