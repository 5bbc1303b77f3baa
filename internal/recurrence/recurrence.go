// Package recurrence translates source recurrence descriptors into concrete
// occurrences within a window, honouring series exceptions.
package recurrence

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/workcal/outsyncd/internal/event"
	"github.com/workcal/outsyncd/internal/timezone"
)

// Frequency enumerates the recurrence pattern types of the source.
type Frequency int

const (
	Daily Frequency = iota
	Weekly
	Monthly
	MonthlyNth
	Yearly
	YearlyNth
)

func (f Frequency) String() string {
	switch f {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case MonthlyNth:
		return "monthly-nth"
	case Yearly:
		return "yearly"
	case YearlyNth:
		return "yearly-nth"
	}
	return fmt.Sprintf("frequency(%d)", int(f))
}

// DayMask is the source's day-of-week bitmask (Sunday = 1, Monday = 2, …,
// Saturday = 64).
type DayMask int

const (
	Sunday    DayMask = 1 << iota // 1
	Monday                        // 2
	Tuesday                       // 4
	Wednesday                     // 8
	Thursday                      // 16
	Friday                        // 32
	Saturday                      // 64
)

var maskWeekdays = []struct {
	mask DayMask
	wd   rrule.Weekday
}{
	{Sunday, rrule.SU},
	{Monday, rrule.MO},
	{Tuesday, rrule.TU},
	{Wednesday, rrule.WE},
	{Thursday, rrule.TH},
	{Friday, rrule.FR},
	{Saturday, rrule.SA},
}

func (m DayMask) weekdays() []rrule.Weekday {
	var l []rrule.Weekday
	for _, e := range maskWeekdays {
		if m&e.mask != 0 {
			l = append(l, e.wd)
		}
	}
	return l
}

// Override carries the replacement instance of an exception.
type Override struct {
	StartLocal time.Time
	EndLocal   time.Time
	StartUTC   time.Time
	EndUTC     time.Time

	Subject  *string
	Body     *string
	Location *string

	AllDay bool
}

// Exception marks one occurrence of a series as removed or replaced.
// OriginalDate is the source-local date the occurrence would have fallen
// on; a nil Override means the occurrence was deleted.
type Exception struct {
	OriginalDate time.Time
	Override     *Override
}

// Series is the resolved recurrence descriptor of a master appointment.
type Series struct {
	Frequency   Frequency
	Interval    int
	Days        DayMask
	DayOfMonth  int
	MonthOfYear int
	// Instance selects the nth weekday instance for the -nth patterns;
	// 1…5, with 5 meaning "last".
	Instance int

	// Termination: NoEnd, or Count occurrences, or through Until (local
	// date, inclusive).
	NoEnd bool
	Count int
	Until time.Time

	// PatternStart is the local date the pattern begins on.
	// PatternStartTime/PatternEndTime carry the pattern's time-of-day
	// bounds when the source exposes them.
	PatternStart     time.Time
	PatternStartTime time.Time
	PatternEndTime   time.Time

	// Master item bounds, local wall clock and UTC; either pair may be
	// zero when the source omits it.
	MasterStartLocal time.Time
	MasterEndLocal   time.Time
	MasterStartUTC   time.Time
	MasterEndUTC     time.Time

	AllDay bool

	Exceptions []Exception
}

// Occurrence is one concrete instance of a series within the window.
// Override fields are nil unless an exception carried them.
type Occurrence struct {
	StartLocal time.Time
	EndLocal   time.Time
	StartUTC   time.Time
	EndUTC     time.Time

	AllDay bool

	Subject  *string
	Body     *string
	Location *string
}

const fallbackDuration = 30 * time.Minute

// Expander enumerates series occurrences in the source zone.
type Expander struct {
	SourceZone *time.Location
	// Tolerance bounds the acceptable disagreement between a local/UTC
	// timestamp pair before the UTC-derived value wins.
	Tolerance time.Duration
	Logger    *slog.Logger
}

func (e *Expander) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Expand returns the occurrences of series within [from, to], given as
// source-local wall clock bounds. Exception overrides win over rule-driven
// occurrences for their original date.
func (e *Expander) Expand(series *Series, from, to time.Time) ([]Occurrence, error) {
	opt, ok := e.ruleOption(series)
	if !ok {
		e.logger().Warn("skipping series with unsupported recurrence type",
			"frequency", series.Frequency.String())
		return nil, nil
	}

	baseStart := e.baseStart(series)
	duration := e.baseDuration(series)

	opt.Dtstart = baseStart

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("recurrence: invalid rule for %s series: %w", series.Frequency, err)
	}

	var out []Occurrence

	// Exceptions first: original dates always suppress the rule-driven
	// occurrence, and overrides landing inside the window are emitted
	// directly.
	skip := make(map[string]struct{}, len(series.Exceptions))
	for _, exc := range series.Exceptions {
		skip[dayKey(exc.OriginalDate)] = struct{}{}

		if exc.Override == nil {
			continue
		}
		ov := exc.Override
		if ov.StartLocal.Before(from) || ov.StartLocal.After(to) {
			continue
		}
		out = append(out, Occurrence{
			StartLocal: ov.StartLocal,
			EndLocal:   ov.EndLocal,
			StartUTC:   ov.StartUTC,
			EndUTC:     ov.EndUTC,
			AllDay:     event.InferAllDay(ov.StartLocal, ov.EndLocal, ov.AllDay),
			Subject:    ov.Subject,
			Body:       ov.Body,
			Location:   ov.Location,
		})
	}

	for _, start := range r.Between(from, to, true) {
		if _, dropped := skip[dayKey(start)]; dropped {
			continue
		}
		end := start.Add(duration)
		out = append(out, Occurrence{
			StartLocal: start,
			EndLocal:   end,
			StartUTC:   timezone.ToUTC(start, e.SourceZone),
			EndUTC:     timezone.ToUTC(end, e.SourceZone),
			AllDay:     series.AllDay,
		})
	}

	return out, nil
}

func (e *Expander) ruleOption(series *Series) (*rrule.ROption, bool) {
	interval := series.Interval
	if interval < 1 {
		interval = 1
	}
	opt := rrule.ROption{Interval: interval}

	switch series.Frequency {
	case Daily:
		opt.Freq = rrule.DAILY
	case Weekly:
		opt.Freq = rrule.WEEKLY
		opt.Byweekday = series.Days.weekdays()
	case Monthly:
		opt.Freq = rrule.MONTHLY
		if series.DayOfMonth > 0 {
			opt.Bymonthday = []int{series.DayOfMonth}
		}
	case MonthlyNth:
		opt.Freq = rrule.MONTHLY
		opt.Byweekday = series.Days.weekdays()
		opt.Bysetpos = []int{nthSetpos(series.Instance)}
	case Yearly:
		opt.Freq = rrule.YEARLY
		if series.MonthOfYear > 0 {
			opt.Bymonth = []int{series.MonthOfYear}
		}
		if series.DayOfMonth > 0 {
			opt.Bymonthday = []int{series.DayOfMonth}
		}
	case YearlyNth:
		opt.Freq = rrule.YEARLY
		if series.MonthOfYear > 0 {
			opt.Bymonth = []int{series.MonthOfYear}
		}
		opt.Byweekday = series.Days.weekdays()
		opt.Bysetpos = []int{nthSetpos(series.Instance)}
	default:
		return nil, false
	}

	switch {
	case series.NoEnd:
	case series.Count > 0:
		opt.Count = series.Count
	case !series.Until.IsZero():
		// Inclusive of the until date.
		u := series.Until
		opt.Until = time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 0, time.UTC)
	}

	return &opt, true
}

// nthSetpos maps the source's 1…5 instance selector onto BYSETPOS, where 5
// means "last".
func nthSetpos(instance int) int {
	if instance >= 5 || instance < 1 {
		return -1
	}
	return instance
}

// baseStart resolves the series' first occurrence start as a local wall
// clock, reconciling inconsistent local/UTC pairs within the tolerance.
func (e *Expander) baseStart(series *Series) time.Time {
	start := series.MasterStartLocal
	if start.IsZero() && !series.MasterStartUTC.IsZero() {
		start = timezone.ToLocal(series.MasterStartUTC, e.SourceZone)
	}
	if !start.IsZero() && !series.MasterStartUTC.IsZero() {
		derived := timezone.ToLocal(series.MasterStartUTC, e.SourceZone)
		if !timezone.Aligned(start, derived, e.Tolerance) {
			e.logger().Warn("series master start disagrees with UTC-derived value, using UTC",
				"local", start, "derived", derived)
			start = derived
		}
	}

	// The pattern's own date and time-of-day take precedence over the
	// master item's when present.
	day := series.PatternStart
	if day.IsZero() {
		day = start
	}
	tod := series.PatternStartTime
	if tod.IsZero() {
		tod = start
	}
	if day.IsZero() {
		return time.Time{}
	}
	return time.Date(day.Year(), day.Month(), day.Day(),
		tod.Hour(), tod.Minute(), tod.Second(), 0, time.UTC)
}

// baseDuration resolves the occurrence duration from the most reliable
// available source: pattern time bounds, then the master item, then the
// appointment's own span held in the master fields, finally a 30 minute
// fallback.
func (e *Expander) baseDuration(series *Series) time.Duration {
	if d := series.PatternEndTime.Sub(series.PatternStartTime); !series.PatternStartTime.IsZero() && d > 0 {
		return d
	}
	if d := series.MasterEndLocal.Sub(series.MasterStartLocal); !series.MasterStartLocal.IsZero() && d > 0 {
		return d
	}
	if d := series.MasterEndUTC.Sub(series.MasterStartUTC); !series.MasterStartUTC.IsZero() && d > 0 {
		return d
	}
	e.logger().Warn("series has no usable duration, falling back to 30 minutes")
	return fallbackDuration
}

func dayKey(t time.Time) string {
	return t.Format("20060102")
}
