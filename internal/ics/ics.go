// Package ics renders atomic events as single-VEVENT iCalendar documents
// and parses them back for write verification.
package ics

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/workcal/outsyncd/internal/event"
)

const (
	prodID = "-//workcal//outsyncd//EN"

	dateLayout = "20060102"
)

// Options control document rendering.
type Options struct {
	// Tag, when set, prefixes the summary as "[tag] ".
	Tag string
	// IncludeSecondReminder attaches the -PT3M alarm in addition to the
	// -PT10M one.
	IncludeSecondReminder bool
}

// Encode renders a single-event calendar document. Timed events carry UTC
// start/end and display alarms; all-day events carry date values and no
// alarms, because timed reminders on untimed events misbehave in
// destination clients.
func Encode(ev *event.Event, uid string, opts Options) (string, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")

	summary := ev.Subject
	if summary == "" {
		summary = "No Subject"
	}
	if opts.Tag != "" {
		summary = "[" + opts.Tag + "] " + summary
	}

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	vevent.Props.SetText(ical.PropSummary, summary)
	if ev.Body != "" {
		vevent.Props.SetText(ical.PropDescription, ev.Body)
	}
	if ev.Location != "" {
		vevent.Props.SetText(ical.PropLocation, ev.Location)
	}

	if ev.IsAllDay {
		setDate(vevent.Props, ical.PropDateTimeStart, ev.StartUTC)
		setDate(vevent.Props, ical.PropDateTimeEnd, ev.EndUTC)
	} else {
		vevent.Props.SetDateTime(ical.PropDateTimeStart, ev.StartUTC.UTC())
		vevent.Props.SetDateTime(ical.PropDateTimeEnd, ev.EndUTC.UTC())

		vevent.Children = append(vevent.Children, newDisplayAlarm("-PT10M"))
		if opts.IncludeSecondReminder {
			vevent.Children = append(vevent.Children, newDisplayAlarm("-PT3M"))
		}
	}

	cal.Children = append(cal.Children, vevent.Component)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("ics: failed to encode event %q: %w", uid, err)
	}
	return buf.String(), nil
}

func setDate(props ical.Props, name string, t time.Time) {
	p := ical.NewProp(name)
	p.SetValueType(ical.ValueDate)
	p.Value = t.UTC().Format(dateLayout)
	props.Set(p)
}

func newDisplayAlarm(trigger string) *ical.Component {
	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	alarm.Props.SetText(ical.PropDescription, "Reminder")

	p := ical.NewProp(ical.PropTrigger)
	p.Value = trigger
	alarm.Props.Set(p)

	return alarm
}

// Decoded is the subset of a fetched document the reconciler compares.
type Decoded struct {
	UID      string
	Summary  string
	StartUTC time.Time
	EndUTC   time.Time
	AllDay   bool
	Alarms   int
}

// Decode parses a single-event calendar document.
func Decode(body string) (*Decoded, error) {
	cal, err := ical.NewDecoder(strings.NewReader(body)).Decode()
	if err != nil {
		return nil, fmt.Errorf("ics: failed to parse calendar document: %w", err)
	}

	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}

		d := &Decoded{}
		if p := child.Props.Get(ical.PropUID); p != nil {
			d.UID = p.Value
		}
		if p := child.Props.Get(ical.PropSummary); p != nil {
			d.Summary = p.Value
		}

		start := child.Props.Get(ical.PropDateTimeStart)
		end := child.Props.Get(ical.PropDateTimeEnd)
		if start == nil || end == nil {
			return nil, fmt.Errorf("ics: event %q is missing start or end", d.UID)
		}

		d.AllDay = start.ValueType() == ical.ValueDate
		if d.StartUTC, err = start.DateTime(time.UTC); err != nil {
			return nil, fmt.Errorf("ics: bad DTSTART in event %q: %w", d.UID, err)
		}
		if d.EndUTC, err = end.DateTime(time.UTC); err != nil {
			return nil, fmt.Errorf("ics: bad DTEND in event %q: %w", d.UID, err)
		}

		for _, c := range child.Children {
			if c.Name == ical.CompAlarm {
				d.Alarms++
			}
		}

		return d, nil
	}

	return nil, fmt.Errorf("ics: document contains no VEVENT")
}
