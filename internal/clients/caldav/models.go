package caldav

import (
	"bytes"
	"fmt"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

const productID = "-//RemindBot//CalDAV//RU"

// Event is one reminder as a calendar event.
type Event struct {
	UID         string
	Summary     string
	Description string
	// Start carries the wall-clock zone; it is written with a TZID.
	Start time.Time
	// RRule is nil for one-off reminders.
	RRule *rrule.ROption
	// Alarm adds a display alarm at the start time.
	Alarm bool
}

// NewCalendar builds a VCALENDAR holding the given events.
func NewCalendar(stamp time.Time, events ...Event) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, ev := range events {
		cal.Children = append(cal.Children, eventComponent(stamp, ev))
	}
	return cal
}

func eventComponent(stamp time.Time, ev Event) *ical.Component {
	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, ev.UID)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	vevent.Props.SetText(ical.PropSummary, ev.Summary)
	if ev.Description != "" {
		vevent.Props.SetText(ical.PropDescription, ev.Description)
	}
	vevent.Props.SetDateTime(ical.PropDateTimeStart, ev.Start)
	if ev.RRule != nil {
		vevent.Props.SetRecurrenceRule(ev.RRule)
	}

	if ev.Alarm {
		alarm := ical.NewComponent(ical.CompAlarm)
		alarm.Props.SetText(ical.PropAction, "DISPLAY")
		alarm.Props.SetText(ical.PropDescription, ev.Summary)
		trigger := ical.NewProp(ical.PropTrigger)
		trigger.Value = "PT0M"
		alarm.Props.Set(trigger)
		vevent.Children = append(vevent.Children, alarm)
	}
	return vevent.Component
}

// Encode serialises a calendar to iCalendar text.
func Encode(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}
