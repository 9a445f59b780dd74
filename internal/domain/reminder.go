package domain

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

const MaxDescriptionLength = 200

var (
	ErrInvalidDate        = errors.New("invalid calendar date")
	ErrInvalidClock       = errors.New("invalid time of day")
	ErrDescriptionTooLong = errors.New("description is too long")
)

// Date is a calendar date without a zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// Valid reports whether the date exists in the proleptic Gregorian calendar.
func (d Date) Valid() bool {
	if d.Month < time.January || d.Month > time.December || d.Day < 1 {
		return false
	}
	return d.Day <= daysIn(d.Year, d.Month)
}

func (d Date) String() string {
	return fmt.Sprintf("%02d/%02d/%d", d.Day, int(d.Month), d.Year)
}

// AddDays normalises through time.Date, which is exact for whole days in UTC.
func (d Date) AddDays(n int) Date {
	t := time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC)
	return DateOf(t)
}

// AddMonths moves by n months, clamping the day to the target month.
func (d Date) AddMonths(n int) Date {
	idx := d.Year*12 + int(d.Month) - 1 + n
	out := Date{Year: idx / 12, Month: time.Month(idx%12 + 1), Day: d.Day}
	if idx < 0 {
		return d
	}
	if last := daysIn(out.Year, out.Month); out.Day > last {
		out.Day = last
	}
	return out
}

// DateOf returns the wall-clock date of t in its own location.
func DateOf(t time.Time) Date {
	y, m, day := t.Date()
	return Date{Year: y, Month: m, Day: day}
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Clock is a time of day at minute resolution.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) Valid() bool {
	return c.Hour >= 0 && c.Hour <= 23 && c.Minute >= 0 && c.Minute <= 59
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Add shifts the clock by minutes, wrapping around midnight.
func (c Clock) Add(minutes int) Clock {
	const day = 24 * 60
	m := ((c.Hour*60+c.Minute+minutes)%day + day) % day
	return Clock{Hour: m / 60, Minute: m % 60}
}

// ClockOf truncates t to the minute.
func ClockOf(t time.Time) Clock {
	return Clock{Hour: t.Hour(), Minute: t.Minute()}
}

// Reminder is a user reminder anchored at a wall-clock date and time.
// The owning chat travels alongside it and is not part of the value.
type Reminder struct {
	ID          int64
	Description string
	Enabled     bool
	Date        Date
	Clock       Clock
	Repeat      Recurrence
}

func (r Reminder) Repeats() bool { return r.Repeat.Repeats() }

// Validate reports the first field the scheduling code cannot handle.
func (r Reminder) Validate() error {
	if !r.Date.Valid() {
		return fmt.Errorf("%s: %w", r.Date, ErrInvalidDate)
	}
	if !r.Clock.Valid() {
		return fmt.Errorf("%s: %w", r.Clock, ErrInvalidClock)
	}
	if utf8.RuneCountInString(r.Description) > MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	if r.Repeat.Kind() == RepeatWeekly && r.Repeat.Weekdays().Empty() {
		return ErrEmptyWeekdays
	}
	return nil
}

// Anchor returns the literal anchor date and time in loc.
func (r Reminder) Anchor(loc *time.Location) time.Time {
	return r.at(r.Date, loc)
}

func (r Reminder) at(d Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, r.Clock.Hour, r.Clock.Minute, 0, 0, loc)
}

// NextFireTime returns the next instant the reminder is due relative to ref,
// interpreted in ref's location. ok is false for a disabled reminder.
//
// Repeating reminders always yield an instant strictly after ref. A
// non-repeating reminder yields its anchor, which may be at or before ref;
// the caller decides whether it is still schedulable.
func (r Reminder) NextFireTime(ref time.Time) (next time.Time, ok bool) {
	if !r.Enabled {
		return time.Time{}, false
	}

	loc := ref.Location()
	ref = ref.Truncate(time.Second)
	anchor := r.Anchor(loc)

	switch r.Repeat.Kind() {
	case RepeatYearly:
		return r.nextByMonths(anchor, ref, 12), true
	case RepeatMonthly:
		return r.nextByMonths(anchor, ref, r.Repeat.Every()), true
	case RepeatDaily:
		return r.nextByDays(anchor, ref, r.Repeat.Every()), true
	case RepeatWeekly:
		return r.nextWeekly(anchor, ref), true
	default:
		return anchor, true
	}
}

// nextByMonths starts from the anchor's month and day in the reference year
// and steps forward by step months, skipping months where the anchor day
// does not exist (31st, Feb 29).
func (r Reminder) nextByMonths(anchor, ref time.Time, step int) time.Time {
	if anchor.After(ref) {
		return anchor
	}

	idx := ref.Year()*12 + int(r.Date.Month) - 1
	for {
		d := Date{Year: idx / 12, Month: time.Month(idx%12 + 1), Day: r.Date.Day}
		if d.Valid() {
			if t := r.at(d, ref.Location()); t.After(ref) {
				return t
			}
		}
		idx += step
	}
}

func (r Reminder) nextByDays(anchor, ref time.Time, step int) time.Time {
	if anchor.After(ref) {
		return anchor
	}

	// whole days between the anchor date and the reference date
	refDate := DateOf(ref)
	a := time.Date(r.Date.Year, r.Date.Month, r.Date.Day, 0, 0, 0, 0, time.UTC)
	b := time.Date(refDate.Year, refDate.Month, refDate.Day, 0, 0, 0, 0, time.UTC)
	days := int(b.Sub(a).Hours() / 24)

	d := r.Date.AddDays(days / step * step)
	t := r.at(d, ref.Location())
	for !t.After(ref) {
		d = d.AddDays(step)
		t = r.at(d, ref.Location())
	}
	return t
}

func (r Reminder) nextWeekly(anchor, ref time.Time) time.Time {
	days := r.Repeat.Weekdays()
	if days.Empty() {
		// unreachable for validated reminders; never loop forever
		return time.Time{}
	}

	d := r.Date
	if anchor.Before(ref) {
		d = DateOf(ref)
	}
	for {
		t := r.at(d, ref.Location())
		if days.Has(t.Weekday()) && t.After(ref) {
			return t
		}
		d = d.AddDays(1)
	}
}

// Pretty renders "DD/MM/YYYY HH:MM description" followed by the repeat line.
func (r Reminder) Pretty() string {
	s := fmt.Sprintf("%s %s %s", r.Date, r.Clock, r.Description)
	if desc := r.Repeat.Describe(); desc != "" {
		s += "\n" + desc
	}
	return s
}

// CommandString renders the reminder in /add argument order.
func (r Reminder) CommandString() string {
	return fmt.Sprintf("%s %s %s %s", r.Date, r.Clock, r.Repeat, r.Description)
}
