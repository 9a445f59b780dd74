package domain

import (
	"strings"
	"time"
)

// WeekdaySet is a set of days of the week, indexed Monday first.
type WeekdaySet [7]bool

// isoIndex maps time.Weekday (Sunday = 0) to a Monday-first index.
func isoIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// weekdayAt is the inverse of isoIndex.
func weekdayAt(i int) time.Weekday {
	return time.Weekday((i + 1) % 7)
}

// NewWeekdaySet builds a set from the given days.
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s = s.With(d)
	}
	return s
}

// WeekdaySetFromMask decodes the historical bit layout (bit 0 = Monday).
func WeekdaySetFromMask(mask int64) WeekdaySet {
	var s WeekdaySet
	for i := range s {
		s[i] = mask&(1<<i) != 0
	}
	return s
}

func (s WeekdaySet) Has(d time.Weekday) bool {
	return s[isoIndex(d)]
}

func (s WeekdaySet) With(d time.Weekday) WeekdaySet {
	s[isoIndex(d)] = true
	return s
}

func (s WeekdaySet) Without(d time.Weekday) WeekdaySet {
	s[isoIndex(d)] = false
	return s
}

// Toggle flips membership of d.
func (s WeekdaySet) Toggle(d time.Weekday) WeekdaySet {
	s[isoIndex(d)] = !s[isoIndex(d)]
	return s
}

func (s WeekdaySet) Empty() bool {
	return s == WeekdaySet{}
}

// Days returns the members in Monday..Sunday order.
func (s WeekdaySet) Days() []time.Weekday {
	var days []time.Weekday
	for i, on := range s {
		if on {
			days = append(days, weekdayAt(i))
		}
	}
	return days
}

// WeekdayNameShort returns short Russian name for the weekday
func WeekdayNameShort(d time.Weekday) string {
	names := []string{"Вс", "Пн", "Вт", "Ср", "Чт", "Пт", "Сб"}
	if d >= 0 && int(d) < len(names) {
		return names[d]
	}
	return ""
}

// ShortNames renders the set as "Пн, Ср, Пт".
func (s WeekdaySet) ShortNames() string {
	var parts []string
	for _, d := range s.Days() {
		parts = append(parts, WeekdayNameShort(d))
	}
	return strings.Join(parts, ", ")
}
