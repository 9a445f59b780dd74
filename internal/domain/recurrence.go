package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidCount   = errors.New("repeat count must be a positive number")
	ErrInvalidWeekday = errors.New("weekday must be a digit from 1 to 7")
	ErrEmptyWeekdays  = errors.New("weekly repeat needs at least one weekday")
)

type RepeatKind uint8

const (
	RepeatNone RepeatKind = iota
	RepeatYearly
	RepeatMonthly
	RepeatDaily
	RepeatWeekly
)

// Recurrence describes how a reminder repeats. The zero value never repeats.
// Values are comparable with ==.
type Recurrence struct {
	kind  RepeatKind
	every int
	days  WeekdaySet
}

func NoRepeat() Recurrence { return Recurrence{} }

func Yearly() Recurrence { return Recurrence{kind: RepeatYearly} }

func EveryNMonths(n int) (Recurrence, error) {
	if n < 1 {
		return Recurrence{}, ErrInvalidCount
	}
	return Recurrence{kind: RepeatMonthly, every: n}, nil
}

func EveryNDays(n int) (Recurrence, error) {
	if n < 1 {
		return Recurrence{}, ErrInvalidCount
	}
	return Recurrence{kind: RepeatDaily, every: n}, nil
}

func WeeklyOn(days WeekdaySet) (Recurrence, error) {
	if days.Empty() {
		return Recurrence{}, ErrEmptyWeekdays
	}
	return Recurrence{kind: RepeatWeekly, days: days}, nil
}

func (r Recurrence) Kind() RepeatKind { return r.kind }

// Every is the month or day interval; zero for other kinds.
func (r Recurrence) Every() int { return r.every }

func (r Recurrence) Weekdays() WeekdaySet { return r.days }

func (r Recurrence) Repeats() bool { return r.kind != RepeatNone }

// ParseRecurrence parses the compact token used in /add and in storage:
// n, y, m[N], d[N], w<1-7...>. A token with an unknown leading character
// parses as NoRepeat and reports fallback.
func ParseRecurrence(token string) (rule Recurrence, fallback bool, err error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return NoRepeat(), false, nil
	}

	rest := token[1:]
	switch token[0] {
	case 'n':
		return NoRepeat(), false, nil
	case 'y':
		return Yearly(), false, nil
	case 'm', 'd':
		n := 1
		if rest != "" {
			n, err = strconv.Atoi(rest)
			if err != nil {
				return Recurrence{}, false, fmt.Errorf("parse %q: %w", token, ErrInvalidCount)
			}
		}
		if token[0] == 'm' {
			rule, err = EveryNMonths(n)
		} else {
			rule, err = EveryNDays(n)
		}
		if err != nil {
			return Recurrence{}, false, fmt.Errorf("parse %q: %w", token, err)
		}
		return rule, false, nil
	case 'w':
		var days WeekdaySet
		for _, c := range rest {
			if c < '1' || c > '7' {
				return Recurrence{}, false, fmt.Errorf("parse %q: %w", token, ErrInvalidWeekday)
			}
			days[c-'1'] = true
		}
		rule, err = WeeklyOn(days)
		if err != nil {
			return Recurrence{}, false, fmt.Errorf("parse %q: %w", token, err)
		}
		return rule, false, nil
	default:
		return NoRepeat(), true, nil
	}
}

// String renders the canonical token; weekdays come out in ascending order.
func (r Recurrence) String() string {
	switch r.kind {
	case RepeatYearly:
		return "y"
	case RepeatMonthly:
		return "m" + strconv.Itoa(r.every)
	case RepeatDaily:
		return "d" + strconv.Itoa(r.every)
	case RepeatWeekly:
		var sb strings.Builder
		sb.WriteByte('w')
		for i, on := range r.days {
			if on {
				sb.WriteByte(byte('1' + i))
			}
		}
		return sb.String()
	default:
		return "n"
	}
}

// Describe returns the Russian description shown under a reminder,
// e.g. "Повтор каждые 3 дня.". Empty for NoRepeat.
func (r Recurrence) Describe() string {
	switch r.kind {
	case RepeatYearly:
		return "Повтор ежегодно."
	case RepeatMonthly:
		if r.every == 1 {
			return "Повтор ежемесячно."
		}
		return fmt.Sprintf("Повтор каждые %d %s.", r.every, plural(r.every, "месяц", "месяца", "месяцев"))
	case RepeatDaily:
		if r.every == 1 {
			return "Повтор ежедневно."
		}
		return fmt.Sprintf("Повтор каждые %d %s.", r.every, plural(r.every, "день", "дня", "дней"))
	case RepeatWeekly:
		return "Повтор по: " + r.days.ShortNames() + "."
	default:
		return ""
	}
}

func plural(n int, one, few, many string) string {
	n %= 100
	if n >= 11 && n <= 14 {
		return many
	}
	switch n % 10 {
	case 1:
		return one
	case 2, 3, 4:
		return few
	default:
		return many
	}
}

// ISOWeekday converts 1 (Monday) .. 7 (Sunday) to time.Weekday.
func ISOWeekday(n int) time.Weekday {
	return weekdayAt(n - 1)
}
