package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tazhate/remindbot/internal/domain"
)

// User-facing errors; the bot shows their text as is.
var (
	ErrNotRegistered    = errors.New("бот еще не зарегистрирован в этом чате (/start)")
	ErrArgCount         = errors.New("неверное количество аргументов")
	ErrBadDate          = errors.New("неверный формат даты")
	ErrBadTime          = errors.New("неверный формат времени")
	ErrBadRepeat        = errors.New("неверный формат повтора")
	ErrDescriptionLong  = fmt.Errorf("описание должно быть не длиннее %d символов", domain.MaxDescriptionLength)
	ErrAlreadyPassed    = errors.New("напоминание уже прошло и не повторяется")
	ErrReminderNotFound = errors.New("напоминания не существует")
	ErrBadID            = errors.New("неверный формат id")
	ErrBadPage          = errors.New("неверный формат листов")
	ErrBadRange         = errors.New("неверный период, используйте w, cw, m или cm")
)

// Clock returns the current wall-clock time in the configured zone.
type Clock func() time.Time

// NewClock returns a Clock in loc truncated to seconds.
func NewClock(loc *time.Location) Clock {
	return func() time.Time {
		return time.Now().In(loc).Truncate(time.Second)
	}
}

func isDateSep(r rune) bool { return r == '.' || r == '/' || r == '\\' }

func isTimeSep(r rune) bool { return isDateSep(r) || r == ':' }

// ParseDate accepts D.M.Y, D/M/Y and D\M\Y; years below 100 get 2000 added.
func ParseDate(s string) (domain.Date, error) {
	parts := strings.FieldsFunc(s, isDateSep)
	if len(parts) != 3 {
		return domain.Date{}, ErrBadDate
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return domain.Date{}, ErrBadDate
		}
		nums[i] = n
	}
	d := domain.Date{Year: nums[2], Month: time.Month(nums[1]), Day: nums[0]}
	if d.Year >= 0 && d.Year < 100 {
		d.Year += 2000
	}
	if !d.Valid() {
		return domain.Date{}, ErrBadDate
	}
	return d, nil
}

// ParseClock accepts H:M with any of : . / \ as separator.
func ParseClock(s string) (domain.Clock, error) {
	parts := strings.FieldsFunc(s, isTimeSep)
	if len(parts) != 2 {
		return domain.Clock{}, ErrBadTime
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return domain.Clock{}, fmt.Errorf("%w: час %s", ErrBadTime, parts[0])
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return domain.Clock{}, fmt.Errorf("%w: минута %s", ErrBadTime, parts[1])
	}
	return domain.Clock{Hour: hour, Minute: minute}, nil
}

// ParseAddArgs parses "date time repeat description..." as typed after /add.
// An unknown repeat token means no repeat.
func ParseAddArgs(args string) (domain.Reminder, error) {
	fields := strings.Fields(args)
	if len(fields) < 4 {
		return domain.Reminder{}, ErrArgCount
	}

	date, err := ParseDate(fields[0])
	if err != nil {
		return domain.Reminder{}, err
	}
	clock, err := ParseClock(fields[1])
	if err != nil {
		return domain.Reminder{}, err
	}
	rule, _, err := domain.ParseRecurrence(fields[2])
	if err != nil {
		return domain.Reminder{}, fmt.Errorf("%w: %s", ErrBadRepeat, fields[2])
	}

	descr := strings.Join(fields[3:], " ")
	if utf8.RuneCountInString(descr) > domain.MaxDescriptionLength {
		return domain.Reminder{}, ErrDescriptionLong
	}

	r := domain.Reminder{
		Description: descr,
		Enabled:     true,
		Date:        date,
		Clock:       clock,
		Repeat:      rule,
	}
	return r, r.Validate()
}

// ParseID parses a reminder id argument.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id < 1 {
		return 0, ErrBadID
	}
	return id, nil
}

// ParsePage parses an optional 1-based page argument.
func ParsePage(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(s)
	if err != nil {
		return 0, ErrBadPage
	}
	if page < 1 {
		page = 1
	}
	return page, nil
}

// InfoRange returns the end of the /info window starting at now:
// w is the next 7 days, cw the rest of this week, m the next 31 days and
// cm the rest of this month.
func InfoRange(now time.Time, arg string) (time.Time, error) {
	y, m, d := now.Date()
	loc := now.Location()
	switch strings.TrimSpace(arg) {
	case "", "w":
		return now.AddDate(0, 0, 7), nil
	case "cw":
		// weeks start on Monday
		left := 7 - (int(now.Weekday())+6)%7
		return time.Date(y, m, d+left, 0, 0, 0, 0, loc), nil
	case "m":
		return now.AddDate(0, 0, 31), nil
	case "cm":
		return time.Date(y, m+1, 1, 0, 0, 0, 0, loc), nil
	default:
		return time.Time{}, ErrBadRange
	}
}
