package domain

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"
)

func moscow(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	return loc
}

func newReminder(t *testing.T, date string, clock string, token string) Reminder {
	t.Helper()
	var r Reminder
	var month int
	_, err := fmt.Sscanf(date, "%d-%d-%d", &r.Date.Year, &month, &r.Date.Day)
	require.NoError(t, err)
	r.Date.Month = time.Month(month)
	_, err = fmt.Sscanf(clock, "%d:%d", &r.Clock.Hour, &r.Clock.Minute)
	require.NoError(t, err)
	r.Repeat, _, err = ParseRecurrence(token)
	require.NoError(t, err)
	r.Enabled = true
	r.Description = "test"
	require.NoError(t, r.Validate())
	return r
}

func at(loc *time.Location, y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, loc)
}

func TestNextFireTimeExamples(t *testing.T) {
	loc := moscow(t)

	tests := []struct {
		name   string
		date   string
		clock  string
		token  string
		ref    time.Time
		expect time.Time
	}{
		{
			name: "yearly leap day skips to next leap year",
			date: "2024-02-29", clock: "10:00", token: "y",
			ref:    at(loc, 2025, time.January, 1, 0, 0),
			expect: at(loc, 2028, time.February, 29, 10, 0),
		},
		{
			name: "yearly anchor still ahead",
			date: "2026-05-09", clock: "12:00", token: "y",
			ref:    at(loc, 2025, time.January, 1, 0, 0),
			expect: at(loc, 2026, time.May, 9, 12, 0),
		},
		{
			name: "yearly later this year",
			date: "2020-12-25", clock: "08:30", token: "y",
			ref:    at(loc, 2025, time.March, 1, 0, 0),
			expect: at(loc, 2025, time.December, 25, 8, 30),
		},
		{
			name: "monthly day 31 skips february",
			date: "2024-01-31", clock: "09:00", token: "m1",
			ref:    at(loc, 2024, time.January, 31, 9, 1),
			expect: at(loc, 2024, time.March, 31, 9, 0),
		},
		{
			name: "monthly restarts from the anchor month each year",
			date: "2023-01-15", clock: "09:00", token: "m5",
			ref:    at(loc, 2024, time.January, 20, 0, 0),
			expect: at(loc, 2024, time.June, 15, 9, 0),
		},
		{
			name: "monthly step not dividing a year",
			date: "2024-01-15", clock: "09:00", token: "m5",
			ref:    at(loc, 2025, time.February, 1, 0, 0),
			expect: at(loc, 2025, time.June, 15, 9, 0),
		},
		{
			name: "monthly before the anchor month in reference year",
			date: "2024-10-15", clock: "09:00", token: "m5",
			ref:    at(loc, 2025, time.March, 1, 0, 0),
			expect: at(loc, 2025, time.October, 15, 9, 0),
		},
		{
			name: "weekly picks friday after wednesday",
			date: "2024-01-03", clock: "09:00", token: "w15",
			ref:    at(loc, 2024, time.January, 3, 10, 0),
			expect: at(loc, 2024, time.January, 5, 9, 0),
		},
		{
			name: "weekly same day later",
			date: "2024-01-01", clock: "18:00", token: "w3",
			ref:    at(loc, 2024, time.January, 10, 17, 59),
			expect: at(loc, 2024, time.January, 10, 18, 0),
		},
		{
			name: "weekly anchor in future is a lower bound",
			date: "2024-02-01", clock: "07:00", token: "w1",
			ref:    at(loc, 2024, time.January, 1, 0, 0),
			expect: at(loc, 2024, time.February, 5, 7, 0),
		},
		{
			name: "every three days after first fire",
			date: "2024-01-01", clock: "08:00", token: "d3",
			ref:    at(loc, 2024, time.January, 1, 9, 0),
			expect: at(loc, 2024, time.January, 4, 8, 0),
		},
		{
			name: "every n days far from anchor",
			date: "2024-01-01", clock: "08:00", token: "d7",
			ref:    at(loc, 2024, time.December, 31, 12, 0),
			expect: at(loc, 2025, time.January, 6, 8, 0),
		},
		{
			name: "daily at the exact fire time moves on",
			date: "2024-01-01", clock: "08:00", token: "d1",
			ref:    at(loc, 2024, time.March, 1, 8, 0),
			expect: at(loc, 2024, time.March, 2, 8, 0),
		},
		{
			name: "no repeat returns the anchor even when passed",
			date: "2024-01-01", clock: "08:00", token: "n",
			ref:    at(loc, 2024, time.March, 1, 8, 0),
			expect: at(loc, 2024, time.January, 1, 8, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newReminder(t, tt.date, tt.clock, tt.token)
			got, ok := r.NextFireTime(tt.ref)
			require.True(t, ok)
			assert.True(t, tt.expect.Equal(got), "got %s, want %s", got, tt.expect)
		})
	}
}

func TestNextFireTimeDisabled(t *testing.T) {
	loc := moscow(t)
	for _, token := range []string{"n", "y", "m1", "d1", "w1234567"} {
		r := newReminder(t, "2024-01-01", "08:00", token)
		r.Enabled = false
		for _, ref := range []time.Time{
			at(loc, 2000, time.January, 1, 0, 0),
			at(loc, 2024, time.January, 1, 8, 0),
			at(loc, 2099, time.January, 1, 0, 0),
		} {
			_, ok := r.NextFireTime(ref)
			assert.False(t, ok, token)
		}
	}
}

func TestNextFireTimeAlwaysInFuture(t *testing.T) {
	loc := moscow(t)
	rnd := rand.New(rand.NewSource(42))
	tokens := []string{"y", "m1", "m2", "m7", "m12", "d1", "d3", "d10", "w1", "w67", "w135", "w1234567"}
	anchors := []string{"2024-01-31", "2024-02-29", "2023-06-15", "2024-12-31", "2025-03-01"}

	for _, token := range tokens {
		for _, date := range anchors {
			r := newReminder(t, date, "23:59", token)
			for i := 0; i < 200; i++ {
				ref := at(loc, 2022, time.January, 1, 0, 0).
					Add(time.Duration(rnd.Int63n(int64(6 * 365 * 24 * time.Hour))))
				got, ok := r.NextFireTime(ref)
				require.True(t, ok)
				require.True(t, got.After(ref), "%s %s ref=%s got=%s", token, date, ref, got)
				require.Equal(t, r.Clock, ClockOf(got))
			}
		}
	}
}

func toRRule(t *testing.T, r Reminder, loc *time.Location) *rrule.RRule {
	t.Helper()
	opt := rrule.ROption{Dtstart: r.Anchor(loc), Interval: 1}
	switch r.Repeat.Kind() {
	case RepeatYearly:
		opt.Freq = rrule.YEARLY
	case RepeatMonthly:
		opt.Freq = rrule.MONTHLY
		opt.Interval = r.Repeat.Every()
	case RepeatDaily:
		opt.Freq = rrule.DAILY
		opt.Interval = r.Repeat.Every()
	case RepeatWeekly:
		opt.Freq = rrule.WEEKLY
		wd := []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}
		for i, on := range r.Repeat.Weekdays() {
			if on {
				opt.Byweekday = append(opt.Byweekday, wd[i])
			}
		}
	}
	rr, err := rrule.NewRRule(opt)
	require.NoError(t, err)
	return rr
}

// The stepping rules agree with RFC 5545 expansion for every reference
// after the anchor. Monthly reminders restart from the anchor month each
// year, so for them only references inside the anchor's year are compared.
func TestNextFireTimeMatchesRRule(t *testing.T) {
	loc := moscow(t)
	rnd := rand.New(rand.NewSource(7))
	tokens := []string{"y", "m1", "m3", "m5", "d1", "d4", "w2", "w46", "w1234567"}
	anchors := []string{"2024-01-31", "2024-02-29", "2023-08-30", "2024-05-06"}

	for _, token := range tokens {
		for _, date := range anchors {
			r := newReminder(t, date, "06:45", token)
			rr := toRRule(t, r, loc)
			span := 4 * 365 * 24 * time.Hour
			if r.Repeat.Kind() == RepeatMonthly {
				span = time.Date(r.Date.Year+1, time.January, 1, 0, 0, 0, 0, loc).Sub(r.Anchor(loc))
			}
			for i := 0; i < 50; i++ {
				ref := r.Anchor(loc).Add(time.Duration(rnd.Int63n(int64(span))))
				got, _ := r.NextFireTime(ref)
				want := rr.After(ref, false)
				require.True(t, want.Equal(got), "%s %s ref=%s got=%s want=%s", token, date, ref, got, want)
			}
		}
	}
}

func TestReminderValidate(t *testing.T) {
	r := Reminder{Date: Date{2023, time.February, 29}, Clock: Clock{10, 0}}
	assert.ErrorIs(t, r.Validate(), ErrInvalidDate)

	r.Date = Date{2024, time.February, 29}
	assert.NoError(t, r.Validate())

	r.Clock = Clock{24, 0}
	assert.ErrorIs(t, r.Validate(), ErrInvalidClock)

	r.Clock = Clock{23, 59}
	r.Description = string(make([]rune, MaxDescriptionLength+1))
	assert.ErrorIs(t, r.Validate(), ErrDescriptionTooLong)
}

func TestReminderPretty(t *testing.T) {
	r := newReminder(t, "2024-01-03", "09:05", "w15")
	r.Description = "Обед"
	assert.Equal(t, "03/01/2024 09:05 Обед\nПовтор по: Пн, Пт.", r.Pretty())
	assert.Equal(t, "03/01/2024 09:05 w15 Обед", r.CommandString())
}

func TestDateAddMonths(t *testing.T) {
	d := Date{Year: 2024, Month: time.January, Day: 31}
	assert.Equal(t, Date{Year: 2024, Month: time.February, Day: 29}, d.AddMonths(1))
	assert.Equal(t, Date{Year: 2023, Month: time.July, Day: 31}, d.AddMonths(-6))
	assert.Equal(t, Date{Year: 2025, Month: time.February, Day: 28}, d.AddMonths(13))
	assert.Equal(t, Date{Year: 2024, Month: time.March, Day: 1}, Date{Year: 2024, Month: time.February, Day: 28}.AddDays(2))
}

func TestClockAdd(t *testing.T) {
	c := Clock{Hour: 23, Minute: 50}
	assert.Equal(t, Clock{Hour: 0, Minute: 5}, c.Add(15))
	assert.Equal(t, Clock{Hour: 17, Minute: 50}, c.Add(-6*60))
	assert.Equal(t, Clock{Hour: 23, Minute: 49}, Clock{}.Add(-11))
}
