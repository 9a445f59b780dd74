package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRule(t *testing.T) func(Recurrence, error) Recurrence {
	return func(r Recurrence, err error) Recurrence {
		t.Helper()
		require.NoError(t, err)
		return r
	}
}

func TestParseRecurrence(t *testing.T) {
	tests := []struct {
		token    string
		want     string
		fallback bool
	}{
		{token: "", want: "n"},
		{token: "n", want: "n"},
		{token: "y", want: "y"},
		{token: "y3", want: "y"},
		{token: "m", want: "m1"},
		{token: "m6", want: "m6"},
		{token: "d", want: "d1"},
		{token: "d14", want: "d14"},
		{token: "w12345", want: "w12345"},
		{token: "w51", want: "w15"},
		{token: "w7717", want: "w17"},
		// lenient: an unknown leading character means "no repeat"
		{token: "x12", want: "n", fallback: true},
		{token: "Y", want: "n", fallback: true},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, fallback, err := ParseRecurrence(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
			assert.Equal(t, tt.fallback, fallback)
		})
	}
}

func TestParseRecurrenceErrors(t *testing.T) {
	tests := []struct {
		token string
		err   error
	}{
		{token: "m0", err: ErrInvalidCount},
		{token: "d-2", err: ErrInvalidCount},
		{token: "dx", err: ErrInvalidCount},
		{token: "w", err: ErrEmptyWeekdays},
		{token: "w8", err: ErrInvalidWeekday},
		{token: "w10", err: ErrInvalidWeekday},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			_, _, err := ParseRecurrence(tt.token)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestRecurrenceRoundTrip(t *testing.T) {
	rules := []Recurrence{
		NoRepeat(),
		Yearly(),
		mustRule(t)(EveryNMonths(1)),
		mustRule(t)(EveryNMonths(18)),
		mustRule(t)(EveryNDays(1)),
		mustRule(t)(EveryNDays(365)),
	}
	for mask := int64(1); mask < 1<<7; mask++ {
		rules = append(rules, mustRule(t)(WeeklyOn(WeekdaySetFromMask(mask))))
	}

	for _, r := range rules {
		got, fallback, err := ParseRecurrence(r.String())
		require.NoError(t, err, r.String())
		assert.False(t, fallback)
		assert.Equal(t, r, got, r.String())
	}
}

func TestWeekdaySet(t *testing.T) {
	s := NewWeekdaySet(time.Sunday, time.Monday)
	assert.True(t, s.Has(time.Monday))
	assert.True(t, s.Has(time.Sunday))
	assert.False(t, s.Has(time.Friday))
	assert.Equal(t, []time.Weekday{time.Monday, time.Sunday}, s.Days())
	assert.Equal(t, "Пн, Вс", s.ShortNames())

	s = s.Toggle(time.Monday).Without(time.Sunday)
	assert.True(t, s.Empty())

	assert.Equal(t, NewWeekdaySet(time.Monday, time.Friday), WeekdaySetFromMask(0b10001))
	assert.Equal(t, time.Sunday, ISOWeekday(7))
	assert.Equal(t, time.Wednesday, ISOWeekday(3))
}

func TestRecurrenceDescribe(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"n", ""},
		{"y", "Повтор ежегодно."},
		{"m1", "Повтор ежемесячно."},
		{"m3", "Повтор каждые 3 месяца."},
		{"m11", "Повтор каждые 11 месяцев."},
		{"d1", "Повтор ежедневно."},
		{"d2", "Повтор каждые 2 дня."},
		{"d21", "Повтор каждые 21 день."},
		{"d5", "Повтор каждые 5 дней."},
		{"w135", "Повтор по: Пн, Ср, Пт."},
	}

	for _, tt := range tests {
		r, _, err := ParseRecurrence(tt.token)
		require.NoError(t, err)
		assert.Equal(t, tt.want, r.Describe(), tt.token)
	}
}
