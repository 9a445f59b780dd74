package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazhate/remindbot/internal/domain"
)

func TestDialogKey(t *testing.T) {
	assert.Equal(t, "-100123_42", DialogKey(-100123, 42))
}

func TestDialogFlow(t *testing.T) {
	f := newFixture(t)
	f.register(t, 1)

	now := testNow
	dialogs := NewDialogService(f.store, func() time.Time { return now }, 0, zerolog.Nop())

	date, err := dialogs.PickDate(1, 7, "Вынести мусор", "")
	require.NoError(t, err)
	assert.Equal(t, domain.Date{Year: 2024, Month: time.March, Day: 10}, date)

	date, err = dialogs.PickDate(1, 7, "", "11/3/2024")
	require.NoError(t, err)
	assert.Equal(t, 11, date.Day)

	// reopening the step keeps the choice
	date, err = dialogs.PickDate(1, 7, "", "")
	require.NoError(t, err)
	assert.Equal(t, 11, date.Day)

	clock, err := dialogs.PickTime(1, 7, "")
	require.NoError(t, err)
	assert.Equal(t, domain.Clock{Hour: 12, Minute: 0}, clock)

	clock, err = dialogs.PickTime(1, 7, "20:15")
	require.NoError(t, err)
	assert.Equal(t, domain.Clock{Hour: 20, Minute: 15}, clock)

	rule, err := dialogs.PickRepeat(1, 7, "")
	require.NoError(t, err)
	assert.False(t, rule.Repeats())

	rule, err = dialogs.PickRepeat(1, 7, "w135")
	require.NoError(t, err)
	assert.Equal(t, "w135", rule.String())

	args, err := dialogs.Finish(1, 7)
	require.NoError(t, err)
	assert.Equal(t, "11/03/2024 20:15 w135 Вынести мусор", args)

	_, next, err := f.svc.Add(context.Background(), 1, args)
	require.NoError(t, err)
	assert.True(t, time.Date(2024, time.March, 11, 20, 15, 0, 0, msk).Equal(next))

	// the draft outlives Finish until the menu is closed
	again, err := dialogs.Finish(1, 7)
	require.NoError(t, err)
	assert.Equal(t, args, again)

	require.NoError(t, dialogs.Cancel(1, 7))
	_, err = dialogs.Finish(1, 7)
	assert.ErrorIs(t, err, ErrDialogExpired)
}

func TestDialogRetryAfterRejectedAdd(t *testing.T) {
	f := newFixture(t)
	f.register(t, 1)
	dialogs := NewDialogService(f.store, fixedClock(testNow), 0, zerolog.Nop())

	_, err := dialogs.PickDate(1, 3, "Зарядка", "")
	require.NoError(t, err)
	_, err = dialogs.PickTime(1, 3, "9:00")
	require.NoError(t, err)

	args, err := dialogs.Finish(1, 3)
	require.NoError(t, err)
	_, _, err = f.svc.Add(context.Background(), 1, args)
	require.ErrorIs(t, err, ErrAlreadyPassed)

	// the menu is still there to pick a later time
	_, err = dialogs.PickTime(1, 3, "18:30")
	require.NoError(t, err)
	args, err = dialogs.Finish(1, 3)
	require.NoError(t, err)
	assert.Equal(t, "10/03/2024 18:30 n Зарядка", args)

	_, _, err = f.svc.Add(context.Background(), 1, args)
	require.NoError(t, err)
}

func TestDialogInvalidRepeatMeansNone(t *testing.T) {
	f := newFixture(t)
	dialogs := NewDialogService(f.store, fixedClock(testNow), 0, zerolog.Nop())

	_, err := dialogs.PickDate(1, 1, "text", "")
	require.NoError(t, err)

	for _, token := range []string{"d0", "m-9", "w"} {
		rule, err := dialogs.PickRepeat(1, 1, token)
		require.NoError(t, err, token)
		assert.False(t, rule.Repeats(), token)
	}
}

func TestDialogExpiry(t *testing.T) {
	f := newFixture(t)

	now := testNow
	dialogs := NewDialogService(f.store, func() time.Time { return now }, time.Minute, zerolog.Nop())

	_, err := dialogs.PickTime(1, 1, "10:00")
	assert.ErrorIs(t, err, ErrDialogExpired, "time step needs a draft")

	_, err = dialogs.PickDate(1, 1, "text", "")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = dialogs.PickTime(1, 1, "10:00")
	assert.ErrorIs(t, err, ErrDialogExpired)

	n, err := dialogs.Vacuum()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDialogCancel(t *testing.T) {
	f := newFixture(t)
	dialogs := NewDialogService(f.store, fixedClock(testNow), 0, zerolog.Nop())

	_, err := dialogs.PickDate(1, 1, "text", "")
	require.NoError(t, err)
	require.NoError(t, dialogs.Cancel(1, 1))

	_, err = dialogs.PickRepeat(1, 1, "y")
	assert.ErrorIs(t, err, ErrDialogExpired)
}
