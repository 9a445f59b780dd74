package timerqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazhate/remindbot/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recorder struct {
	mu   sync.Mutex
	got  []Delivery
	hook func(d Delivery) error
}

func (r *recorder) deliver(_ context.Context, d Delivery) error {
	r.mu.Lock()
	r.got = append(r.got, d)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		return hook(d)
	}
	return nil
}

func (r *recorder) deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.got...)
}

func (r *recorder) idsFor(chatID int64) []int64 {
	var ids []int64
	for _, d := range r.deliveries() {
		if d.ChatID == chatID {
			ids = append(ids, d.Reminder.ID)
		}
	}
	return ids
}

var base = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

func reminder(t *testing.T, id int64, fireAt time.Time, token string) domain.Reminder {
	t.Helper()
	rule, _, err := domain.ParseRecurrence(token)
	require.NoError(t, err)
	return domain.Reminder{
		ID:          id,
		Description: "r",
		Enabled:     true,
		Date:        domain.DateOf(fireAt),
		Clock:       domain.ClockOf(fireAt),
		Repeat:      rule,
	}
}

func newTestQueue(clock *fakeClock, rec *recorder) *Queue {
	return New(Config{Now: clock.Now, MaxWait: time.Hour, Workers: 2}, rec.deliver, zerolog.Nop())
}

func TestRunOnceDrainsBurst(t *testing.T) {
	clock := &fakeClock{now: base}
	rec := &recorder{}
	q := newTestQueue(clock, rec)

	// chat 1: three due at once, one later; chat 2: one due
	q.AddTimer(1, base.Add(time.Minute), reminder(t, 1, base.Add(time.Minute), "n"))
	q.AddTimer(1, base.Add(time.Minute), reminder(t, 2, base.Add(time.Minute), "n"))
	q.AddTimer(1, base, reminder(t, 3, base, "n"))
	q.AddTimer(1, base.Add(time.Hour), reminder(t, 4, base.Add(time.Hour), "n"))
	q.AddTimer(2, base.Add(30*time.Second), reminder(t, 5, base, "n"))

	clock.Set(base.Add(2 * time.Minute))
	deadline := q.RunOnce(context.Background())

	assert.Equal(t, []int64{3, 1, 2}, rec.idsFor(1))
	assert.Equal(t, []int64{5}, rec.idsFor(2))
	assert.Equal(t, 1, q.Len())
	assert.True(t, deadline.Equal(base.Add(time.Hour)), "deadline %s", deadline)
}

func TestRunOnceNothingDue(t *testing.T) {
	clock := &fakeClock{now: base}
	rec := &recorder{}
	q := newTestQueue(clock, rec)

	deadline := q.RunOnce(context.Background())
	assert.True(t, deadline.Equal(base.Add(time.Hour)))

	q.AddTimer(7, base.Add(time.Second), reminder(t, 1, base, "n"))
	deadline = q.RunOnce(context.Background())
	assert.Empty(t, rec.deliveries())
	assert.True(t, deadline.Equal(base.Add(time.Second)))
}

func TestRunOnceDueAtExactDeadline(t *testing.T) {
	clock := &fakeClock{now: base}
	rec := &recorder{}
	q := newTestQueue(clock, rec)

	q.AddTimer(1, base, reminder(t, 1, base, "n"))
	q.RunOnce(context.Background())
	assert.Equal(t, []int64{1}, rec.idsFor(1))
}

func TestRepeatingReminderIsRequeued(t *testing.T) {
	clock := &fakeClock{now: base}
	rec := &recorder{}
	q := newTestQueue(clock, rec)

	r := reminder(t, 1, base, "d1")
	q.AddTimer(1, base, r)
	q.RunOnce(context.Background())

	got := rec.deliveries()
	require.Len(t, got, 1)
	assert.True(t, got[0].HasNext)
	assert.True(t, got[0].Next.Equal(base.Add(24*time.Hour)))

	pending := q.Pending(1)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(1), pending[0].Reminder.ID)
	assert.True(t, pending[0].FireAt.Equal(base.Add(24*time.Hour)))
}

func TestOverdueRepeatingFiresOnce(t *testing.T) {
	clock := &fakeClock{now: base}
	rec := &recorder{}
	q := newTestQueue(clock, rec)

	q.AddTimer(1, base, reminder(t, 1, base, "d1"))
	// the process slept through three occurrences
	clock.Set(base.Add(72*time.Hour + time.Minute))
	q.RunOnce(context.Background())

	assert.Len(t, rec.deliveries(), 1)
	pending := q.Pending(1)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].FireAt.Equal(base.Add(96*time.Hour)))
}

func TestRemoveDuringDeliveryPreventsNextFire(t *testing.T) {
	clock := &fakeClock{now: base}
	rec := &recorder{}
	q := newTestQueue(clock, rec)

	var removed int
	rec.hook = func(d Delivery) error {
		removed = q.RemoveTimer(d.ChatID, d.Reminder.ID)
		return nil
	}

	q.AddTimer(1, base, reminder(t, 1, base, "w1234567"))
	q.RunOnce(context.Background())

	assert.Equal(t, 1, removed)
	assert.Empty(t, q.Pending(1))
	assert.Zero(t, q.Len())
}

func TestRemoveTimer(t *testing.T) {
	clock := &fakeClock{now: base}
	q := newTestQueue(clock, &recorder{})

	q.AddTimer(1, base.Add(time.Hour), reminder(t, 1, base, "n"))
	q.AddTimer(1, base.Add(2*time.Hour), reminder(t, 2, base, "n"))
	q.AddTimer(1, base.Add(3*time.Hour), reminder(t, 1, base, "n"))
	q.AddTimer(2, base.Add(time.Hour), reminder(t, 1, base, "n"))

	assert.Equal(t, 2, q.RemoveTimer(1, 1))
	assert.Equal(t, 0, q.RemoveTimer(1, 1))
	assert.Equal(t, 0, q.RemoveTimer(3, 1))

	pending := q.Pending(1)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(2), pending[0].Reminder.ID)
	assert.Len(t, q.Pending(2), 1)
}

func TestEqualFireTimesKeepInsertionOrder(t *testing.T) {
	clock := &fakeClock{now: base}
	q := newTestQueue(clock, &recorder{})

	at := base.Add(time.Hour)
	q.AddTimer(1, at, reminder(t, 3, base, "n"))
	q.AddTimer(1, base.Add(2*time.Hour), reminder(t, 9, base, "n"))
	q.AddTimer(1, at, reminder(t, 1, base, "n"))
	q.AddTimer(1, at, reminder(t, 2, base, "n"))
	q.AddTimer(1, base.Add(30*time.Minute), reminder(t, 5, base, "n"))

	var ids []int64
	for _, e := range q.Pending(1) {
		ids = append(ids, e.Reminder.ID)
	}
	assert.Equal(t, []int64{5, 3, 1, 2, 9}, ids)
}

func TestDeliveryFailuresAreIsolated(t *testing.T) {
	clock := &fakeClock{now: base}
	rec := &recorder{}
	q := newTestQueue(clock, rec)

	rec.hook = func(d Delivery) error {
		switch d.Reminder.ID {
		case 1:
			panic("boom")
		case 2:
			return errors.New("chat not found")
		}
		return nil
	}

	q.AddTimer(1, base, reminder(t, 1, base, "n"))
	q.AddTimer(1, base, reminder(t, 2, base, "n"))
	q.AddTimer(1, base, reminder(t, 3, base, "n"))
	q.AddTimer(2, base, reminder(t, 4, base, "n"))

	require.NotPanics(t, func() { q.RunOnce(context.Background()) })
	assert.Equal(t, []int64{1, 2, 3}, rec.idsFor(1))
	assert.Equal(t, []int64{4}, rec.idsFor(2))
}

func TestBetween(t *testing.T) {
	clock := &fakeClock{now: base}
	q := newTestQueue(clock, &recorder{})

	for i := int64(1); i <= 5; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		q.AddTimer(1, at, reminder(t, i, at, "n"))
	}

	got := q.Between(1, base.Add(time.Hour), base.Add(4*time.Hour))
	require.Len(t, got, 3)
	assert.Equal(t, int64(2), got[0].Reminder.ID)
	assert.Equal(t, int64(4), got[2].Reminder.ID)
	assert.Empty(t, q.Between(9, base, base.Add(24*time.Hour)))
}

func TestRunWakesOnInsert(t *testing.T) {
	delivered := make(chan Delivery, 1)
	q := New(Config{}, func(_ context.Context, d Delivery) error {
		delivered <- d
		return nil
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	// the loop is asleep on the one-year cap at this point
	time.Sleep(20 * time.Millisecond)
	now := time.Now()
	q.AddTimer(42, now, reminder(t, 9, now, "n"))

	select {
	case d := <-delivered:
		assert.Equal(t, int64(42), d.ChatID)
		assert.Equal(t, int64(9), d.Reminder.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("reminder was not delivered after insert")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}
