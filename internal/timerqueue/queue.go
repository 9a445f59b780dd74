// Package timerqueue keeps, for every chat, the reminders waiting to fire
// ordered by fire time, and runs the loop that delivers them.
package timerqueue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tazhate/remindbot/internal/domain"
)

// DefaultMaxWait bounds how long the loop sleeps when nothing is queued.
const DefaultMaxWait = 365 * 24 * time.Hour

// Delivery is one firing handed to the DeliverFunc.
type Delivery struct {
	ChatID   int64
	Reminder domain.Reminder
	FireAt   time.Time
	// Next is the re-inserted occurrence of a repeating reminder.
	Next    time.Time
	HasNext bool
}

// DeliverFunc sends a fired reminder. Errors are logged by the queue.
type DeliverFunc func(ctx context.Context, d Delivery) error

// Entry is a queued firing.
type Entry struct {
	FireAt   time.Time
	Reminder domain.Reminder
}

type Config struct {
	// Now returns the current wall-clock time in the scheduling zone.
	Now func() time.Time
	// MaxWait caps the sleep when the queue is empty.
	MaxWait time.Duration
	// Workers bounds concurrent delivery across chats.
	Workers int
}

// Queue maps chat id to an ordered multiset of entries. All state is guarded
// by mu; wake is signalled whenever the earliest deadline may have changed.
type Queue struct {
	mu    sync.Mutex
	chats map[int64][]Entry

	wake    chan struct{}
	now     func() time.Time
	maxWait time.Duration
	workers int
	deliver DeliverFunc
	log     zerolog.Logger
}

func New(cfg Config, deliver DeliverFunc, log zerolog.Logger) *Queue {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Queue{
		chats:   make(map[int64][]Entry),
		wake:    make(chan struct{}, 1),
		now:     cfg.Now,
		maxWait: cfg.MaxWait,
		workers: cfg.Workers,
		deliver: deliver,
		log:     log.With().Str("component", "timerqueue").Logger(),
	}
}

// AddTimer queues reminder to fire at fireAt for chatID.
func (q *Queue) AddTimer(chatID int64, fireAt time.Time, reminder domain.Reminder) {
	q.mu.Lock()
	q.insertLocked(chatID, fireAt, reminder)
	q.mu.Unlock()
	q.signal()
}

// RemoveTimer drops every queued entry of reminderID in chatID and returns how
// many were removed. A firing already handed to the deliverer is unaffected.
func (q *Queue) RemoveTimer(chatID, reminderID int64) int {
	q.mu.Lock()
	entries := q.chats[chatID]
	kept := entries[:0]
	for _, e := range entries {
		if e.Reminder.ID != reminderID {
			kept = append(kept, e)
		}
	}
	removed := len(entries) - len(kept)
	// clear the tail so dropped reminders are not retained
	for i := len(kept); i < len(entries); i++ {
		entries[i] = Entry{}
	}
	if len(kept) == 0 {
		delete(q.chats, chatID)
	} else {
		q.chats[chatID] = kept
	}
	q.mu.Unlock()

	q.signal()
	return removed
}

// Pending returns a copy of the chat's queued entries in firing order.
func (q *Queue) Pending(chatID int64) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.chats[chatID]...)
}

// Between returns queued entries with from < FireAt <= to.
func (q *Queue) Between(chatID int64, from, to time.Time) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Entry
	for _, e := range q.chats[chatID] {
		if !e.FireAt.After(from) {
			continue
		}
		if e.FireAt.After(to) {
			break
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of queued entries across all chats.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, entries := range q.chats {
		n += len(entries)
	}
	return n
}

// Run processes wake cycles until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	q.log.Info().Msg("timer queue started")

	for {
		deadline := q.RunOnce(ctx)

		wait := deadline.Sub(q.now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			q.log.Info().Msg("timer queue stopped")
			return nil
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

type firing struct {
	chatID int64
	entry  Entry
	next   time.Time
	repeat bool
}

// RunOnce executes one wake cycle: pops every due entry, re-inserts repeating
// reminders, delivers, and returns the next deadline.
func (q *Queue) RunOnce(ctx context.Context) time.Time {
	now := q.now()
	due := q.collectDue(now)
	if len(due) > 0 {
		q.dispatch(ctx, due)
	}
	return q.nextDeadline(q.now())
}

func (q *Queue) collectDue(now time.Time) map[int64][]firing {
	q.mu.Lock()
	defer q.mu.Unlock()

	due := make(map[int64][]firing)
	for chatID := range q.chats {
		// re-inserted occurrences are after now, so this drains
		for {
			entries := q.chats[chatID]
			if len(entries) == 0 || entries[0].FireAt.After(now) {
				break
			}
			e := entries[0]
			entries[0] = Entry{}
			q.chats[chatID] = entries[1:]

			f := firing{chatID: chatID, entry: e}
			if e.Reminder.Repeats() {
				if next, ok := e.Reminder.NextFireTime(now); ok && next.After(now) {
					f.next, f.repeat = next, true
					q.insertLocked(chatID, next, e.Reminder)
				}
			}
			due[chatID] = append(due[chatID], f)
		}
		if len(q.chats[chatID]) == 0 {
			delete(q.chats, chatID)
		}
	}
	return due
}

func (q *Queue) dispatch(ctx context.Context, due map[int64][]firing) {
	var g errgroup.Group
	g.SetLimit(q.workers)
	for _, firings := range due {
		firings := firings
		g.Go(func() error {
			for _, f := range firings {
				q.deliverOne(ctx, f)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (q *Queue) deliverOne(ctx context.Context, f firing) {
	log := q.log.With().
		Int64("chat_id", f.chatID).
		Int64("reminder_id", f.entry.Reminder.ID).
		Time("fire_at", f.entry.FireAt).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Str("stack", string(debug.Stack())).Msg("delivery panicked")
		}
	}()

	err := q.deliver(ctx, Delivery{
		ChatID:   f.chatID,
		Reminder: f.entry.Reminder,
		FireAt:   f.entry.FireAt,
		Next:     f.next,
		HasNext:  f.repeat,
	})
	if err != nil {
		log.Error().Err(err).Msg("delivery failed")
		return
	}
	log.Debug().Bool("repeat", f.repeat).Msg("reminder delivered")
}

func (q *Queue) nextDeadline(now time.Time) time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()

	deadline := now.Add(q.maxWait)
	for _, entries := range q.chats {
		if len(entries) > 0 && entries[0].FireAt.Before(deadline) {
			deadline = entries[0].FireAt
		}
	}
	return deadline
}

// insertLocked keeps entries sorted by FireAt; equal times keep insertion order.
func (q *Queue) insertLocked(chatID int64, fireAt time.Time, reminder domain.Reminder) {
	entries := q.chats[chatID]
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].FireAt.After(fireAt)
	})
	entries = append(entries, Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = Entry{FireAt: fireAt, Reminder: reminder}
	q.chats[chatID] = entries
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
