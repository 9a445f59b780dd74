package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/storage"
	"github.com/tazhate/remindbot/internal/timerqueue"
)

// PageSize is the number of reminders on one /list or /deli page.
const PageSize = 10

// Timers is the part of the timer queue the service drives.
type Timers interface {
	AddTimer(chatID int64, fireAt time.Time, reminder domain.Reminder)
	RemoveTimer(chatID, reminderID int64) int
	Between(chatID int64, from, to time.Time) []timerqueue.Entry
}

// Publisher mirrors reminders into an external calendar. Calls must not block
// for long and handle their own errors.
type Publisher interface {
	Publish(ctx context.Context, chatID int64, r domain.Reminder)
	Unpublish(ctx context.Context, chatID, reminderID int64)
}

type MessageSender interface {
	SendMessage(chatID int64, text string) error
}

type ReminderService struct {
	storage   *storage.Storage
	timers    Timers
	now       Clock
	sender    MessageSender
	publisher Publisher
	log       zerolog.Logger
}

func NewReminderService(s *storage.Storage, timers Timers, now Clock, log zerolog.Logger) *ReminderService {
	return &ReminderService{
		storage: s,
		timers:  timers,
		now:     now,
		log:     log.With().Str("component", "reminders").Logger(),
	}
}

func (s *ReminderService) SetSender(sender MessageSender) {
	s.sender = sender
}

func (s *ReminderService) SetPublisher(p Publisher) {
	s.publisher = p
}

// Now returns the service clock reading.
func (s *ReminderService) Now() time.Time {
	return s.now()
}

// Register records the chat. It reports false when it was registered before.
func (s *ReminderService) Register(chatID, telegramID int64, name string) (bool, error) {
	created, err := s.storage.RegisterUser(&domain.User{
		TelegramID: telegramID,
		ChatID:     chatID,
		Name:       name,
	})
	if err != nil {
		return false, fmt.Errorf("register chat %d: %w", chatID, err)
	}
	return created, nil
}

// EnsureRegistered returns ErrNotRegistered for unknown chats.
func (s *ReminderService) EnsureRegistered(chatID int64) error {
	ok, err := s.storage.IsChatRegistered(chatID)
	if err != nil {
		return fmt.Errorf("check chat %d: %w", chatID, err)
	}
	if !ok {
		return ErrNotRegistered
	}
	return nil
}

// schedulable returns the next fire time when the reminder belongs in the
// queue: enabled, and either repeating or still in the future.
func schedulable(r domain.Reminder, now time.Time) (time.Time, bool) {
	next, ok := r.NextFireTime(now)
	if !ok {
		return time.Time{}, false
	}
	if !r.Repeats() && !next.After(now) {
		return next, false
	}
	return next, true
}

// Add parses /add arguments, stores the reminder and queues it.
func (s *ReminderService) Add(ctx context.Context, chatID int64, args string) (*domain.Reminder, time.Time, error) {
	if err := s.EnsureRegistered(chatID); err != nil {
		return nil, time.Time{}, err
	}

	r, err := ParseAddArgs(args)
	if err != nil {
		return nil, time.Time{}, err
	}

	now := s.now()
	next, ok := schedulable(r, now)
	if !ok {
		return nil, time.Time{}, ErrAlreadyPassed
	}

	if err := s.storage.CreateReminder(chatID, &r); err != nil {
		return nil, time.Time{}, fmt.Errorf("create reminder: %w", err)
	}
	s.timers.AddTimer(chatID, next, r)

	s.log.Info().Int64("chat_id", chatID).Int64("reminder_id", r.ID).
		Str("repeat", r.Repeat.String()).Time("next", next).Msg("reminder added")

	if s.publisher != nil {
		s.publisher.Publish(ctx, chatID, r)
	}
	return &r, next, nil
}

func (s *ReminderService) List(chatID int64) ([]*domain.Reminder, error) {
	if err := s.EnsureRegistered(chatID); err != nil {
		return nil, err
	}
	return s.storage.ListReminders(chatID)
}

// Page is one page of a chat's reminders. Start and End are 1-based and
// inclusive.
type Page struct {
	Items []*domain.Reminder
	Page  int
	Pages int
	Start int
	End   int
	Total int
}

func (p Page) HasPrev() bool { return p.Page > 1 }

func (p Page) HasNext() bool { return p.Page < p.Pages }

// Page returns page n (1-based), clamped to the last page.
func (s *ReminderService) Page(chatID int64, n int) (Page, error) {
	all, err := s.List(chatID)
	if err != nil {
		return Page{}, err
	}
	return paginate(all, n), nil
}

func paginate(all []*domain.Reminder, n int) Page {
	p := Page{Total: len(all)}
	if p.Total == 0 {
		return p
	}
	p.Pages = (p.Total + PageSize - 1) / PageSize
	p.Page = min(max(n, 1), p.Pages)
	from := (p.Page - 1) * PageSize
	to := min(from+PageSize, p.Total)
	p.Items = all[from:to]
	p.Start, p.End = from+1, to
	return p
}

// Delete removes the reminder from storage and from the queue.
func (s *ReminderService) Delete(ctx context.Context, chatID, id int64) error {
	if err := s.EnsureRegistered(chatID); err != nil {
		return err
	}
	if err := s.storage.DeleteReminder(chatID, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrReminderNotFound
		}
		return fmt.Errorf("delete reminder: %w", err)
	}
	s.timers.RemoveTimer(chatID, id)
	s.log.Info().Int64("chat_id", chatID).Int64("reminder_id", id).Msg("reminder deleted")

	if s.publisher != nil {
		s.publisher.Unpublish(ctx, chatID, id)
	}
	return nil
}

// SetEnabled switches a reminder on or off. Turning it off drops it from the
// queue; turning it on queues the next occurrence, if any. The returned time
// is zero when nothing was queued.
func (s *ReminderService) SetEnabled(ctx context.Context, chatID, id int64, enabled bool) (time.Time, error) {
	if err := s.EnsureRegistered(chatID); err != nil {
		return time.Time{}, err
	}
	if err := s.storage.SetReminderEnabled(chatID, id, enabled); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return time.Time{}, ErrReminderNotFound
		}
		return time.Time{}, fmt.Errorf("set enabled: %w", err)
	}

	// never queue twice
	s.timers.RemoveTimer(chatID, id)
	if !enabled {
		if s.publisher != nil {
			s.publisher.Unpublish(ctx, chatID, id)
		}
		return time.Time{}, nil
	}

	r, err := s.storage.GetReminder(chatID, id)
	if err != nil {
		return time.Time{}, fmt.Errorf("get reminder: %w", err)
	}
	if r == nil {
		return time.Time{}, ErrReminderNotFound
	}
	if s.publisher != nil {
		s.publisher.Publish(ctx, chatID, *r)
	}

	next, ok := schedulable(*r, s.now())
	if !ok {
		return time.Time{}, nil
	}
	s.timers.AddTimer(chatID, next, *r)
	return next, nil
}

// Seed queues every schedulable reminder of every registered chat and
// returns how many were queued. Broken chats are logged and skipped.
func (s *ReminderService) Seed() (int, error) {
	users, err := s.storage.ListUsers()
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	now := s.now()
	queued := 0
	for _, u := range users {
		reminders, err := s.storage.ListReminders(u.ChatID)
		if err != nil {
			s.log.Error().Err(err).Int64("chat_id", u.ChatID).Msg("load reminders")
			continue
		}
		for _, r := range reminders {
			next, ok := schedulable(*r, now)
			if !ok {
				continue
			}
			s.reportMissed(u.ChatID, *r, now)
			s.timers.AddTimer(u.ChatID, next, *r)
			queued++
		}
	}

	s.log.Info().Int("chats", len(users)).Int("queued", queued).Msg("timer queue seeded")
	return queued, nil
}

// reportMissed logs a repeating reminder whose next occurrence after its
// last delivery passed while the bot was down. Missed occurrences are not
// replayed.
func (s *ReminderService) reportMissed(chatID int64, r domain.Reminder, now time.Time) bool {
	if !r.Repeats() {
		return false
	}
	last, err := s.storage.LastFired(chatID, r.ID)
	if err != nil {
		s.log.Warn().Err(err).Int64("chat_id", chatID).Int64("reminder_id", r.ID).Msg("read last delivery")
		return false
	}
	if last.IsZero() {
		return false
	}
	due, ok := r.NextFireTime(last.In(now.Location()))
	if !ok || due.After(now) {
		return false
	}
	s.log.Warn().Int64("chat_id", chatID).Int64("reminder_id", r.ID).
		Time("last_fired", last).Time("missed", due).Msg("missed occurrence while offline")
	return true
}

// Upcoming returns the queued firings of the chat from now until the end of
// the /info range arg.
func (s *ReminderService) Upcoming(chatID int64, arg string) ([]timerqueue.Entry, time.Time, error) {
	if err := s.EnsureRegistered(chatID); err != nil {
		return nil, time.Time{}, err
	}
	now := s.now()
	to, err := InfoRange(now, arg)
	if err != nil {
		return nil, time.Time{}, err
	}
	return s.timers.Between(chatID, now, to), to, nil
}

// Deliver sends a fired reminder to its chat and records the firing. It is
// the timer queue's DeliverFunc.
func (s *ReminderService) Deliver(ctx context.Context, d timerqueue.Delivery) error {
	if s.sender == nil {
		return errors.New("no message sender")
	}
	if err := s.sender.SendMessage(d.ChatID, FormatDelivery(d)); err != nil {
		return fmt.Errorf("send reminder %d: %w", d.Reminder.ID, err)
	}
	if err := s.storage.MarkFired(d.ChatID, d.Reminder.ID, d.FireAt); err != nil {
		return fmt.Errorf("mark fired: %w", err)
	}
	return nil
}
