package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/teambition/rrule-go"

	"github.com/tazhate/remindbot/internal/clients/caldav"
	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/storage"
)

const uidSuffix = "@remindbot"

var ErrNoReminders = errors.New("нет напоминаний")

// EventStore is the CalDAV side of the calendar service.
type EventStore interface {
	IsConfigured() bool
	PutEvent(ctx context.Context, ev caldav.Event) error
	DeleteEvent(ctx context.Context, uid string) error
	ListUIDs(ctx context.Context) ([]string, error)
}

// CalendarService exports reminders as iCalendar data and mirrors them into
// a CalDAV calendar.
type CalendarService struct {
	storage  *storage.Storage
	events   EventStore
	timezone *time.Location
	timeout  time.Duration
	log      zerolog.Logger

	wg sync.WaitGroup
}

func NewCalendarService(s *storage.Storage, events EventStore, tz *time.Location, log zerolog.Logger) *CalendarService {
	if tz == nil {
		tz = time.UTC
	}
	return &CalendarService{
		storage:  s,
		events:   events,
		timezone: tz,
		timeout:  30 * time.Second,
		log:      log.With().Str("component", "calendar").Logger(),
	}
}

// IsConfigured returns true if CalDAV publishing is on
func (s *CalendarService) IsConfigured() bool {
	return s.events != nil && s.events.IsConfigured()
}

// RRule converts a recurrence into an RRULE; nil means the event does not
// repeat. An interval that does not divide twelve drifts from the bot's own
// schedule after the first year, since the bot restarts from the anchor
// month every January.
func RRule(rule domain.Recurrence) *rrule.ROption {
	switch rule.Kind() {
	case domain.RepeatYearly:
		return &rrule.ROption{Freq: rrule.YEARLY}
	case domain.RepeatMonthly:
		return &rrule.ROption{Freq: rrule.MONTHLY, Interval: rule.Every()}
	case domain.RepeatDaily:
		return &rrule.ROption{Freq: rrule.DAILY, Interval: rule.Every()}
	case domain.RepeatWeekly:
		var days []rrule.Weekday
		for _, d := range rule.Weekdays().Days() {
			days = append(days, rruleWeekday(d))
		}
		return &rrule.ROption{Freq: rrule.WEEKLY, Byweekday: days}
	default:
		return nil
	}
}

func rruleWeekday(d time.Weekday) rrule.Weekday {
	switch d {
	case time.Monday:
		return rrule.MO
	case time.Tuesday:
		return rrule.TU
	case time.Wednesday:
		return rrule.WE
	case time.Thursday:
		return rrule.TH
	case time.Friday:
		return rrule.FR
	case time.Saturday:
		return rrule.SA
	default:
		return rrule.SU
	}
}

// EventUID is the stable CalDAV UID of a chat's reminder.
func EventUID(chatID, reminderID int64) string {
	name := fmt.Sprintf("remindbot:%d:%d", chatID, reminderID)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String() + uidSuffix
}

// event maps a reminder to a calendar event. DTSTART is the first real
// occurrence, so a weekly anchor on an unlisted weekday is not exported.
func (s *CalendarService) event(chatID int64, r domain.Reminder) caldav.Event {
	start := r.Anchor(s.timezone)
	if r.Repeats() {
		if first, ok := r.NextFireTime(start.Add(-time.Minute)); ok {
			start = first
		}
	}
	return caldav.Event{
		UID:         EventUID(chatID, r.ID),
		Summary:     r.Description,
		Description: r.Repeat.Describe(),
		Start:       start,
		RRule:       RRule(r.Repeat),
		Alarm:       true,
	}
}

// ExportICS renders the chat's enabled reminders as one VCALENDAR.
func (s *CalendarService) ExportICS(chatID int64) ([]byte, error) {
	reminders, err := s.storage.ListReminders(chatID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}

	var events []caldav.Event
	for _, r := range reminders {
		if r.Enabled {
			events = append(events, s.event(chatID, *r))
		}
	}
	if len(events) == 0 {
		return nil, ErrNoReminders
	}
	return caldav.Encode(caldav.NewCalendar(time.Now(), events...))
}

// Publish pushes the reminder to CalDAV in the background. Disabled
// reminders are removed instead.
func (s *CalendarService) Publish(_ context.Context, chatID int64, r domain.Reminder) {
	if !s.IsConfigured() {
		return
	}
	if !r.Enabled {
		s.Unpublish(context.Background(), chatID, r.ID)
		return
	}
	ev := s.event(chatID, r)
	s.background(func(ctx context.Context) error {
		return s.events.PutEvent(ctx, ev)
	}, "publish", ev.UID)
}

// Unpublish removes the reminder from CalDAV in the background.
func (s *CalendarService) Unpublish(_ context.Context, chatID, reminderID int64) {
	if !s.IsConfigured() {
		return
	}
	uid := EventUID(chatID, reminderID)
	s.background(func(ctx context.Context) error {
		return s.events.DeleteEvent(ctx, uid)
	}, "unpublish", uid)
}

// background detaches from the caller's context; the bot replies before the
// calendar server answers.
func (s *CalendarService) background(fn func(ctx context.Context) error, op, uid string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.log.Error().Err(err).Str("op", op).Str("uid", uid).Msg("caldav sync failed")
		}
	}()
}

// Wait blocks until background calendar calls have finished.
func (s *CalendarService) Wait() {
	s.wg.Wait()
}

// SyncResult contains resync results
type SyncResult struct {
	Published int      `json:"published"`
	Deleted   int      `json:"deleted"`
	Errors    []string `json:"errors,omitempty"`
}

// Resync republishes every enabled reminder of every chat and deletes the
// calendar's remindbot events that no longer have a reminder.
func (s *CalendarService) Resync(ctx context.Context) (*SyncResult, error) {
	if !s.IsConfigured() {
		return nil, caldav.ErrNotConfigured
	}

	users, err := s.storage.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	result := &SyncResult{}
	wanted := make(map[string]bool)
	for _, u := range users {
		reminders, err := s.storage.ListReminders(u.ChatID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("chat %d: %v", u.ChatID, err))
			continue
		}
		for _, r := range reminders {
			if !r.Enabled {
				continue
			}
			ev := s.event(u.ChatID, *r)
			wanted[ev.UID] = true
			if err := s.events.PutEvent(ctx, ev); err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			result.Published++
		}
	}

	uids, err := s.events.ListUIDs(ctx)
	if err != nil {
		return result, fmt.Errorf("list calendar events: %w", err)
	}
	for _, uid := range uids {
		if !strings.HasSuffix(uid, uidSuffix) || wanted[uid] {
			continue
		}
		if err := s.events.DeleteEvent(ctx, uid); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Deleted++
	}

	s.log.Info().Int("published", result.Published).Int("deleted", result.Deleted).
		Int("errors", len(result.Errors)).Msg("caldav resync finished")
	return result, nil
}
