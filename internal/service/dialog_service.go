package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/storage"
)

// DefaultDialogTTL is how long a menu builder draft survives without a click.
const DefaultDialogTTL = 1000 * time.Second

var ErrDialogExpired = errors.New("меню устарело, отправьте текст напоминания еще раз")

// Draft is the menu builder state of one bot message.
type Draft struct {
	Text   string `json:"text"`
	Date   string `json:"date,omitempty"`
	Time   string `json:"time,omitempty"`
	Repeat string `json:"repeat,omitempty"`
}

func (d Draft) date() (domain.Date, error) { return ParseDate(d.Date) }

func (d Draft) clock() (domain.Clock, error) { return ParseClock(d.Time) }

func (d Draft) repeat() domain.Recurrence {
	rule, _, err := domain.ParseRecurrence(d.Repeat)
	if err != nil {
		return domain.NoRepeat()
	}
	return rule
}

// DialogService keeps menu builder drafts keyed by chat and message.
type DialogService struct {
	storage *storage.Storage
	now     Clock
	ttl     time.Duration
	log     zerolog.Logger
}

func NewDialogService(s *storage.Storage, now Clock, ttl time.Duration, log zerolog.Logger) *DialogService {
	if ttl <= 0 {
		ttl = DefaultDialogTTL
	}
	return &DialogService{
		storage: s,
		now:     now,
		ttl:     ttl,
		log:     log.With().Str("component", "dialog").Logger(),
	}
}

// DialogKey identifies the draft attached to one bot message.
func DialogKey(chatID int64, messageID int) string {
	return fmt.Sprintf("%d_%d", chatID, messageID)
}

func (s *DialogService) load(key string) (*Draft, error) {
	data, err := s.storage.GetDialogState(key, s.now())
	if err != nil {
		return nil, fmt.Errorf("get dialog state: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode dialog state %s: %w", key, err)
	}
	return &d, nil
}

func (s *DialogService) save(key string, d *Draft) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode dialog state: %w", err)
	}
	if err := s.storage.PutDialogState(key, data, s.now().Add(s.ttl)); err != nil {
		return fmt.Errorf("put dialog state: %w", err)
	}
	return nil
}

func (s *DialogService) mustLoad(key string) (*Draft, error) {
	d, err := s.load(key)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrDialogExpired
	}
	return d, nil
}

// PickDate opens or updates the date step. An empty arg keeps the stored
// date, or starts a new draft for text at today's date.
func (s *DialogService) PickDate(chatID int64, messageID int, text, arg string) (domain.Date, error) {
	key := DialogKey(chatID, messageID)
	d, err := s.load(key)
	if err != nil {
		return domain.Date{}, err
	}
	if d == nil {
		d = &Draft{Text: text}
	}
	if text != "" {
		d.Text = text
	}

	arg = strings.TrimSpace(arg)
	switch {
	case arg != "":
		d.Date = arg
	case d.Date == "":
		d.Date = domain.DateOf(s.now()).String()
	}

	date, err := d.date()
	if err != nil {
		return domain.Date{}, err
	}
	d.Date = date.String()
	return date, s.save(key, d)
}

// PickTime updates the time step. The first visit starts at the current time.
func (s *DialogService) PickTime(chatID int64, messageID int, arg string) (domain.Clock, error) {
	key := DialogKey(chatID, messageID)
	d, err := s.mustLoad(key)
	if err != nil {
		return domain.Clock{}, err
	}

	arg = strings.TrimSpace(arg)
	switch {
	case arg != "":
		d.Time = arg
	case d.Time == "":
		d.Time = domain.ClockOf(s.now()).String()
	}

	clock, err := d.clock()
	if err != nil {
		return domain.Clock{}, err
	}
	d.Time = clock.String()
	return clock, s.save(key, d)
}

// PickRepeat updates the repeat step. Tokens that do not form a valid rule,
// such as a zero count or an empty weekday set, mean no repeat.
func (s *DialogService) PickRepeat(chatID int64, messageID int, arg string) (domain.Recurrence, error) {
	key := DialogKey(chatID, messageID)
	d, err := s.mustLoad(key)
	if err != nil {
		return domain.Recurrence{}, err
	}
	if arg = strings.TrimSpace(arg); arg != "" {
		d.Repeat = arg
	}
	rule := d.repeat()
	d.Repeat = rule.String()
	return rule, s.save(key, d)
}

// Finish returns the /add arguments assembled from the draft. The draft is
// kept so the menu can be corrected and retried if the add is rejected; the
// caller drops it with Cancel once the reminder is stored.
func (s *DialogService) Finish(chatID int64, messageID int) (string, error) {
	key := DialogKey(chatID, messageID)
	d, err := s.mustLoad(key)
	if err != nil {
		return "", err
	}
	if d.Date == "" || d.Time == "" {
		return "", ErrDialogExpired
	}
	if strings.TrimSpace(d.Text) == "" {
		return "", ErrArgCount
	}

	return fmt.Sprintf("%s %s %s %s", d.Date, d.Time, d.repeat(), d.Text), nil
}

// Cancel drops the draft of a closed or completed menu.
func (s *DialogService) Cancel(chatID int64, messageID int) error {
	return s.storage.DeleteDialogState(DialogKey(chatID, messageID))
}

// Vacuum removes expired drafts.
func (s *DialogService) Vacuum() (int64, error) {
	n, err := s.storage.VacuumDialogStates(s.now())
	if err != nil {
		return 0, fmt.Errorf("vacuum dialog states: %w", err)
	}
	if n > 0 {
		s.log.Debug().Int64("removed", n).Msg("dialog states vacuumed")
	}
	return n, nil
}
