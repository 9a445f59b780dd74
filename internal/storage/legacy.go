package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tazhate/remindbot/internal/domain"
)

// legacyDump is the export of the old key-value store: a "users" collection
// plus one "reminders_<chat id>" collection per registered chat.
type legacyDump map[string]json.RawMessage

type legacyUser struct {
	ID     int64 `json:"id"`
	ChatID int64 `json:"chat_id"`
}

// legacyRecord covers every historical shape of a stored reminder.
// month_repeat was a bool before it became a count.
type legacyRecord struct {
	ID          int64           `json:"__id"`
	Descr       string          `json:"descr"`
	On          *bool           `json:"on"`
	Day         int             `json:"day"`
	Month       int             `json:"month"`
	Year        int             `json:"year"`
	Hour        int             `json:"hour"`
	Minute      int             `json:"minute"`
	YearRepeat  bool            `json:"year_repeat"`
	MonthRepeat json.RawMessage `json:"month_repeat"`
	WeekRepeat  int64           `json:"week_repeat"`
	DayRepeat   int             `json:"day_repeat"`
}

func (lr legacyRecord) monthRepeat() (int, error) {
	raw := strings.TrimSpace(string(lr.MonthRepeat))
	switch raw {
	case "", "null", "false":
		return 0, nil
	case "true":
		return 1, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("month_repeat %s: %w", raw, err)
	}
	return n, nil
}

// toReminder upgrades a record into the unified model. Repeat fields are
// checked in the order the old bot did: yearly, monthly, daily, weekly.
func (lr legacyRecord) toReminder() (domain.Reminder, error) {
	r := domain.Reminder{
		Description: lr.Descr,
		Enabled:     lr.On == nil || *lr.On,
		Date:        domain.Date{Year: lr.Year, Month: time.Month(lr.Month), Day: lr.Day},
		Clock:       domain.Clock{Hour: lr.Hour, Minute: lr.Minute},
	}
	if r.Date.Year < 100 {
		r.Date.Year += 2000
	}

	months, err := lr.monthRepeat()
	if err != nil {
		return r, err
	}

	switch {
	case lr.YearRepeat:
		r.Repeat = domain.Yearly()
	case months > 0:
		r.Repeat, err = domain.EveryNMonths(months)
	case lr.DayRepeat > 0:
		r.Repeat, err = domain.EveryNDays(lr.DayRepeat)
	case lr.WeekRepeat&0x7f != 0:
		r.Repeat, err = domain.WeeklyOn(domain.WeekdaySetFromMask(lr.WeekRepeat))
	}
	if err != nil {
		return r, err
	}
	return r, r.Validate()
}

// ImportResult summarises a legacy import.
type ImportResult struct {
	Chats    int
	Imported int
	Skipped  int
	// Invalid lists records that could not be upgraded, as "chat/id: reason".
	Invalid []string
}

// ImportLegacy loads a JSON dump of the old store. Records already imported
// (same chat and legacy id) are skipped, so the import can be re-run.
func (s *Storage) ImportLegacy(r io.Reader) (*ImportResult, error) {
	var dump legacyDump
	if err := json.NewDecoder(r).Decode(&dump); err != nil {
		return nil, fmt.Errorf("decode dump: %w", err)
	}

	chats := map[int64]int64{}
	if raw, ok := dump["users"]; ok {
		var users []legacyUser
		if err := json.Unmarshal(raw, &users); err != nil {
			return nil, fmt.Errorf("decode users: %w", err)
		}
		for _, u := range users {
			chats[u.ChatID] = u.ID
		}
	}

	keys := make([]string, 0, len(dump))
	for k := range dump {
		if strings.HasPrefix(k, "reminders_") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res := &ImportResult{}
	for _, k := range keys {
		chatID, err := strconv.ParseInt(strings.TrimPrefix(k, "reminders_"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", k, err)
		}
		var records []legacyRecord
		if err := json.Unmarshal(dump[k], &records); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}

		userID, ok := chats[chatID]
		if !ok {
			userID = chatID
		}
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO users (telegram_id, chat_id) VALUES (?, ?)`, userID, chatID,
		); err != nil {
			return nil, fmt.Errorf("register chat %d: %w", chatID, err)
		}
		delete(chats, chatID)
		res.Chats++

		for _, lr := range records {
			rem, err := lr.toReminder()
			if err != nil {
				res.Invalid = append(res.Invalid, fmt.Sprintf("%d/%d: %v", chatID, lr.ID, err))
				continue
			}
			out, err := tx.Exec(
				`INSERT OR IGNORE INTO reminders
				 (chat_id, description, enabled, year, month, day, hour, minute, repeat, legacy_id)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				chatID, rem.Description, rem.Enabled,
				rem.Date.Year, int(rem.Date.Month), rem.Date.Day, rem.Clock.Hour, rem.Clock.Minute,
				rem.Repeat.String(), lr.ID,
			)
			if err != nil {
				return nil, fmt.Errorf("insert %d/%d: %w", chatID, lr.ID, err)
			}
			if n, _ := out.RowsAffected(); n == 0 {
				res.Skipped++
			} else {
				res.Imported++
			}
		}
	}

	// registered chats that never created a reminder
	for chatID, userID := range chats {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO users (telegram_id, chat_id) VALUES (?, ?)`, userID, chatID,
		); err != nil {
			return nil, fmt.Errorf("register chat %d: %w", chatID, err)
		}
		res.Chats++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}
