package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tazhate/remindbot/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by mutations addressing a reminder that does not
// exist in the given chat.
var ErrNotFound = errors.New("not found")

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			telegram_id INTEGER NOT NULL,
			chat_id INTEGER UNIQUE NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			year INTEGER NOT NULL,
			month INTEGER NOT NULL,
			day INTEGER NOT NULL,
			hour INTEGER NOT NULL,
			minute INTEGER NOT NULL,
			repeat TEXT NOT NULL DEFAULT 'n',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (chat_id) REFERENCES users(chat_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_chat_id ON reminders(chat_id)`,
		// Ephemeral menu-builder state, keyed by chat and message
		`CREATE TABLE IF NOT EXISTS dialog_states (
			key TEXT PRIMARY KEY,
			data TEXT NOT NULL DEFAULT '{}',
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dialog_states_expires ON dialog_states(expires_at)`,
		// Delivery bookkeeping
		`ALTER TABLE reminders ADD COLUMN last_fired_at DATETIME`,
		// Records imported from the old key-value store
		`ALTER TABLE reminders ADD COLUMN legacy_id INTEGER`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_reminders_legacy ON reminders(chat_id, legacy_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf("exec migration: %w", err)
			}
		}
	}
	return nil
}

// === Users ===

// RegisterUser records the chat as registered. It reports false when the
// chat was already registered.
func (s *Storage) RegisterUser(u *domain.User) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO users (telegram_id, chat_id, name) VALUES (?, ?, ?)`,
		u.TelegramID, u.ChatID, u.Name,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	id, _ := res.LastInsertId()
	u.ID = id
	u.CreatedAt = time.Now()
	return true, nil
}

func (s *Storage) IsChatRegistered(chatID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE chat_id = ?`, chatID).Scan(&n)
	return n > 0, err
}

// ListUsers returns every registered chat
func (s *Storage) ListUsers() ([]*domain.User, error) {
	rows, err := s.db.Query(`SELECT id, telegram_id, chat_id, name, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u := &domain.User{}
		if err := rows.Scan(&u.ID, &u.TelegramID, &u.ChatID, &u.Name, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// === Reminders ===

const reminderColumns = `id, description, enabled, year, month, day, hour, minute, repeat`

type scanner interface {
	Scan(dest ...any) error
}

func scanReminder(row scanner) (*domain.Reminder, error) {
	r := &domain.Reminder{}
	var month int
	var token string
	if err := row.Scan(&r.ID, &r.Description, &r.Enabled,
		&r.Date.Year, &month, &r.Date.Day, &r.Clock.Hour, &r.Clock.Minute, &token); err != nil {
		return nil, err
	}
	r.Date.Month = time.Month(month)

	rule, _, err := domain.ParseRecurrence(token)
	if err != nil {
		return nil, fmt.Errorf("reminder %d: %w", r.ID, err)
	}
	r.Repeat = rule
	return r, nil
}

func (s *Storage) CreateReminder(chatID int64, r *domain.Reminder) error {
	res, err := s.db.Exec(
		`INSERT INTO reminders (chat_id, description, enabled, year, month, day, hour, minute, repeat)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chatID, r.Description, r.Enabled,
		r.Date.Year, int(r.Date.Month), r.Date.Day, r.Clock.Hour, r.Clock.Minute, r.Repeat.String(),
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	r.ID = id
	return nil
}

func (s *Storage) GetReminder(chatID, id int64) (*domain.Reminder, error) {
	r, err := scanReminder(s.db.QueryRow(
		`SELECT `+reminderColumns+` FROM reminders WHERE chat_id = ? AND id = ?`,
		chatID, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ListReminders returns the chat's reminders in creation order.
func (s *Storage) ListReminders(chatID int64) ([]*domain.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT `+reminderColumns+` FROM reminders WHERE chat_id = ? ORDER BY id ASC`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reminders []*domain.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

func (s *Storage) DeleteReminder(chatID, id int64) error {
	res, err := s.db.Exec(`DELETE FROM reminders WHERE chat_id = ? AND id = ?`, chatID, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Storage) SetReminderEnabled(chatID, id int64, enabled bool) error {
	res, err := s.db.Exec(`UPDATE reminders SET enabled = ? WHERE chat_id = ? AND id = ?`, enabled, chatID, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// MarkFired records the latest delivery of a reminder.
func (s *Storage) MarkFired(chatID, id int64, at time.Time) error {
	_, err := s.db.Exec(`UPDATE reminders SET last_fired_at = ? WHERE chat_id = ? AND id = ?`, at.UTC(), chatID, id)
	return err
}

// LastFired returns the latest recorded delivery, or the zero time.
func (s *Storage) LastFired(chatID, id int64) (time.Time, error) {
	var at sql.NullTime
	err := s.db.QueryRow(`SELECT last_fired_at FROM reminders WHERE chat_id = ? AND id = ?`, chatID, id).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return at.Time, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// === Dialog state ===

// PutDialogState stores data under key until expiresAt, replacing any
// previous value.
func (s *Storage) PutDialogState(key string, data []byte, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO dialog_states (key, data, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		key, string(data), expiresAt.Unix(),
	)
	return err
}

// GetDialogState returns nil when the key is missing or expired at now.
func (s *Storage) GetDialogState(key string, now time.Time) ([]byte, error) {
	var data string
	err := s.db.QueryRow(
		`SELECT data FROM dialog_states WHERE key = ? AND expires_at > ?`,
		key, now.Unix(),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

func (s *Storage) DeleteDialogState(key string) error {
	_, err := s.db.Exec(`DELETE FROM dialog_states WHERE key = ?`, key)
	return err
}

// VacuumDialogStates drops every state expired at now.
func (s *Storage) VacuumDialogStates(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM dialog_states WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
