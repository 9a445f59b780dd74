package domain

import "time"

// User is a registered chat. Reminders are partitioned by ChatID.
type User struct {
	ID         int64
	TelegramID int64
	ChatID     int64
	Name       string
	CreatedAt  time.Time
}
