package bot

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tazhate/remindbot/internal/clients/caldav"
	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/service"
	"github.com/tazhate/remindbot/internal/timerqueue"
)

// API Response types
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type ReminderResponse struct {
	ID          int64   `json:"id"`
	Description string  `json:"description"`
	Date        string  `json:"date"`
	Time        string  `json:"time"`
	Repeat      string  `json:"repeat"`
	Schedule    string  `json:"schedule"`
	Enabled     bool    `json:"enabled"`
	NextRun     *string `json:"next_run,omitempty"`
	Command     string  `json:"command"`
}

type UpcomingResponse struct {
	ReminderID  int64  `json:"reminder_id"`
	Description string `json:"description"`
	FireAt      string `json:"fire_at"`
}

// SetupAPI registers API routes with Basic Auth
func (b *Bot) SetupAPI(mux *http.ServeMux) {
	if !b.cfg.APIEnabled() {
		return // API disabled if no credentials
	}

	mux.HandleFunc("/api/reminders", b.basicAuth(b.apiReminders))
	mux.HandleFunc("/api/reminders/", b.basicAuth(b.apiReminder))
	mux.HandleFunc("/api/upcoming", b.basicAuth(b.apiUpcoming))
	mux.HandleFunc("/api/calendar/sync", b.basicAuth(b.apiCalendarSync))
}

// basicAuth middleware
func (b *Bot) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || username != b.cfg.APIUsername || password != b.cfg.APIPassword {
			w.Header().Set("WWW-Authenticate", `Basic realm="RemindBot API"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (b *Bot) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func (b *Bot) jsonError(w http.ResponseWriter, err string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: err})
}

// apiFail maps a service error onto a status code.
func (b *Bot) apiFail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrReminderNotFound):
		b.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrNotRegistered):
		b.jsonError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, caldav.ErrNotConfigured):
		b.jsonError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		for _, target := range userErrors {
			if errors.Is(err, target) {
				b.jsonError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		b.log.Error().Err(err).Msg("api request failed")
		b.jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func chatIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
}

// GET /api/reminders?chat_id= - list reminders
// POST /api/reminders - create reminder from /add arguments
func (b *Bot) apiReminders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		chatID, err := chatIDParam(r)
		if err != nil {
			b.jsonError(w, "chat_id is required", http.StatusBadRequest)
			return
		}
		reminders, err := b.reminders.List(chatID)
		if err != nil {
			b.apiFail(w, err)
			return
		}
		b.jsonResponse(w, b.remindersToResponse(reminders))

	case http.MethodPost:
		var req struct {
			ChatID  int64  `json:"chat_id"`
			Command string `json:"command"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			b.jsonError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		if req.ChatID == 0 {
			b.jsonError(w, "chat_id is required", http.StatusBadRequest)
			return
		}

		reminder, _, err := b.reminders.Add(r.Context(), req.ChatID, strings.TrimPrefix(strings.TrimSpace(req.Command), "/add "))
		if err != nil {
			b.apiFail(w, err)
			return
		}
		b.jsonResponse(w, b.reminderToResponse(reminder))

	default:
		b.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// DELETE /api/reminders/{id}?chat_id= - delete reminder
// PATCH /api/reminders/{id}?chat_id= - {"enabled": bool}
func (b *Bot) apiReminder(w http.ResponseWriter, r *http.Request) {
	id, err := service.ParseID(strings.TrimPrefix(r.URL.Path, "/api/reminders/"))
	if err != nil {
		b.jsonError(w, "Invalid reminder ID", http.StatusBadRequest)
		return
	}
	chatID, err := chatIDParam(r)
	if err != nil {
		b.jsonError(w, "chat_id is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if err := b.reminders.Delete(r.Context(), chatID, id); err != nil {
			b.apiFail(w, err)
			return
		}
		b.jsonResponse(w, map[string]string{"message": "Reminder deleted"})

	case http.MethodPatch:
		var req struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
			b.jsonError(w, "enabled is required", http.StatusBadRequest)
			return
		}
		next, err := b.reminders.SetEnabled(r.Context(), chatID, id, *req.Enabled)
		if err != nil {
			b.apiFail(w, err)
			return
		}
		resp := map[string]interface{}{"id": id, "enabled": *req.Enabled}
		if !next.IsZero() {
			resp["next_run"] = next.Format(time.RFC3339)
		}
		b.jsonResponse(w, resp)

	default:
		b.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET /api/upcoming?chat_id=&range=w|cw|m|cm
func (b *Bot) apiUpcoming(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		b.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	chatID, err := chatIDParam(r)
	if err != nil {
		b.jsonError(w, "chat_id is required", http.StatusBadRequest)
		return
	}

	entries, _, err := b.reminders.Upcoming(chatID, r.URL.Query().Get("range"))
	if err != nil {
		b.apiFail(w, err)
		return
	}
	b.jsonResponse(w, upcomingToResponse(entries))
}

// POST /api/calendar/sync - full CalDAV resync
func (b *Bot) apiCalendarSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		b.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if b.calendar == nil {
		b.apiFail(w, caldav.ErrNotConfigured)
		return
	}

	res, err := b.calendar.Resync(r.Context())
	if err != nil {
		b.apiFail(w, err)
		return
	}
	b.jsonResponse(w, res)
}

func (b *Bot) reminderToResponse(r *domain.Reminder) ReminderResponse {
	resp := ReminderResponse{
		ID:          r.ID,
		Description: r.Description,
		Date:        r.Date.String(),
		Time:        r.Clock.String(),
		Repeat:      r.Repeat.String(),
		Schedule:    r.Repeat.Describe(),
		Enabled:     r.Enabled,
		Command:     r.CommandString(),
	}
	if next, ok := r.NextFireTime(b.reminders.Now()); ok && (r.Repeats() || next.After(b.reminders.Now())) {
		s := next.Format(time.RFC3339)
		resp.NextRun = &s
	}
	return resp
}

func (b *Bot) remindersToResponse(reminders []*domain.Reminder) []ReminderResponse {
	result := make([]ReminderResponse, len(reminders))
	for i, r := range reminders {
		result[i] = b.reminderToResponse(r)
	}
	return result
}

func upcomingToResponse(entries []timerqueue.Entry) []UpcomingResponse {
	result := make([]UpcomingResponse, len(entries))
	for i, e := range entries {
		result[i] = UpcomingResponse{
			ReminderID:  e.Reminder.ID,
			Description: e.Reminder.Description,
			FireAt:      e.FireAt.Format(time.RFC3339),
		}
	}
	return result
}
