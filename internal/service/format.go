package service

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/timerqueue"
)

// FormatDateTime renders t as "HH:MM DD/MM/YYYY".
func FormatDateTime(t time.Time) string {
	return t.Format("15:04 02/01/2006")
}

// pretty is Reminder.Pretty with the description escaped for HTML messages.
func pretty(r domain.Reminder) string {
	r.Description = html.EscapeString(r.Description)
	return r.Pretty()
}

// FormatDelivery builds the message sent when a reminder fires.
func FormatDelivery(d timerqueue.Delivery) string {
	var sb strings.Builder
	sb.WriteString("⏰")
	sb.WriteString(html.EscapeString(d.Reminder.Description))
	sb.WriteString("⏰\n\n")
	sb.WriteString(pretty(d.Reminder))
	if d.HasNext {
		sb.WriteString("\n\nСледующее напоминание:\n")
		sb.WriteString(FormatDateTime(d.Next))
	}
	return sb.String()
}

// FormatAdded is the reply to a successful /add.
func FormatAdded(r domain.Reminder, next time.Time) string {
	return fmt.Sprintf("✅🗓️ Напоминание добавлено.\n%s\nСледующее срабатывание: %s",
		pretty(r), FormatDateTime(next))
}

// FormatPage renders one /list page.
func FormatPage(p Page) string {
	if p.Total == 0 {
		return "🗓️ Напоминаний нет."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🗓️ Список напоминаний(%d-%d)/%d:\n", p.Start, p.End, p.Total)
	for _, r := range p.Items {
		line := r.CommandString()
		if !r.Enabled {
			line += " (выкл.)"
		}
		fmt.Fprintf(&sb, " %d: %s\n", r.ID, html.EscapeString(line))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatUpcoming renders the /info answer for entries firing up to `to`.
func FormatUpcoming(entries []timerqueue.Entry, to time.Time) string {
	if len(entries) == 0 {
		return fmt.Sprintf("🗓️ До %s напоминаний нет.", FormatDateTime(to))
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🗓️ Напоминания до %s:\n", FormatDateTime(to))
	for _, e := range entries {
		fmt.Fprintf(&sb, "%s: %s\n", FormatDateTime(e.FireAt), html.EscapeString(e.Reminder.Description))
	}
	return strings.TrimRight(sb.String(), "\n")
}
