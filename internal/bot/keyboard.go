package bot

import (
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/service"
)

// Callback commands
const (
	cbNoop     = "_"
	cbDelete   = "/del"
	cbDeleteUI = "/deli"
	cbClose    = "/delete_me"
	cbDate     = "/ar_date"
	cbTime     = "/ar_time"
	cbRepeat   = "/ar_repeat"
	cbAdd      = "/add"
)

var monthNames = [...]string{
	"Январь", "Февраль", "Март", "Апрель", "Май", "Июнь",
	"Июль", "Август", "Сентябрь", "Октябрь", "Ноябрь", "Декабрь",
}

var isoWeek = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

func button(text, data string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(text, data)
}

func noop(text string) tgbotapi.InlineKeyboardButton {
	return button(text, cbNoop)
}

func selected(text string) string {
	return "|" + text + "|"
}

// Menu offered for plain text in a private chat
func menuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button("❌ Отмена", cbClose),
			button("✅ Создать", cbDate),
		),
	)
}

func dateData(d domain.Date) string {
	return fmt.Sprintf("%s %d/%d/%d", cbDate, d.Day, int(d.Month), d.Year)
}

// Date picker: year and month steppers over a month grid starting on Monday
func dateKeyboard(d domain.Date) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(
			button("<5", dateData(d.AddMonths(-60))),
			button("<1", dateData(d.AddMonths(-12))),
			noop(strconv.Itoa(d.Year)),
			button("1>", dateData(d.AddMonths(12))),
			button("5>", dateData(d.AddMonths(60))),
		),
		tgbotapi.NewInlineKeyboardRow(
			button("<6", dateData(d.AddMonths(-6))),
			button("<1", dateData(d.AddMonths(-1))),
			noop(monthNames[d.Month-1]),
			button("1>", dateData(d.AddMonths(1))),
			button("6>", dateData(d.AddMonths(6))),
		),
	}

	header := make([]tgbotapi.InlineKeyboardButton, 0, 7)
	for _, wd := range isoWeek {
		header = append(header, noop(domain.WeekdayNameShort(wd)))
	}
	rows = append(rows, header)

	first := domain.Date{Year: d.Year, Month: d.Month, Day: 1}
	offset := (int(time.Date(first.Year, first.Month, 1, 0, 0, 0, 0, time.UTC).Weekday()) + 6) % 7
	last := first.AddMonths(1).AddDays(-1).Day

	var week []tgbotapi.InlineKeyboardButton
	for i := 0; i < offset; i++ {
		week = append(week, noop(" "))
	}
	for day := 1; day <= last; day++ {
		if day == d.Day {
			week = append(week, noop(selected(strconv.Itoa(day))))
		} else {
			week = append(week, button(strconv.Itoa(day), dateData(domain.Date{Year: d.Year, Month: d.Month, Day: day})))
		}
		if len(week) == 7 {
			rows = append(rows, week)
			week = nil
		}
	}
	if len(week) > 0 {
		for len(week) < 7 {
			week = append(week, noop(" "))
		}
		rows = append(rows, week)
	}

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		button("❌ Отмена", cbClose),
		button("➡️ Далее", cbTime),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func timeData(c domain.Clock) string {
	return fmt.Sprintf("%s %d:%d", cbTime, c.Hour, c.Minute)
}

var timeSteps = []struct {
	label   string
	minutes int
}{
	{"6", 6 * 60}, {"3", 3 * 60}, {"1", 60}, {"15", 15}, {"5", 5}, {"1", 1},
}

// Time picker: hour and minute steppers around the current value
func timeKeyboard(c domain.Clock) tgbotapi.InlineKeyboardMarkup {
	plus := make([]tgbotapi.InlineKeyboardButton, 0, len(timeSteps))
	minus := make([]tgbotapi.InlineKeyboardButton, 0, len(timeSteps))
	for _, s := range timeSteps {
		plus = append(plus, button("+"+s.label, timeData(c.Add(s.minutes))))
		minus = append(minus, button("-"+s.label, timeData(c.Add(-s.minutes))))
	}

	return tgbotapi.NewInlineKeyboardMarkup(
		plus,
		tgbotapi.NewInlineKeyboardRow(
			noop(fmt.Sprintf("%02d ч", c.Hour)),
			noop(fmt.Sprintf("%02d мин", c.Minute)),
		),
		minus,
		tgbotapi.NewInlineKeyboardRow(
			button("❌ Отмена", cbClose),
			button("⬅️ Назад", cbDate),
			button("➡️ Далее", cbRepeat),
		),
	)
}

func repeatData(token string) string {
	return cbRepeat + " " + token
}

// countRow renders "-10 -1 N label +1 +10" for d and m repeats. Stepping
// below one switches the repeat off.
func countRow(prefix, label string, current int) []tgbotapi.InlineKeyboardButton {
	step := func(delta int) string {
		n := current + delta
		if n < 1 {
			return repeatData("n")
		}
		return repeatData(prefix + strconv.Itoa(n))
	}

	title := fmt.Sprintf("%d %s", current, label)
	minus10, minus1 := noop("-10"), noop("-1")
	if current > 0 {
		title = selected(title)
		minus10 = button("-10", step(-10))
		minus1 = button("-1", step(-1))
	}
	return tgbotapi.NewInlineKeyboardRow(
		minus10,
		minus1,
		noop(title),
		button("+1", step(1)),
		button("+10", step(10)),
	)
}

// Repeat picker
func repeatKeyboard(rule domain.Recurrence) tgbotapi.InlineKeyboardMarkup {
	none := button("Без повторений", repeatData("n"))
	if !rule.Repeats() {
		none = noop(selected("Без повторений"))
	}

	var days, months int
	switch rule.Kind() {
	case domain.RepeatDaily:
		days = rule.Every()
	case domain.RepeatMonthly:
		months = rule.Every()
	}

	yearly := button("Ежегодно", repeatData("y"))
	if rule.Kind() == domain.RepeatYearly {
		yearly = button(selected("Ежегодно"), repeatData("n"))
	}

	var set domain.WeekdaySet
	if rule.Kind() == domain.RepeatWeekly {
		set = rule.Weekdays()
	}
	weekdays := make([]tgbotapi.InlineKeyboardButton, 0, 7)
	for _, wd := range isoWeek {
		name := domain.WeekdayNameShort(wd)
		if set.Has(wd) {
			name = selected(name)
		}
		token := "n"
		if next, err := domain.WeeklyOn(set.Toggle(wd)); err == nil {
			token = next.String()
		}
		weekdays = append(weekdays, button(name, repeatData(token)))
	}

	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(none),
		countRow("d", "Дней", days),
		countRow("m", "Месяцев", months),
		tgbotapi.NewInlineKeyboardRow(yearly),
		weekdays,
		tgbotapi.NewInlineKeyboardRow(
			button("❌ Отмена", cbClose),
			button("⬅️ Назад", cbTime),
			button("✅ Создать", cbAdd),
		),
	)
}

const maxButtonText = 60

func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen-1]) + "…"
}

// Paged delete keyboard
func deleteKeyboard(p service.Page) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, r := range p.Items {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			button(truncate(r.CommandString(), maxButtonText), fmt.Sprintf("%s %d %d", cbDelete, r.ID, p.Page)),
		))
	}

	var nav []tgbotapi.InlineKeyboardButton
	if p.HasPrev() {
		nav = append(nav, button("<", fmt.Sprintf("%s %d", cbDeleteUI, p.Page-1)))
	}
	if p.HasNext() {
		nav = append(nav, button(">", fmt.Sprintf("%s %d", cbDeleteUI, p.Page+1)))
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("Отмена", cbClose)))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func closeKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("Закрыть", cbClose)),
	)
}
