package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/remindbot/internal/service"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	var err error
	switch msg.Command() {
	case "start":
		err = b.cmdStart(msg)
	case "help":
		err = b.cmdHelp(chatID)
	case "add":
		err = b.cmdAdd(ctx, chatID, args)
	case "list":
		err = b.cmdList(chatID, args)
	case "del":
		err = b.cmdDel(ctx, chatID, args)
	case "deli":
		err = b.cmdDeli(chatID, args)
	case "info":
		err = b.cmdInfo(chatID, args)
	case "on":
		err = b.cmdToggle(ctx, chatID, args, true)
	case "off":
		err = b.cmdToggle(ctx, chatID, args, false)
	case "ics":
		err = b.cmdICS(chatID)
	default:
		err = b.SendMessage(chatID, "Неизвестная команда. /help для списка команд")
	}

	if err != nil {
		b.replyError(chatID, err)
	}
}

func (b *Bot) cmdStart(msg *tgbotapi.Message) error {
	var telegramID int64
	var name string
	if msg.From != nil {
		telegramID = msg.From.ID
		name = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	}
	if name == "" {
		name = msg.Chat.Title
	}

	created, err := b.reminders.Register(msg.Chat.ID, telegramID, name)
	if err != nil {
		return err
	}
	if !created {
		return b.SendMessage(msg.Chat.ID, "⚠️ Бот уже существует в этом чате!")
	}
	b.log.Info().Int64("chat_id", msg.Chat.ID).Str("name", name).Msg("chat registered")
	return b.SendMessage(msg.Chat.ID, "Здравствуйте, вы зарегистрированы.\n\n/help — список команд")
}

func (b *Bot) cmdHelp(chatID int64) error {
	text := `<b>Команды:</b>

/add ДД/ММ/ГГГГ ЧЧ:ММ повтор описание — добавить напоминание
/list [лист] — список напоминаний
/del id — удалить напоминание
/deli — удалить через меню
/on id — включить напоминание
/off id — выключить напоминание
/info [w|cw|m|cm] — ближайшие напоминания
/ics — экспорт в календарь

<b>Повтор:</b>
n — без повтора
y — ежегодно
m3 — каждые 3 месяца
d2 — каждые 2 дня
w135 — по пн, ср и пт (1 = пн, 7 = вс)

<b>Пример:</b>
<code>/add 01/09/2025 9:00 y Позвонить маме</code>

Любой текст в личном чате откроет меню создания напоминания.`

	return b.SendMessage(chatID, text)
}

func (b *Bot) cmdAdd(ctx context.Context, chatID int64, args string) error {
	r, next, err := b.reminders.Add(ctx, chatID, args)
	if err != nil {
		return err
	}
	return b.SendMessage(chatID, service.FormatAdded(*r, next))
}

func (b *Bot) cmdList(chatID int64, args string) error {
	page, err := service.ParsePage(args)
	if err != nil {
		return err
	}
	p, err := b.reminders.Page(chatID, page)
	if err != nil {
		return err
	}
	if p.Total == 0 {
		return b.SendMessage(chatID, "⚠️ Еще нет напоминаний.")
	}
	return b.SendMessage(chatID, service.FormatPage(p))
}

func (b *Bot) cmdDel(ctx context.Context, chatID int64, args string) error {
	id, err := service.ParseID(args)
	if err != nil {
		return err
	}
	if err := b.reminders.Delete(ctx, chatID, id); err != nil {
		return err
	}
	return b.SendMessage(chatID, "✅ Напоминание удалено.")
}

func (b *Bot) cmdDeli(chatID int64, args string) error {
	page, err := service.ParsePage(args)
	if err != nil {
		return err
	}
	if err := b.reminders.EnsureRegistered(chatID); err != nil {
		return err
	}
	return b.showDeleteKeyboard(chatID, 0, page)
}

func (b *Bot) cmdInfo(chatID int64, args string) error {
	entries, to, err := b.reminders.Upcoming(chatID, args)
	if err != nil {
		return err
	}
	return b.SendMessage(chatID, service.FormatUpcoming(entries, to))
}

func (b *Bot) cmdToggle(ctx context.Context, chatID int64, args string, enabled bool) error {
	id, err := service.ParseID(args)
	if err != nil {
		return err
	}
	next, err := b.reminders.SetEnabled(ctx, chatID, id, enabled)
	if err != nil {
		return err
	}

	if !enabled {
		return b.SendMessage(chatID, fmt.Sprintf("🔕 Напоминание %d выключено.", id))
	}
	text := fmt.Sprintf("🔔 Напоминание %d включено.", id)
	if !next.IsZero() {
		text += "\nСледующее срабатывание: " + service.FormatDateTime(next)
	}
	return b.SendMessage(chatID, text)
}

func (b *Bot) cmdICS(chatID int64) error {
	if err := b.reminders.EnsureRegistered(chatID); err != nil {
		return err
	}
	data, err := b.calendar.ExportICS(chatID)
	if err != nil {
		return err
	}
	return b.sendDocument(chatID, "reminders.ics", data)
}
