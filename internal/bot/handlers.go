package bot

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/service"
)

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Int("update_id", update.UpdateID).Msg("update handler panicked")
		}
	}()

	if update.Message != nil {
		b.handleMessage(ctx, update.Message)
	} else if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" || !msg.Chat.IsPrivate() {
		return
	}

	// Any text in a private chat offers to turn it into a reminder
	if err := b.SendMessageWithKeyboard(msg.Chat.ID, escape(text), menuKeyboard()); err != nil {
		b.log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("send menu")
	}
}

func escape(s string) string {
	return html.EscapeString(s)
}

// userErrors are shown to the user as they are; anything else is logged.
var userErrors = []error{
	service.ErrNotRegistered,
	service.ErrArgCount,
	service.ErrBadDate,
	service.ErrBadTime,
	service.ErrBadRepeat,
	service.ErrDescriptionLong,
	service.ErrAlreadyPassed,
	service.ErrBadID,
	service.ErrBadPage,
	service.ErrBadRange,
	service.ErrDialogExpired,
	service.ErrNoReminders,
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// errorText turns a service error into a chat reply.
func (b *Bot) errorText(chatID int64, err error) string {
	if errors.Is(err, service.ErrReminderNotFound) {
		return "❌ Напоминания не существует."
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return "⚠️ " + capitalize(err.Error()) + "!"
		}
	}
	b.log.Error().Err(err).Int64("chat_id", chatID).Msg("request failed")
	return "❌ Внутренняя ошибка, попробуйте позже."
}

func (b *Bot) replyError(chatID int64, err error) {
	if sendErr := b.SendMessage(chatID, escape(b.errorText(chatID, err))); sendErr != nil {
		b.log.Error().Err(sendErr).Int64("chat_id", chatID).Msg("send error reply")
	}
}

func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil {
		return
	}
	chatID := callback.Message.Chat.ID
	msgID := callback.Message.MessageID

	cmd, arg, _ := strings.Cut(strings.TrimSpace(callback.Data), " ")
	arg = strings.TrimSpace(arg)

	var answer string
	var err error

	switch cmd {
	case cbNoop:
	case cbClose:
		if err = b.dialogs.Cancel(chatID, msgID); err == nil {
			err = b.deleteMessage(chatID, msgID)
		}
	case cbDelete:
		answer, err = b.callbackDelete(ctx, chatID, msgID, arg)
	case cbDeleteUI:
		var page int
		if page, err = service.ParsePage(arg); err == nil {
			err = b.showDeleteKeyboard(chatID, msgID, page)
		}
	case cbDate:
		d, pickErr := b.dialogs.PickDate(chatID, msgID, callback.Message.Text, arg)
		if err = pickErr; err == nil {
			err = b.editKeyboard(chatID, msgID, dateKeyboard(d))
		}
	case cbTime:
		c, pickErr := b.dialogs.PickTime(chatID, msgID, arg)
		if err = pickErr; err == nil {
			err = b.editKeyboard(chatID, msgID, timeKeyboard(c))
		}
	case cbRepeat:
		rule, pickErr := b.dialogs.PickRepeat(chatID, msgID, arg)
		if err = pickErr; err == nil {
			err = b.editKeyboard(chatID, msgID, repeatKeyboard(rule))
		}
	case cbAdd:
		err = b.callbackAdd(ctx, chatID, msgID)
	default:
		b.log.Warn().Str("data", callback.Data).Msg("unknown callback")
	}

	if err != nil {
		answer = b.errorText(chatID, err)
	}
	if ackErr := b.request(tgbotapi.NewCallback(callback.ID, answer)); ackErr != nil {
		b.log.Debug().Err(ackErr).Msg("answer callback")
	}
}

// callbackDelete handles "/del <id> [page]" from the delete keyboard and
// redraws the keyboard.
func (b *Bot) callbackDelete(ctx context.Context, chatID int64, msgID int, arg string) (string, error) {
	idArg, pageArg, _ := strings.Cut(arg, " ")
	id, err := service.ParseID(idArg)
	if err != nil {
		return "", err
	}
	page, err := service.ParsePage(pageArg)
	if err != nil {
		return "", err
	}

	if err := b.reminders.Delete(ctx, chatID, id); err != nil {
		return "", err
	}
	return "✅ Напоминание удалено.", b.showDeleteKeyboard(chatID, msgID, page)
}

func (b *Bot) callbackAdd(ctx context.Context, chatID int64, msgID int) error {
	r, next, err := b.addFromDraft(ctx, chatID, msgID)
	if err != nil {
		return err
	}
	return b.editText(chatID, msgID, service.FormatAdded(*r, next), nil)
}

// addFromDraft stores the reminder assembled in the add menu. The draft
// survives a rejected add so the menu stays usable.
func (b *Bot) addFromDraft(ctx context.Context, chatID int64, msgID int) (*domain.Reminder, time.Time, error) {
	args, err := b.dialogs.Finish(chatID, msgID)
	if err != nil {
		return nil, time.Time{}, err
	}
	r, next, err := b.reminders.Add(ctx, chatID, args)
	if err != nil {
		return nil, time.Time{}, err
	}
	if err := b.dialogs.Cancel(chatID, msgID); err != nil {
		b.log.Warn().Err(err).Int64("chat_id", chatID).Int("message_id", msgID).Msg("drop add menu draft")
	}
	return r, next, nil
}

// showDeleteKeyboard sends the delete keyboard, or redraws it in place when
// msgID is not zero.
func (b *Bot) showDeleteKeyboard(chatID int64, msgID int, page int) error {
	p, err := b.reminders.Page(chatID, page)
	if err != nil {
		return err
	}

	if p.Total == 0 {
		if msgID == 0 {
			return b.SendMessage(chatID, "⚠️ Нет напоминаний.")
		}
		kb := closeKeyboard()
		return b.editText(chatID, msgID, "⚠️ Нет напоминаний.", &kb)
	}

	const title = "🗑️ Какое напоминание удалить❓"
	kb := deleteKeyboard(p)
	if msgID == 0 {
		return b.SendMessageWithKeyboard(chatID, title, kb)
	}
	return b.editText(chatID, msgID, title, &kb)
}
