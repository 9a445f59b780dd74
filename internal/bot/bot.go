package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tazhate/remindbot/config"
	"github.com/tazhate/remindbot/internal/service"
)

type Bot struct {
	api       *tgbotapi.BotAPI
	cfg       *config.Config
	reminders *service.ReminderService
	dialogs   *service.DialogService
	calendar  *service.CalendarService
	limiter   *rate.Limiter
	server    *http.Server
	log       zerolog.Logger
}

func New(cfg *config.Config, reminders *service.ReminderService, dialogs *service.DialogService, calendar *service.CalendarService, log zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	bot := newBot(cfg, reminders, dialogs, calendar, log)
	bot.api = api
	bot.log.Info().Str("username", api.Self.UserName).Msg("authorized")

	// Set bot commands (menu button)
	bot.setCommands()

	return bot, nil
}

func newBot(cfg *config.Config, reminders *service.ReminderService, dialogs *service.DialogService, calendar *service.CalendarService, log zerolog.Logger) *Bot {
	limit := rate.Inf
	if cfg.SendRate > 0 {
		limit = rate.Limit(cfg.SendRate)
	}
	return &Bot{
		cfg:       cfg,
		reminders: reminders,
		dialogs:   dialogs,
		calendar:  calendar,
		limiter:   rate.NewLimiter(limit, 1),
		log:       log.With().Str("component", "bot").Logger(),
	}
}

func (b *Bot) setCommands() {
	commands := []tgbotapi.BotCommand{
		{Command: "start", Description: "Регистрация в чате"},
		{Command: "add", Description: "➕ Добавить напоминание"},
		{Command: "list", Description: "🗓️ Список напоминаний"},
		{Command: "deli", Description: "🗑️ Удалить напоминание"},
		{Command: "info", Description: "⏰ Ближайшие напоминания"},
		{Command: "ics", Description: "📅 Экспорт в календарь"},
		{Command: "help", Description: "❓ Справка по командам"},
	}

	cfg := tgbotapi.NewSetMyCommands(commands...)
	if _, err := b.api.Request(cfg); err != nil {
		b.log.Warn().Err(err).Msg("failed to set commands")
	}
}

func (b *Bot) webhookEnabled() bool {
	return b.cfg.WebhookURL != ""
}

func (b *Bot) SetupWebhook() error {
	webhookURL := b.cfg.WebhookURL + "/bot"

	wh, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}

	_, err = b.api.Request(wh)
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}

	info, err := b.api.GetWebhookInfo()
	if err != nil {
		return fmt.Errorf("get webhook info: %w", err)
	}

	if info.LastErrorDate != 0 {
		b.log.Warn().Str("error", info.LastErrorMessage).Msg("webhook last error")
	}

	b.log.Info().Str("url", webhookURL).Msg("webhook set")
	return nil
}

// routes builds the HTTP handler: health check, REST API and, in webhook
// mode, the Telegram update endpoint.
func (b *Bot) routes(updates chan<- tgbotapi.Update) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Setup REST API with Basic Auth
	b.SetupAPI(mux)

	if updates != nil {
		mux.HandleFunc("/bot", func(w http.ResponseWriter, r *http.Request) {
			update, err := b.api.HandleUpdate(r)
			if err != nil {
				b.log.Warn().Err(err).Msg("bad webhook update")
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			updates <- *update
		})
	}
	return mux
}

// Start receives updates until ctx is cancelled: through the webhook when
// WEBHOOK_URL is set, by long polling otherwise.
func (b *Bot) Start(ctx context.Context) error {
	var updates tgbotapi.UpdatesChannel
	var webhook chan tgbotapi.Update

	if b.webhookEnabled() {
		if err := b.SetupWebhook(); err != nil {
			return err
		}
		webhook = make(chan tgbotapi.Update, b.api.Buffer)
		updates = webhook
	} else {
		if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			b.log.Warn().Err(err).Msg("failed to delete webhook")
		}
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates = b.api.GetUpdatesChan(u)
		defer b.api.StopReceivingUpdates()
	}

	if b.webhookEnabled() || b.cfg.APIEnabled() {
		b.server = &http.Server{
			Addr:              ":" + b.cfg.ServerPort,
			Handler:           b.routes(webhook),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			b.log.Info().Str("port", b.cfg.ServerPort).Msg("starting http server")
			if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.log.Error().Err(err).Msg("http server error")
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-updates:
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) Stop(ctx context.Context) error {
	if b.server != nil {
		return b.server.Shutdown(ctx)
	}
	return nil
}

func (b *Bot) send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := b.limiter.Wait(context.Background()); err != nil {
		return tgbotapi.Message{}, err
	}
	return b.api.Send(c)
}

func (b *Bot) request(c tgbotapi.Chattable) error {
	if err := b.limiter.Wait(context.Background()); err != nil {
		return err
	}
	_, err := b.api.Request(c)
	return err
}

// SendMessage sends an HTML message. Sends are rate limited across chats.
func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.send(msg)
	return err
}

func (b *Bot) SendMessageWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = keyboard
	_, err := b.send(msg)
	return err
}

func (b *Bot) editText(chatID int64, msgID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	edit := tgbotapi.NewEditMessageText(chatID, msgID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.ReplyMarkup = keyboard
	return b.request(edit)
}

func (b *Bot) editKeyboard(chatID int64, msgID int, keyboard tgbotapi.InlineKeyboardMarkup) error {
	return b.request(tgbotapi.NewEditMessageReplyMarkup(chatID, msgID, keyboard))
}

func (b *Bot) deleteMessage(chatID int64, msgID int) error {
	return b.request(tgbotapi.NewDeleteMessage(chatID, msgID))
}

func (b *Bot) sendDocument(chatID int64, name string, data []byte) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	_, err := b.send(doc)
	return err
}
