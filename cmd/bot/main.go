package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tazhate/remindbot/config"
	"github.com/tazhate/remindbot/internal/bot"
	"github.com/tazhate/remindbot/internal/clients/caldav"
	"github.com/tazhate/remindbot/internal/logging"
	"github.com/tazhate/remindbot/internal/scheduler"
	"github.com/tazhate/remindbot/internal/service"
	"github.com/tazhate/remindbot/internal/storage"
)

// set by -ldflags "-X main.version=..."
var version = "dev"

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "remindbot",
		Short:         "Telegram reminder bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the bot",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "import-legacy <file>",
			Short: "Import reminders from a JSON dump of the old store",
			Args:  cobra.ExactArgs(1),
			RunE:  runImportLegacy,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setup() (*config.Config, zerolog.Logger, *storage.Storage, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("load config: %w", err)
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return nil, log, nil, fmt.Errorf("init storage: %w", err)
	}
	return cfg, log, store, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, store, err := setup()
	if err != nil {
		return err
	}
	defer store.Close()

	clock := service.NewClock(cfg.Timezone)
	sched := scheduler.New(cfg, clock, log)

	reminders := service.NewReminderService(store, sched.Queue(), clock, log)
	dialogs := service.NewDialogService(store, clock, cfg.DialogTTL, log)

	events := caldav.NewClient(cfg.CalDAVURL, cfg.CalDAVUsername, cfg.CalDAVPassword, cfg.CalDAVCalendar)
	calendar := service.NewCalendarService(store, events, cfg.Timezone, log)
	if calendar.IsConfigured() {
		reminders.SetPublisher(calendar)
	}

	queued, err := reminders.Seed()
	if err != nil {
		return fmt.Errorf("seed timer queue: %w", err)
	}

	tgBot, err := bot.New(cfg, reminders, dialogs, calendar, log)
	if err != nil {
		return fmt.Errorf("init bot: %w", err)
	}
	reminders.SetSender(tgBot)

	sched.SetDeliverer(reminders.Deliver)
	sched.SetDialogs(dialogs)
	sched.SetCalendar(calendar)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := tgBot.Start(ctx); err != nil {
			return fmt.Errorf("bot: %w", err)
		}
		return nil
	})

	log.Info().Str("version", version).Int("queued", queued).
		Bool("caldav", calendar.IsConfigured()).Msg("remindbot started")

	err = g.Wait()
	log.Info().Msg("shutting down")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if stopErr := tgBot.Stop(shutdownCtx); stopErr != nil {
		log.Error().Err(stopErr).Msg("error stopping bot")
	}
	calendar.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("remindbot stopped")
	return nil
}

func runImportLegacy(cmd *cobra.Command, args []string) error {
	_, log, store, err := setup()
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := store.ImportLegacy(f)
	if err != nil {
		return fmt.Errorf("import %s: %w", args[0], err)
	}
	for _, bad := range res.Invalid {
		log.Warn().Str("record", bad).Msg("skipped invalid legacy record")
	}
	log.Info().Int("chats", res.Chats).Int("imported", res.Imported).
		Int("skipped", res.Skipped).Int("invalid", len(res.Invalid)).Msg("legacy import done")
	return nil
}
