package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tazhate/remindbot/config"
	"github.com/tazhate/remindbot/internal/service"
	"github.com/tazhate/remindbot/internal/timerqueue"
)

// Scheduler runs the reminder timer queue and the cron housekeeping jobs.
type Scheduler struct {
	cron      *cron.Cron
	cfg       *config.Config
	queue     *timerqueue.Queue
	deliverer timerqueue.DeliverFunc
	dialogs   *service.DialogService
	calendar  *service.CalendarService
	log       zerolog.Logger
}

func New(cfg *config.Config, now service.Clock, log zerolog.Logger) *Scheduler {
	log = log.With().Str("component", "scheduler").Logger()
	cl := cronLogger{log: log}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Timezone),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		cfg: cfg,
		log: log,
	}
	s.queue = timerqueue.New(timerqueue.Config{
		Now:     now,
		Workers: cfg.DeliveryWorkers,
	}, s.deliver, log)
	return s
}

// Queue returns the timer queue driven by the scheduler.
func (s *Scheduler) Queue() *timerqueue.Queue {
	return s.queue
}

// SetDeliverer sets the function that sends fired reminders. It must be set
// before Start.
func (s *Scheduler) SetDeliverer(fn timerqueue.DeliverFunc) {
	s.deliverer = fn
}

func (s *Scheduler) SetDialogs(d *service.DialogService) {
	s.dialogs = d
}

func (s *Scheduler) SetCalendar(c *service.CalendarService) {
	s.calendar = c
}

func (s *Scheduler) deliver(ctx context.Context, d timerqueue.Delivery) error {
	if s.deliverer == nil {
		return errors.New("no deliverer")
	}
	return s.deliverer(ctx, d)
}

// Start registers the housekeeping jobs and runs the timer queue until ctx
// is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.dialogs != nil {
		spec := fmt.Sprintf("@every %s", s.cfg.DialogTTL)
		if _, err := s.cron.AddFunc(spec, s.vacuumDialogs); err != nil {
			return fmt.Errorf("add dialog vacuum: %w", err)
		}
	}

	if s.calendar != nil && s.calendar.IsConfigured() {
		if _, err := s.cron.AddFunc(s.cfg.CalDAVSyncSpec, func() { s.resyncCalendar(ctx) }); err != nil {
			return fmt.Errorf("add caldav resync: %w", err)
		}
	}

	s.cron.Start()
	s.log.Info().Str("tz", s.cfg.Timezone.String()).Int("queued", s.queue.Len()).Msg("scheduler started")

	return s.queue.Run(ctx)
}

// Stop waits for running cron jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) vacuumDialogs() {
	if _, err := s.dialogs.Vacuum(); err != nil {
		s.log.Error().Err(err).Msg("dialog vacuum failed")
	}
}

func (s *Scheduler) resyncCalendar(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	res, err := s.calendar.Resync(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("caldav resync failed")
		return
	}
	for _, e := range res.Errors {
		s.log.Warn().Str("error", e).Msg("caldav resync item failed")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
