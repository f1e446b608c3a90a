package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// DefaultPromoSweepCron runs the promo sweep at the top of every hour.
const DefaultPromoSweepCron = "0 * * * *"

type Scheduler interface {
	RegisterTasks() error
	Run()
	Shutdown()
}

type scheduler struct {
	asynqScheduler *asynq.Scheduler
	promoCron      string
	log            *slog.Logger
}

func NewScheduler(redisOpt asynq.RedisConnOpt, promoCron string, log *slog.Logger) Scheduler {
	if promoCron == "" {
		promoCron = DefaultPromoSweepCron
	}

	return &scheduler{
		asynqScheduler: asynq.NewScheduler(redisOpt, nil),
		promoCron:      promoCron,
		log:            log,
	}
}

func (s *scheduler) RegisterTasks() error {
	task, err := NewPromoSweepTask()
	if err != nil {
		return err
	}

	if _, err := s.asynqScheduler.Register(s.promoCron, task); err != nil {
		return err
	}

	if s.log != nil {
		s.log.InfoContext(context.Background(), "scheduler: registered promo sweep task", slog.String("cron", s.promoCron))
	}

	return nil
}

func (s *scheduler) Run() {
	if s.log != nil {
		s.log.InfoContext(context.Background(), "scheduler: starting")
	}

	go func() {
		if err := s.asynqScheduler.Run(); err != nil && s.log != nil {
			s.log.ErrorContext(context.Background(), "scheduler: run failed", "error", err)
		}
	}()
}

func (s *scheduler) Shutdown() {
	if s.log != nil {
		s.log.InfoContext(context.Background(), "scheduler: shutting down")
	}

	s.asynqScheduler.Shutdown()
}
