// Package scheduler runs periodic maintenance tasks on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler wraps a gocron scheduler running in UTC.
type Scheduler struct {
	s      gocron.Scheduler
	logger *slog.Logger
}

// New creates a scheduler. Jobs start running after Start.
func New(logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(&gocronLogger{logger: logger.With("component", "scheduler")}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	return &Scheduler{s: s, logger: logger}, nil
}

// AddCron schedules task under a cron expression. The task receives a
// context that is cancelled on Shutdown.
func (s *Scheduler) AddCron(name, cronExpr string, task func(ctx context.Context) error) (time.Time, error) {
	job, err := s.s.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func(ctx context.Context) {
			start := time.Now()
			if err := task(ctx); err != nil {
				s.logger.Error("scheduled job failed", "name", name, "error", err)
				return
			}
			s.logger.Debug("scheduled job finished", "name", name, "duration", time.Since(start))
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduling job %q: %w", name, err)
	}
	s.logger.Info("job scheduled", "name", name, "cron", cronExpr)

	// NextRun is only known once the scheduler is running.
	next, _ := job.NextRun()
	return next, nil
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.s.Start()
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	if err := s.s.Shutdown(); err != nil {
		return fmt.Errorf("shutting down scheduler: %w", err)
	}
	return nil
}

// Jobs returns the names of scheduled jobs.
func (s *Scheduler) Jobs() []string {
	jobs := s.s.Jobs()
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.Name()
	}
	return out
}

// gocronLogger adapts slog to gocron.Logger.
type gocronLogger struct {
	logger *slog.Logger
}

func (l *gocronLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *gocronLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *gocronLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *gocronLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
