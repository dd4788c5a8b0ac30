package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetentionJobName is the name of the assessment purge job.
const RetentionJobName = "assessment-retention"

// Purger deletes assessments older than a cutoff.
type Purger interface {
	PurgeAssessmentsBefore(cutoff time.Time) (int64, error)
}

// RetentionTask returns a task that purges assessments older than days.
func RetentionTask(p Purger, days int, now func() time.Time, logger *slog.Logger) func(ctx context.Context) error {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if days <= 0 {
			return errors.New("retention days must be positive")
		}
		cutoff := now().UTC().AddDate(0, 0, -days)
		n, err := p.PurgeAssessmentsBefore(cutoff)
		if err != nil {
			return err
		}
		logger.Info("purged old assessments", "deleted", n, "cutoff", cutoff.Format(time.RFC3339))
		return nil
	}
}

// ScheduleRetention registers the purge job on s.
func ScheduleRetention(s *Scheduler, p Purger, cronExpr string, days int) error {
	_, err := s.AddCron(RetentionJobName, cronExpr, RetentionTask(p, days, nil, s.logger))
	return err
}
