package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/vitalsignal/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Sender delivers a single dispatch request.
type Sender interface {
	Send(ctx context.Context, r Request) error
}

// Worker processes dispatch jobs from the SQLite job queue.
type Worker struct {
	store  JobStore
	sender Sender
	types  []string
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker that claims every dispatch job type.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, sender Sender, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		sender: sender,
		types:  JobTypes(),
		poll:   pollInterval,
		logger: slog.Default().With("component", "dispatch"),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and delivers a single dispatch job.
// Returns true if a job was processed, whether or not delivery succeeded.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(w.types)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.deliver(ctx, job); err != nil {
		w.logger.Warn("dispatch failed", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) deliver(ctx context.Context, job *storage.Job) error {
	r, err := decodeRequest(job)
	if err != nil {
		return err
	}
	if err := w.sender.Send(ctx, r); err != nil {
		return fmt.Errorf("sending %s for assessment %s: %w", r.Kind, r.AssessmentID, err)
	}
	w.logger.Debug("dispatched", "job_id", job.ID, "kind", r.Kind, "user_id", r.UserID, "assessment_id", r.AssessmentID)
	return nil
}
