package scheduler

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

type fakePurger struct {
	cutoff time.Time
	n      int64
	err    error
	calls  int
}

func (f *fakePurger) PurgeAssessmentsBefore(cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return f.n, f.err
}

func TestRetentionTask_Cutoff(t *testing.T) {
	now := time.Date(2026, 6, 10, 3, 0, 0, 0, time.UTC)
	p := &fakePurger{n: 4}

	task := RetentionTask(p, 30, func() time.Time { return now }, nil)
	if err := task(context.Background()); err != nil {
		t.Fatalf("task: %v", err)
	}
	want := time.Date(2026, 5, 11, 3, 0, 0, 0, time.UTC)
	if !p.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", p.cutoff, want)
	}
}

func TestRetentionTask_Errors(t *testing.T) {
	boom := errors.New("disk full")

	p := &fakePurger{err: boom}
	if err := RetentionTask(p, 30, nil, nil)(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}

	p = &fakePurger{}
	if err := RetentionTask(p, 0, nil, nil)(context.Background()); err == nil {
		t.Error("expected error for zero retention days")
	}
	if p.calls != 0 {
		t.Errorf("purger called %d times, want 0", p.calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := RetentionTask(p, 30, nil, nil)(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestScheduleRetention(t *testing.T) {
	s, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Shutdown()

	if err := ScheduleRetention(s, &fakePurger{}, "0 3 * * *", 90); err != nil {
		t.Fatalf("ScheduleRetention: %v", err)
	}
	if got := s.Jobs(); !slices.Equal(got, []string{RetentionJobName}) {
		t.Errorf("Jobs = %v", got)
	}
}

func TestScheduleRetention_InvalidCron(t *testing.T) {
	s, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Shutdown()

	if err := ScheduleRetention(s, &fakePurger{}, "every day", 90); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}
