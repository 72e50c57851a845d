package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// HealthJob pings the store and warns when no fetch run has completed
// recently.
type HealthJob struct {
	db         Pinger
	runs       RunHistory
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

func NewHealthJob(db Pinger, runs RunHistory, interval, staleAfter time.Duration) *HealthJob {
	return &HealthJob{
		db:         db,
		runs:       runs,
		interval:   interval,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

func (j *HealthJob) Type() JobType           { return JobHealth }
func (j *HealthJob) Interval() time.Duration { return j.interval }

func (j *HealthJob) Plan(now time.Time, mark *time.Time) (Window, bool) {
	return Window{}, true
}

func (j *HealthJob) Execute(ctx context.Context, task *Task) error {
	if err := j.db.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping store: %w", err)
	}

	last, err := j.runs.LastCompletedRun(ctx)
	if err != nil {
		return fmt.Errorf("failed to load last completed run: %w", err)
	}

	if last == nil || last.EndedAt == nil {
		slog.Warn("No fetch run has completed yet")
		return nil
	}

	age := j.now().Sub(*last.EndedAt)
	if j.staleAfter > 0 && age > j.staleAfter {
		slog.Warn("Ingestion is stale",
			"last_run_id", last.ID,
			"last_job", last.JobType,
			"ended_at", last.EndedAt,
			"age", age.Round(time.Second),
			"stale_after", j.staleAfter)
		return nil
	}

	slog.Debug("Health check passed", "id", task.ID, "last_run_id", last.ID, "age", age.Round(time.Second))
	return nil
}
