package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/wire-comb/app/fetch"
)

// LatestJob pulls the newest headlines since the last successful run.
type LatestJob struct {
	runner   FetchRunner
	interval time.Duration
	lookback time.Duration
	count    int
	category string
}

func NewLatestJob(runner FetchRunner, interval, lookback time.Duration, count int, category string) *LatestJob {
	return &LatestJob{
		runner:   runner,
		interval: interval,
		lookback: lookback,
		count:    count,
		category: category,
	}
}

func (j *LatestJob) Type() JobType           { return JobLatest }
func (j *LatestJob) Interval() time.Duration { return j.interval }

func (j *LatestJob) Plan(now time.Time, mark *time.Time) (Window, bool) {
	now = now.UTC()
	start := now.Add(-j.lookback)
	if mark != nil {
		start = mark.UTC()
	}
	if !start.Before(now) {
		return Window{}, false
	}
	return Window{Start: start, End: now}, true
}

func (j *LatestJob) Execute(ctx context.Context, task *Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	summary, err := j.runner.Run(ctx, fetch.Request{
		Mode:     fetch.ModeSingle,
		JobType:  string(JobLatest),
		Category: j.category,
		Start:    task.Window.Start,
		End:      task.Window.End,
		Count:    j.count,
	})
	if err != nil {
		return fmt.Errorf("failed to fetch latest headlines: %w", err)
	}

	if summary.Truncated {
		slog.Warn("Latest window had more headlines than the count", "count", j.count, "start", task.Window.Start, "end", task.Window.End)
	}

	slog.Info("Task completed",
		"type", task.Type,
		"id", task.ID,
		"duration", task.GetDuration(),
		"run_id", summary.RunID,
		"inserted", summary.Counters.Inserted,
		"updated", summary.Counters.Updated,
		"api_calls", summary.Counters.APICalls)

	return nil
}
