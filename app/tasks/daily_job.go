package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/wire-comb/app/fetch"
)

// DailyJob backfills one full UTC day per execution, per category. It covers
// the oldest day not yet ingested within the catch-up horizon, so a daemon
// that was down for a few days catches up one day per check.
type DailyJob struct {
	runner        FetchRunner
	categories    []string
	interval      time.Duration
	hour          int
	catchUpDays   int
	categoryPause time.Duration
	fetchBodies   bool
}

func NewDailyJob(runner FetchRunner, categories []string, interval time.Duration, hour, catchUpDays int, categoryPause time.Duration, fetchBodies bool) *DailyJob {
	if len(categories) == 0 {
		categories = []string{""}
	}
	return &DailyJob{
		runner:        runner,
		categories:    categories,
		interval:      interval,
		hour:          hour,
		catchUpDays:   max(catchUpDays, 1),
		categoryPause: categoryPause,
		fetchBodies:   fetchBodies,
	}
}

func (j *DailyJob) Type() JobType           { return JobDaily }
func (j *DailyJob) Interval() time.Duration { return j.interval }

// Plan uses the watermark as the start of the first day that still needs
// ingesting.
func (j *DailyJob) Plan(now time.Time, mark *time.Time) (Window, bool) {
	now = now.UTC()
	today := startOfDay(now)
	if now.Hour() < j.hour {
		return Window{}, false
	}

	earliest := today.AddDate(0, 0, -j.catchUpDays)
	start := earliest
	if mark != nil {
		start = startOfDay(mark.UTC())
		if start.Before(earliest) {
			start = earliest
		}
	}

	if !start.Before(today) {
		return Window{}, false
	}
	return Window{Start: start, End: start.AddDate(0, 0, 1)}, true
}

func (j *DailyJob) Execute(ctx context.Context, task *Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var errs []error
	inserted, updated, gaps := 0, 0, 0

	for i, category := range j.categories {
		if i > 0 && j.categoryPause > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(append(errs, ctx.Err())...)
			case <-time.After(j.categoryPause):
			}
		}

		summary, err := j.runner.Run(ctx, fetch.Request{
			Mode:        fetch.ModeBackfill,
			JobType:     string(JobDaily),
			Category:    category,
			Start:       task.Window.Start,
			End:         task.Window.End,
			FetchBodies: j.fetchBodies,
		})
		if summary != nil {
			inserted += summary.Counters.Inserted
			updated += summary.Counters.Updated
			gaps += len(summary.Gaps)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to backfill category %q: %w", category, err))
			if ctx.Err() != nil {
				break
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("Task completed",
		"type", task.Type,
		"id", task.ID,
		"duration", task.GetDuration(),
		"day", task.Window.Start.Format(time.DateOnly),
		"categories", len(j.categories),
		"inserted", inserted,
		"updated", updated,
		"gaps", gaps)

	return nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
