package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// MaintenanceJob applies the retention policy to articles and fetch runs.
type MaintenanceJob struct {
	articles      ArticleRetention
	runs          RunRetention
	interval      time.Duration
	period        time.Duration
	retentionDays int
}

func NewMaintenanceJob(articles ArticleRetention, runs RunRetention, interval, period time.Duration, retentionDays int) *MaintenanceJob {
	return &MaintenanceJob{
		articles:      articles,
		runs:          runs,
		interval:      interval,
		period:        period,
		retentionDays: retentionDays,
	}
}

func (j *MaintenanceJob) Type() JobType           { return JobMaintenance }
func (j *MaintenanceJob) Interval() time.Duration { return j.interval }

// Plan makes the job due at most once per period. The window starts at the
// retention cutoff and ends at now, which becomes the next watermark.
func (j *MaintenanceJob) Plan(now time.Time, mark *time.Time) (Window, bool) {
	now = now.UTC()
	if mark != nil && now.Sub(*mark) < j.period {
		return Window{}, false
	}
	return Window{Start: now.AddDate(0, 0, -j.retentionDays), End: now}, true
}

func (j *MaintenanceJob) Execute(ctx context.Context, task *Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	result, err := Cleanup(ctx, j.articles, j.runs, task.Window.Start)
	if err != nil {
		return err
	}

	slog.Info("Task completed",
		"type", task.Type,
		"id", task.ID,
		"duration", task.GetDuration(),
		"cutoff", task.Window.Start,
		"articles_deleted", result.ArticlesDeleted,
		"runs_deleted", result.RunsDeleted)

	return nil
}

type CleanupResult struct {
	Cutoff          time.Time
	ArticlesFound   int
	RunsFound       int
	ArticlesDeleted int
	RunsDeleted     int
}

// Cleanup deletes articles published and runs started before cutoff, logging
// how many rows qualify first.
func Cleanup(ctx context.Context, articles ArticleRetention, runs RunRetention, cutoff time.Time) (*CleanupResult, error) {
	result := &CleanupResult{Cutoff: cutoff}

	var err error
	if result.ArticlesFound, err = articles.CountArticlesBefore(ctx, cutoff); err != nil {
		return nil, fmt.Errorf("failed to count expired articles: %w", err)
	}
	if result.RunsFound, err = runs.CountRunsBefore(ctx, cutoff); err != nil {
		return nil, fmt.Errorf("failed to count expired fetch runs: %w", err)
	}

	slog.Info("Retention cleanup starting",
		"cutoff", cutoff,
		"articles", result.ArticlesFound,
		"runs", result.RunsFound)

	if result.ArticlesFound > 0 {
		if result.ArticlesDeleted, err = articles.DeleteArticlesBefore(ctx, cutoff); err != nil {
			return nil, fmt.Errorf("failed to delete expired articles: %w", err)
		}
	}
	if result.RunsFound > 0 {
		if result.RunsDeleted, err = runs.DeleteRunsBefore(ctx, cutoff); err != nil {
			return nil, fmt.Errorf("failed to delete expired fetch runs: %w", err)
		}
	}

	return result, nil
}
