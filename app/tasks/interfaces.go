package tasks

import (
	"context"
	"time"

	"github.com/lysyi3m/wire-comb/app/database"
	"github.com/lysyi3m/wire-comb/app/fetch"
	"github.com/lysyi3m/wire-comb/app/state"
)

// WatermarkStore persists the per-job watermarks. Both the sqlite store and
// the bbolt state file implement it.
type WatermarkStore interface {
	GetWatermark(ctx context.Context, jobType string) (*time.Time, error)
	AdvanceWatermark(ctx context.Context, jobType string, mark time.Time) error
}

// FetchRunner starts fetch runs.
type FetchRunner interface {
	Run(ctx context.Context, req fetch.Request) (*fetch.Summary, error)
}

type ArticleRetention interface {
	CountArticlesBefore(ctx context.Context, cutoff time.Time) (int, error)
	DeleteArticlesBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type RunRetention interface {
	CountRunsBefore(ctx context.Context, cutoff time.Time) (int, error)
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type RunHistory interface {
	LastCompletedRun(ctx context.Context) (*database.FetchRun, error)
}

var _ WatermarkStore = (*database.WatermarkRepo)(nil)
var _ WatermarkStore = (*state.BoltStore)(nil)
var _ FetchRunner = (*fetch.Orchestrator)(nil)
var _ ArticleRetention = (*database.ArticleRepo)(nil)
var _ RunRetention = (*database.RunRepo)(nil)
var _ Pinger = (*database.DB)(nil)
var _ RunHistory = (*database.RunRepo)(nil)

// TaskSchedulerInterface is what the daemon and the status server use.
type TaskSchedulerInterface interface {
	Start()
	Stop()
	RunOnce(ctx context.Context, jobType JobType) error
	Trigger(jobType JobType) error
	Status() []JobStatus
}
