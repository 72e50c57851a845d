package api

import (
	"context"

	"github.com/lysyi3m/wire-comb/app/database"
	"github.com/lysyi3m/wire-comb/app/tasks"
)

type StatsStore interface {
	GetStats(ctx context.Context, category string) (*database.Stats, error)
}

type RunStore interface {
	ListRuns(ctx context.Context, jobType string, limit int) ([]database.FetchRun, error)
	LastCompletedRun(ctx context.Context) (*database.FetchRun, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

var _ StatsStore = (*database.ArticleRepo)(nil)
var _ RunStore = (*database.RunRepo)(nil)
var _ Pinger = (*database.DB)(nil)

type Handler struct {
	db        Pinger
	stats     StatsStore
	runs      RunStore
	scheduler tasks.TaskSchedulerInterface
}
