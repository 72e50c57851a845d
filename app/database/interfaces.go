package database

import (
	"context"
	"time"

	"github.com/lysyi3m/wire-comb/app/news"
)

type ArticleRepository interface {
	UpsertArticle(ctx context.Context, article news.Article) (int64, UpsertResult, error)
	LinkTickers(ctx context.Context, articleID int64, tickers []news.Ticker) error
	GetArticleByStoryID(ctx context.Context, storyID string) (*Article, error)
	GetTickers(ctx context.Context, articleID int64) ([]TickerLink, error)
	ListMissingBodies(ctx context.Context, category string, limit int) ([]MissingBody, error)
	UpdateBody(ctx context.Context, articleID int64, body string) error
	MarkBodyAttempt(ctx context.Context, articleID int64) error
	ListHeadlines(ctx context.Context, from, to time.Time, excludeStoryID string, limit int) ([]string, error)
	CountArticlesBefore(ctx context.Context, cutoff time.Time) (int, error)
	DeleteArticlesBefore(ctx context.Context, cutoff time.Time) (int, error)
	GetStats(ctx context.Context, category string) (*Stats, error)
}

type RunRepository interface {
	StartRun(ctx context.Context, spec RunSpec) (int64, error)
	UpdateRun(ctx context.Context, runID int64, counters RunCounters) error
	FinishRun(ctx context.Context, runID int64, status RunStatus, counters RunCounters, errorMessage string) error
	GetRun(ctx context.Context, runID int64) (*FetchRun, error)
	ListRuns(ctx context.Context, jobType string, limit int) ([]FetchRun, error)
	LastCompletedRun(ctx context.Context) (*FetchRun, error)
	CountRunsBefore(ctx context.Context, cutoff time.Time) (int, error)
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type WatermarkRepository interface {
	GetWatermark(ctx context.Context, jobType string) (*time.Time, error)
	AdvanceWatermark(ctx context.Context, jobType string, mark time.Time) error
	ListWatermarks(ctx context.Context) (map[string]time.Time, error)
}

var _ ArticleRepository = (*ArticleRepo)(nil)
var _ RunRepository = (*RunRepo)(nil)
var _ WatermarkRepository = (*WatermarkRepo)(nil)
