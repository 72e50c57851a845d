package fetch

import (
	"context"
	"time"

	"github.com/lysyi3m/wire-comb/app/database"
	"github.com/lysyi3m/wire-comb/app/news"
	"github.com/lysyi3m/wire-comb/app/provider"
)

type Mode string

const (
	ModeSingle   Mode = "single"
	ModeBackfill Mode = "backfill"
	ModeBodies   Mode = "bodies"
)

// Request describes one fetch operation. Zero Start/End leave that side of
// the range open; backfill requires both.
type Request struct {
	Mode     Mode
	JobType  string
	Category string
	Language string
	Start    time.Time
	End      time.Time
	Count    int
	PageSize int
	MaxPages int

	// FetchBodies fetches the story body of records delivered without one.
	FetchBodies bool
}

// Gap is a backfill page that could not be fetched.
type Gap struct {
	Page  int
	Error string
}

type Summary struct {
	RunID     int64
	Mode      Mode
	JobType   string
	Category  string
	Status    database.RunStatus
	Counters  database.RunCounters
	Gaps      []Gap
	Truncated bool
	Duration  time.Duration
	Err       error
}

func (s *Summary) Succeeded() bool {
	return s != nil && s.Status == database.RunCompleted
}

type Settings struct {
	PageSize       int
	DefaultCount   int
	MaxCount       int
	MaxFailedPages int
	MaxPages       int
	Duplicates     news.DuplicateRules
}

func DefaultSettings() Settings {
	return Settings{
		PageSize:       50,
		DefaultCount:   50,
		MaxCount:       500,
		MaxFailedPages: 3,
		MaxPages:       1000,
		Duplicates: news.DuplicateRules{
			SimilarityThreshold: news.DefaultSimilarityThreshold,
			CheckWindowHours:    news.DefaultCheckWindowHours,
		},
	}
}

type Client interface {
	FetchPage(ctx context.Context, query provider.Query, cursor int) (provider.Page, int, error)
	FetchBody(ctx context.Context, storyID, storyURL string) (string, int, error)
}

type Normalizer interface {
	Normalize(raw news.RawRecord, category string) news.Article
	Retain(article news.Article) bool
}

type ArticleStore interface {
	UpsertArticle(ctx context.Context, article news.Article) (int64, database.UpsertResult, error)
	LinkTickers(ctx context.Context, articleID int64, tickers []news.Ticker) error
	ListMissingBodies(ctx context.Context, category string, limit int) ([]database.MissingBody, error)
	UpdateBody(ctx context.Context, articleID int64, body string) error
	MarkBodyAttempt(ctx context.Context, articleID int64) error
	ListHeadlines(ctx context.Context, from, to time.Time, excludeStoryID string, limit int) ([]string, error)
}

type RunStore interface {
	StartRun(ctx context.Context, spec database.RunSpec) (int64, error)
	UpdateRun(ctx context.Context, runID int64, counters database.RunCounters) error
	FinishRun(ctx context.Context, runID int64, status database.RunStatus, counters database.RunCounters, errorMessage string) error
}

var _ Client = (*provider.Client)(nil)
var _ Normalizer = (*news.Normalizer)(nil)
var _ ArticleStore = (*database.ArticleRepo)(nil)
var _ RunStore = (*database.RunRepo)(nil)
