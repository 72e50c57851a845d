package provider

import (
	"context"
	"time"

	"github.com/lysyi3m/wire-comb/app/news"
)

// Query selects headlines. Zero Start/End leave that side of the range open;
// the range is [Start, End).
type Query struct {
	Category string
	Start    time.Time
	End      time.Time
	PageSize int
}

// Page is one page of records. Next is the cursor of the following page, or
// 0 when the provider has no more records for the query.
type Page struct {
	Records []news.RawRecord
	Next    int
}

func (p Page) Done() bool {
	return p.Next == 0
}

// Provider is a news source. Cursors are 1-based page numbers so a caller can
// step over a page it failed to fetch.
type Provider interface {
	Name() string
	FetchPage(ctx context.Context, query Query, cursor int) (Page, error)
}

// BodyFetcher fetches the full story text for a stored headline.
type BodyFetcher interface {
	FetchBody(ctx context.Context, storyID, storyURL string) (string, error)
}

type Settings struct {
	Timeout        time.Duration
	MaxRetries     int
	RateLimitDelay time.Duration
	MaxBackoff     time.Duration
	NotReadyDelay  time.Duration
	MinInterval    time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		RateLimitDelay: time.Second,
		MaxBackoff:     30 * time.Second,
		NotReadyDelay:  15 * time.Second,
		MinInterval:    time.Second,
	}
}
