package database

import (
	"database/sql"
	"fmt"
	"time"
)

type UpsertResult string

const (
	Inserted UpsertResult = "inserted"
	Updated  UpsertResult = "updated"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Article is a stored article row.
type Article struct {
	ID            int64
	StoryID       string
	Headline      string
	Summary       string
	BodyText      string
	URL           string
	Source        string
	PublishedAt   time.Time
	Language      string
	Category      string
	UrgencyLevel  int
	PriorityScore int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type TickerLink struct {
	ArticleID int64
	Code      string
	Relevance float64
}

// RunSpec describes a fetch run at creation time.
type RunSpec struct {
	JobType     string
	Mode        string
	Category    string
	WindowStart *time.Time
	WindowEnd   *time.Time
}

type RunCounters struct {
	Fetched     int
	Inserted    int
	Updated     int
	Skipped     int
	FailedPages int
	APICalls    int
}

type FetchRun struct {
	ID           int64
	JobType      string
	Mode         string
	Category     string
	WindowStart  *time.Time
	WindowEnd    *time.Time
	StartedAt    time.Time
	EndedAt      *time.Time
	Counters     RunCounters
	Status       RunStatus
	ErrorMessage string
}

type CategoryCount struct {
	Category string
	Articles int
}

type Stats struct {
	TotalArticles     int
	DistinctSources   int
	EarliestArticle   *time.Time
	LatestArticle     *time.Time
	AvgHeadlineLength float64
	MissingBodies     int
	UnknownLanguage   int
	TickerLinks       int
	Categories        []CategoryCount
}

type MissingBody struct {
	ID      int64
	StoryID string
	URL     string
}

// Timestamps are stored as fixed-width UTC text so that SQL comparisons
// order them correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
