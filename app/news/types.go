package news

import (
	"errors"
	"strings"
	"time"
)

// UnknownLanguage is stored when detection is disabled or not confident enough.
const UnknownLanguage = "unknown"

const (
	UrgencyHigh   = 1
	UrgencyMedium = 2
	UrgencyNormal = 3
)

// RawTicker is an instrument code as delivered by the provider. A nil
// Relevance means the provider gave no weighting.
type RawTicker struct {
	Code      string
	Relevance *float64
}

// RawRecord is one headline as delivered by a provider, before normalization.
type RawRecord struct {
	StoryID     string
	Headline    string
	Summary     string
	Body        string
	URL         string
	Source      string
	PublishedAt time.Time
	Tickers     []RawTicker
}

type Ticker struct {
	Code      string
	Relevance float64
}

// Article is the canonical form persisted by the store.
type Article struct {
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
	Tickers       []Ticker
}

var (
	ErrMissingStoryID     = errors.New("record has no story id")
	ErrMissingHeadline    = errors.New("record has no headline")
	ErrMissingPublishedAt = errors.New("record has no publication time")
)

// Validate reports whether a raw record carries the fields every article needs.
func (r RawRecord) Validate() error {
	if strings.TrimSpace(r.StoryID) == "" {
		return ErrMissingStoryID
	}
	if strings.TrimSpace(r.Headline) == "" {
		return ErrMissingHeadline
	}
	if r.PublishedAt.IsZero() {
		return ErrMissingPublishedAt
	}
	return nil
}

// Validate reports whether a normalized article still has the mandatory
// fields. Cleanup can empty a headline that consisted only of markup.
func (a Article) Validate() error {
	if a.StoryID == "" {
		return ErrMissingStoryID
	}
	if a.Headline == "" {
		return ErrMissingHeadline
	}
	if a.PublishedAt.IsZero() {
		return ErrMissingPublishedAt
	}
	return nil
}
