package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/lysyi3m/wire-comb/app/news"
)

var _ Provider = (*HTTPProvider)(nil)
var _ BodyFetcher = (*HTTPProvider)(nil)

type HTTPSettings struct {
	BaseURL   string
	APIKey    string
	UserAgent string
}

// HTTPProvider reads a JSON headlines API:
//
//	GET /news/headlines?category=&start=&end=&page=&per_page=
//	GET /news/stories/{storyId}
type HTTPProvider struct {
	client *resty.Client
}

type headlinesResponse struct {
	Headlines []headlineJSON `json:"headlines"`
	NextPage  int            `json:"nextPage"`
}

type headlineJSON struct {
	StoryID        string       `json:"storyId"`
	Text           string       `json:"text"`
	Summary        string       `json:"summary"`
	Body           string       `json:"body"`
	URL            string       `json:"url"`
	SourceCode     string       `json:"sourceCode"`
	VersionCreated string       `json:"versionCreated"`
	Tickers        []tickerJSON `json:"tickers"`
}

type tickerJSON struct {
	Code      string   `json:"code"`
	Relevance *float64 `json:"relevance"`
}

type storyResponse struct {
	StoryID string `json:"storyId"`
	Body    string `json:"body"`
}

func NewHTTPProvider(settings HTTPSettings) *HTTPProvider {
	client := resty.New().
		SetBaseURL(strings.TrimRight(settings.BaseURL, "/")).
		SetHeader("Accept", "application/json")

	if settings.UserAgent != "" {
		client.SetHeader("User-Agent", settings.UserAgent)
	}
	if settings.APIKey != "" {
		client.SetHeader("X-Api-Key", settings.APIKey)
	}

	return &HTTPProvider{client: client}
}

func (p *HTTPProvider) Name() string {
	return "http"
}

func (p *HTTPProvider) FetchPage(ctx context.Context, query Query, cursor int) (Page, error) {
	if cursor < 1 {
		cursor = 1
	}

	params := map[string]string{
		"page": strconv.Itoa(cursor),
	}
	if query.PageSize > 0 {
		params["per_page"] = strconv.Itoa(query.PageSize)
	}
	if query.Category != "" {
		params["category"] = query.Category
	}
	if !query.Start.IsZero() {
		params["start"] = query.Start.UTC().Format(time.RFC3339)
	}
	if !query.End.IsZero() {
		params["end"] = query.End.UTC().Format(time.RFC3339)
	}

	var out headlinesResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&out).
		Get("/news/headlines")
	if err != nil {
		return Page{}, classifyTransportError(err)
	}
	if err := classifyStatus(resp.StatusCode(), resp.Header().Get("Retry-After")); err != nil {
		return Page{}, err
	}

	records := make([]news.RawRecord, 0, len(out.Headlines))
	for _, h := range out.Headlines {
		records = append(records, h.toRecord())
	}

	next := out.NextPage
	if next <= cursor {
		next = 0
	}
	return Page{Records: records, Next: next}, nil
}

func (p *HTTPProvider) FetchBody(ctx context.Context, storyID, _ string) (string, error) {
	var out storyResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("storyId", storyID).
		SetResult(&out).
		Get("/news/stories/{storyId}")
	if err != nil {
		return "", classifyTransportError(err)
	}
	if err := classifyStatus(resp.StatusCode(), resp.Header().Get("Retry-After")); err != nil {
		return "", err
	}
	return out.Body, nil
}

func (h headlineJSON) toRecord() news.RawRecord {
	record := news.RawRecord{
		StoryID:     h.StoryID,
		Headline:    h.Text,
		Summary:     h.Summary,
		Body:        h.Body,
		URL:         h.URL,
		Source:      h.SourceCode,
		PublishedAt: parseTimestamp(h.VersionCreated),
	}
	for _, t := range h.Tickers {
		record.Tickers = append(record.Tickers, news.RawTicker{Code: t.Code, Relevance: t.Relevance})
	}
	return record
}

func parseTimestamp(value string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, strings.TrimSpace(value)); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func classifyStatus(code int, retryAfter string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(retryAfter)}
	case code == http.StatusRequestTimeout || code >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrTransient, code)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrPermanent, code)
	}
}

func classifyTransportError(err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var netErr net.Error

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return fmt.Errorf("%w: invalid response: %v", ErrPermanent, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %v", ErrTransient, err)
	default:
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
