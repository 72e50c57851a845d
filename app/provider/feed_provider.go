package provider

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/lysyi3m/wire-comb/app/news"
	"github.com/mmcdole/gofeed"
)

var _ Provider = (*FeedProvider)(nil)
var _ BodyFetcher = (*FeedProvider)(nil)

const defaultFeedPageSize = 50

// FeedProvider serves headlines from RSS/Atom feeds, one feed per category.
// Feeds carry no server-side paging, so date filtering and paging happen here.
type FeedProvider struct {
	feeds     map[string]string
	parser    *gofeed.Parser
	http      *resty.Client
	extractor *news.ContentExtractor
}

func NewFeedProvider(feeds map[string]string, userAgent string) *FeedProvider {
	parser := gofeed.NewParser()
	if userAgent != "" {
		parser.UserAgent = userAgent
	}

	client := resty.New()
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}

	return &FeedProvider{
		feeds:     feeds,
		parser:    parser,
		http:      client,
		extractor: news.NewContentExtractor(),
	}
}

func (p *FeedProvider) Name() string {
	return "rss"
}

func (p *FeedProvider) FetchPage(ctx context.Context, query Query, cursor int) (Page, error) {
	if cursor < 1 {
		cursor = 1
	}

	urls, err := p.feedURLs(query.Category)
	if err != nil {
		return Page{}, err
	}

	seen := make(map[string]bool)
	var records []news.RawRecord
	for _, url := range urls {
		feed, err := p.parser.ParseURLWithContext(url, ctx)
		if err != nil {
			return Page{}, classifyFeedError(err)
		}

		for _, item := range feed.Items {
			record := itemToRecord(feed, item)
			if seen[record.StoryID] || !inRange(record.PublishedAt, query.Start, query.End) {
				continue
			}
			seen[record.StoryID] = true
			records = append(records, record)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].PublishedAt.After(records[j].PublishedAt)
	})

	size := cmp.Or(query.PageSize, defaultFeedPageSize)
	from := (cursor - 1) * size
	if from >= len(records) {
		return Page{}, nil
	}
	to := min(from+size, len(records))

	page := Page{Records: records[from:to]}
	if to < len(records) {
		page.Next = cursor + 1
	}
	return page, nil
}

func (p *FeedProvider) FetchBody(ctx context.Context, _ string, storyURL string) (string, error) {
	if storyURL == "" {
		return "", fmt.Errorf("%w: story has no link", ErrPermanent)
	}

	resp, err := p.http.R().SetContext(ctx).Get(storyURL)
	if err != nil {
		return "", classifyTransportError(err)
	}
	if err := classifyStatus(resp.StatusCode(), resp.Header().Get("Retry-After")); err != nil {
		return "", err
	}

	contentType := resp.Header().Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "text/html") {
		return "", fmt.Errorf("%w: content type is not HTML: %s", ErrPermanent, contentType)
	}

	body, err := p.extractor.Run(resp.Body(), storyURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	return body, nil
}

func (p *FeedProvider) feedURLs(category string) ([]string, error) {
	if category != "" {
		url, ok := p.feeds[category]
		if !ok {
			return nil, fmt.Errorf("%w: no feed configured for category %q", ErrPermanent, category)
		}
		return []string{url}, nil
	}

	if len(p.feeds) == 0 {
		return nil, fmt.Errorf("%w: no feeds configured", ErrPermanent)
	}

	categories := make([]string, 0, len(p.feeds))
	for c := range p.feeds {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	urls := make([]string, 0, len(categories))
	for _, c := range categories {
		urls = append(urls, p.feeds[c])
	}
	return urls, nil
}

func itemToRecord(feed *gofeed.Feed, item *gofeed.Item) news.RawRecord {
	record := news.RawRecord{
		StoryID:  cmp.Or(item.GUID, item.Link),
		Headline: item.Title,
		Summary:  item.Description,
		Body:     item.Content,
		URL:      item.Link,
		Source:   feed.Title,
	}

	switch {
	case item.PublishedParsed != nil:
		record.PublishedAt = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		record.PublishedAt = item.UpdatedParsed.UTC()
	}

	return record
}

func inRange(t, start, end time.Time) bool {
	if t.IsZero() {
		return false
	}
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && !t.Before(end) {
		return false
	}
	return true
}

func classifyFeedError(err error) error {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests {
			return &RateLimitError{}
		}
		return classifyStatus(httpErr.StatusCode, "")
	}
	if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	return classifyTransportError(err)
}
