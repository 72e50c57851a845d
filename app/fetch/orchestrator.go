package fetch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/wire-comb/app/database"
	"github.com/lysyi3m/wire-comb/app/news"
	"github.com/lysyi3m/wire-comb/app/provider"
)

var ErrInvalidRequest = errors.New("invalid fetch request")

// maxDuplicateCandidates bounds the headlines compared per article.
const maxDuplicateCandidates = 1000

// Orchestrator drives fetch runs: it pages through the client, normalizes
// every record and persists it, keeping the run's audit row up to date.
type Orchestrator struct {
	client     Client
	normalizer Normalizer
	articles   ArticleStore
	runs       RunStore
	settings   Settings
}

func NewOrchestrator(client Client, normalizer Normalizer, articles ArticleStore, runs RunStore, settings Settings) *Orchestrator {
	return &Orchestrator{
		client:     client,
		normalizer: normalizer,
		articles:   articles,
		runs:       runs,
		settings:   settings,
	}
}

// run carries the mutable state of one invocation.
type run struct {
	req     Request
	summary *Summary
	seen    map[string]bool
}

// Run executes one fetch and returns its summary. The returned error is
// non-nil exactly when the run did not complete.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Summary, error) {
	req, err := o.prepare(req)
	if err != nil {
		return o.reject(ctx, req, err)
	}

	started := time.Now()
	runID, err := o.runs.StartRun(ctx, o.runSpec(req))
	if err != nil {
		return nil, fmt.Errorf("failed to record fetch run: %w", err)
	}

	r := &run{
		req: req,
		summary: &Summary{
			RunID:    runID,
			Mode:     req.Mode,
			JobType:  req.JobType,
			Category: req.Category,
			Status:   database.RunRunning,
		},
		seen: make(map[string]bool),
	}

	slog.Debug("Fetch run started",
		"run_id", runID,
		"mode", req.Mode,
		"job", req.JobType,
		"category", req.Category,
		"start", req.Start,
		"end", req.End)

	switch req.Mode {
	case ModeSingle:
		err = o.runSingle(ctx, r)
	case ModeBackfill:
		err = o.runBackfill(ctx, r)
	}

	r.summary.Duration = time.Since(started)
	return o.finish(ctx, r.summary, err)
}

func (o *Orchestrator) prepare(req Request) (Request, error) {
	req.Start = req.Start.UTC()
	req.End = req.End.UTC()
	req.PageSize = cmp.Or(req.PageSize, o.settings.PageSize)
	req.MaxPages = cmp.Or(req.MaxPages, o.settings.MaxPages)
	if req.Language != "" {
		req.Language = news.CanonicalLanguage(req.Language)
	}

	if !req.Start.IsZero() && !req.End.IsZero() && !req.Start.Before(req.End) {
		return req, fmt.Errorf("%w: start %s is not before end %s", ErrInvalidRequest, req.Start, req.End)
	}

	switch req.Mode {
	case ModeSingle:
		req.Count = cmp.Or(req.Count, o.settings.DefaultCount)
		if req.Count < 0 {
			return req, fmt.Errorf("%w: count must be positive", ErrInvalidRequest)
		}
		if o.settings.MaxCount > 0 && req.Count > o.settings.MaxCount {
			slog.Warn("Requested count capped", "requested", req.Count, "max", o.settings.MaxCount)
			req.Count = o.settings.MaxCount
		}
	case ModeBackfill:
		if req.Start.IsZero() || req.End.IsZero() {
			return req, fmt.Errorf("%w: backfill needs both start and end", ErrInvalidRequest)
		}
	default:
		return req, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}

	return req, nil
}

// reject records a request that failed validation as a failed run. Requests
// with an unknown mode cannot be recorded.
func (o *Orchestrator) reject(ctx context.Context, req Request, reason error) (*Summary, error) {
	if req.Mode != ModeSingle && req.Mode != ModeBackfill {
		return nil, reason
	}

	runID, err := o.runs.StartRun(ctx, o.runSpec(req))
	if err != nil {
		return nil, errors.Join(reason, fmt.Errorf("failed to record fetch run: %w", err))
	}

	return o.finish(ctx, &Summary{
		RunID:    runID,
		Mode:     req.Mode,
		JobType:  req.JobType,
		Category: req.Category,
		Status:   database.RunRunning,
	}, reason)
}

func (o *Orchestrator) runSpec(req Request) database.RunSpec {
	spec := database.RunSpec{
		JobType:  req.JobType,
		Mode:     string(req.Mode),
		Category: req.Category,
	}
	if !req.Start.IsZero() {
		start := req.Start
		spec.WindowStart = &start
	}
	if !req.End.IsZero() {
		end := req.End
		spec.WindowEnd = &end
	}
	return spec
}

func (o *Orchestrator) query(req Request) provider.Query {
	return provider.Query{
		Category: req.Category,
		Start:    req.Start,
		End:      req.End,
		PageSize: req.PageSize,
	}
}

// runSingle stops at the first page failure.
func (o *Orchestrator) runSingle(ctx context.Context, r *run) error {
	query := o.query(r.req)
	cursor := 1

	for pages := 0; ; pages++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("fetch cancelled: %w", err)
		}
		if r.req.MaxPages > 0 && pages >= r.req.MaxPages {
			slog.Warn("Page limit reached before count", "run_id", r.summary.RunID, "pages", pages)
			r.summary.Truncated = true
			return nil
		}

		page, calls, err := o.client.FetchPage(ctx, query, cursor)
		r.summary.Counters.APICalls += calls
		if err != nil {
			return fmt.Errorf("failed to fetch page %d: %w", cursor, err)
		}

		full, err := o.processRecords(ctx, r, page.Records)
		if cpErr := o.checkpoint(ctx, r.summary); err == nil {
			err = cpErr
		}
		if err != nil {
			return err
		}

		if full {
			r.summary.Truncated = !page.Done()
			return nil
		}
		if page.Done() {
			return nil
		}
		cursor = page.Next
	}
}

// runBackfill steps over pages that exhaust their retries and fails the run
// once more than MaxFailedPages pages are missing.
func (o *Orchestrator) runBackfill(ctx context.Context, r *run) error {
	query := o.query(r.req)
	cursor := 1

	for pages := 0; ; pages++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("backfill cancelled: %w", err)
		}
		if r.req.MaxPages > 0 && pages >= r.req.MaxPages {
			return fmt.Errorf("backfill stopped after %d pages before reaching the end of the range", pages)
		}

		page, calls, err := o.client.FetchPage(ctx, query, cursor)
		r.summary.Counters.APICalls += calls
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("backfill cancelled: %w", ctx.Err())
			}
			if !errors.Is(err, provider.ErrProviderUnavailable) {
				return fmt.Errorf("failed to fetch page %d: %w", cursor, err)
			}

			r.summary.Counters.FailedPages++
			r.summary.Gaps = append(r.summary.Gaps, Gap{Page: cursor, Error: err.Error()})
			slog.Warn("Backfill page failed, continuing",
				"run_id", r.summary.RunID,
				"page", cursor,
				"failed_pages", r.summary.Counters.FailedPages,
				"max_failed_pages", o.settings.MaxFailedPages,
				"error", err)

			if err := o.checkpoint(ctx, r.summary); err != nil {
				return err
			}
			if r.summary.Counters.FailedPages > o.settings.MaxFailedPages {
				return fmt.Errorf("%d pages failed, more than the allowed %d: %w",
					r.summary.Counters.FailedPages, o.settings.MaxFailedPages, err)
			}

			cursor++
			continue
		}

		_, err = o.processRecords(ctx, r, page.Records)
		if cpErr := o.checkpoint(ctx, r.summary); err == nil {
			err = cpErr
		}
		if err != nil {
			return err
		}

		if page.Done() {
			break
		}
		cursor = page.Next
	}

	if len(r.summary.Gaps) > 0 {
		pages := make([]int, 0, len(r.summary.Gaps))
		for _, g := range r.summary.Gaps {
			pages = append(pages, g.Page)
		}
		slog.Warn("Backfill completed with gaps",
			"run_id", r.summary.RunID,
			"category", r.req.Category,
			"start", r.req.Start,
			"end", r.req.End,
			"missing_pages", pages)
	}

	return nil
}

// processRecords normalizes and stores a page of records. It reports whether
// the single-mode count has been reached.
func (o *Orchestrator) processRecords(ctx context.Context, r *run, records []news.RawRecord) (bool, error) {
	c := &r.summary.Counters

	for _, raw := range records {
		if err := ctx.Err(); err != nil {
			return false, fmt.Errorf("fetch cancelled: %w", err)
		}
		if r.req.Mode == ModeSingle && c.Inserted+c.Updated >= r.req.Count {
			return true, nil
		}

		c.Fetched++

		if err := raw.Validate(); err != nil {
			c.Skipped++
			slog.Debug("Invalid record skipped", "run_id", r.summary.RunID, "story_id", raw.StoryID, "error", err)
			continue
		}

		article := o.normalizer.Normalize(raw, r.req.Category)
		if err := article.Validate(); err != nil {
			c.Skipped++
			slog.Debug("Record empty after cleanup", "run_id", r.summary.RunID, "story_id", raw.StoryID, "error", err)
			continue
		}
		if r.seen[article.StoryID] || !o.inRange(r.req, article) {
			c.Skipped++
			continue
		}

		if r.req.FetchBodies && article.BodyText == "" {
			var err error
			if article, err = o.fetchBody(ctx, r, raw, article); err != nil {
				return false, err
			}
		}

		if !o.matchesLanguage(r.req, article) || !o.normalizer.Retain(article) {
			c.Skipped++
			continue
		}

		duplicate, err := o.nearDuplicate(ctx, article)
		if err != nil {
			return false, err
		}
		if duplicate {
			c.Skipped++
			slog.Debug("Near-duplicate headline skipped", "run_id", r.summary.RunID, "story_id", article.StoryID)
			continue
		}

		id, result, err := o.articles.UpsertArticle(ctx, article)
		if err != nil {
			return false, fmt.Errorf("failed to store article %s: %w", article.StoryID, err)
		}
		if err := o.articles.LinkTickers(ctx, id, article.Tickers); err != nil {
			return false, fmt.Errorf("failed to link tickers of article %s: %w", article.StoryID, err)
		}

		r.seen[article.StoryID] = true
		switch result {
		case database.Inserted:
			c.Inserted++
		case database.Updated:
			c.Updated++
		}
	}

	return r.req.Mode == ModeSingle && c.Inserted+c.Updated >= r.req.Count, nil
}

// inRange drops records the provider returned outside the requested window.
func (o *Orchestrator) inRange(req Request, a news.Article) bool {
	if !req.Start.IsZero() && a.PublishedAt.Before(req.Start) {
		return false
	}
	if !req.End.IsZero() && !a.PublishedAt.Before(req.End) {
		return false
	}
	return true
}

func (o *Orchestrator) matchesLanguage(req Request, a news.Article) bool {
	return req.Language == "" || a.Language == req.Language
}

// fetchBody fills in the story body and renormalizes, since language and
// scores depend on it. A body that cannot be fetched leaves the article as is.
func (o *Orchestrator) fetchBody(ctx context.Context, r *run, raw news.RawRecord, article news.Article) (news.Article, error) {
	body, calls, err := o.client.FetchBody(ctx, raw.StoryID, raw.URL)
	r.summary.Counters.APICalls += calls
	if err != nil {
		if ctx.Err() != nil {
			return article, fmt.Errorf("fetch cancelled: %w", ctx.Err())
		}
		slog.Debug("Story body not available", "run_id", r.summary.RunID, "story_id", raw.StoryID, "error", err)
		return article, nil
	}

	raw.Body = body
	return o.normalizer.Normalize(raw, r.req.Category), nil
}

// nearDuplicate reports whether a stored article published close to a has a
// headline at least as similar as the configured threshold.
func (o *Orchestrator) nearDuplicate(ctx context.Context, a news.Article) (bool, error) {
	rules := o.settings.Duplicates
	if !rules.Enabled {
		return false, nil
	}

	window := time.Duration(rules.CheckWindowHours) * time.Hour
	headlines, err := o.articles.ListHeadlines(ctx, a.PublishedAt.Add(-window), a.PublishedAt.Add(window), a.StoryID, maxDuplicateCandidates)
	if err != nil {
		return false, fmt.Errorf("failed to load headlines for duplicate check: %w", err)
	}

	return news.MostSimilar(a.Headline, headlines) >= rules.SimilarityThreshold, nil
}

func (o *Orchestrator) checkpoint(ctx context.Context, s *Summary) error {
	if err := o.runs.UpdateRun(context.WithoutCancel(ctx), s.RunID, s.Counters); err != nil {
		return fmt.Errorf("failed to update fetch run: %w", err)
	}
	return nil
}

// finish finalizes the run row. Finalization ignores cancellation so that a
// cancelled run is still recorded as failed.
func (o *Orchestrator) finish(ctx context.Context, s *Summary, runErr error) (*Summary, error) {
	status := database.RunCompleted
	message := ""
	if runErr != nil {
		status = database.RunFailed
		message = runErr.Error()
	}

	if err := o.runs.FinishRun(context.WithoutCancel(ctx), s.RunID, status, s.Counters, message); err != nil {
		slog.Error("Failed to finalize fetch run", "run_id", s.RunID, "error", err)
		status = database.RunFailed
		runErr = errors.Join(runErr, fmt.Errorf("failed to finalize fetch run: %w", err))
	}

	s.Status = status
	s.Err = runErr

	attrs := []any{
		"run_id", s.RunID,
		"mode", s.Mode,
		"job", s.JobType,
		"category", s.Category,
		"status", s.Status,
		"duration", s.Duration,
		"fetched", s.Counters.Fetched,
		"inserted", s.Counters.Inserted,
		"updated", s.Counters.Updated,
		"skipped", s.Counters.Skipped,
		"failed_pages", s.Counters.FailedPages,
		"api_calls", s.Counters.APICalls,
	}
	if runErr != nil {
		slog.Error("Fetch run failed", append(attrs, "error", runErr)...)
		return s, runErr
	}

	slog.Info("Fetch run completed", attrs...)
	return s, nil
}
