package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/lysyi3m/wire-comb/app/database"
	"github.com/lysyi3m/wire-comb/app/news"
	"github.com/lysyi3m/wire-comb/app/provider"
)

var day = time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

type pageResult struct {
	page provider.Page
	err  error
}

type fakeClient struct {
	pages   map[int]pageResult
	bodies  map[string]string
	cursors []int
}

func (c *fakeClient) FetchPage(ctx context.Context, query provider.Query, cursor int) (provider.Page, int, error) {
	c.cursors = append(c.cursors, cursor)
	res, ok := c.pages[cursor]
	if !ok {
		return provider.Page{}, 1, nil
	}
	if res.err != nil {
		return provider.Page{}, 4, res.err
	}
	return res.page, 1, nil
}

func (c *fakeClient) FetchBody(ctx context.Context, storyID, storyURL string) (string, int, error) {
	body, ok := c.bodies[storyID]
	if !ok {
		return "", 1, &provider.UnavailableError{Provider: "fake", Attempts: 1, Err: provider.ErrPermanent}
	}
	return body, 1, nil
}

type runRecord struct {
	spec     database.RunSpec
	status   database.RunStatus
	counters database.RunCounters
	message  string
	updates  int
}

type memStore struct {
	articles  map[string]news.Article
	ids       map[string]int64
	tickers   map[int64][]news.Ticker
	bodies    map[int64]string
	missing   []database.MissingBody
	attempts  map[int64]int
	runs      map[int64]*runRecord
	upsertErr error
}

func newMemStore() *memStore {
	return &memStore{
		articles: make(map[string]news.Article),
		ids:      make(map[string]int64),
		tickers:  make(map[int64][]news.Ticker),
		bodies:   make(map[int64]string),
		attempts: make(map[int64]int),
		runs:     make(map[int64]*runRecord),
	}
}

func (s *memStore) UpsertArticle(ctx context.Context, a news.Article) (int64, database.UpsertResult, error) {
	if s.upsertErr != nil {
		return 0, "", s.upsertErr
	}
	if id, ok := s.ids[a.StoryID]; ok {
		s.articles[a.StoryID] = a
		return id, database.Updated, nil
	}
	id := int64(len(s.ids) + 1)
	s.ids[a.StoryID] = id
	s.articles[a.StoryID] = a
	return id, database.Inserted, nil
}

func (s *memStore) LinkTickers(ctx context.Context, articleID int64, tickers []news.Ticker) error {
	s.tickers[articleID] = tickers
	return nil
}

func (s *memStore) ListMissingBodies(ctx context.Context, category string, limit int) ([]database.MissingBody, error) {
	var items []database.MissingBody
	for _, m := range s.missing {
		if s.bodies[m.ID] == "" && s.attempts[m.ID] < database.MaxBodyAttempts {
			items = append(items, m)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return s.attempts[items[i].ID] < s.attempts[items[j].ID]
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *memStore) MarkBodyAttempt(ctx context.Context, articleID int64) error {
	s.attempts[articleID]++
	return nil
}

func (s *memStore) ListHeadlines(ctx context.Context, from, to time.Time, excludeStoryID string, limit int) ([]string, error) {
	var headlines []string
	for id, a := range s.articles {
		if id != excludeStoryID && !a.PublishedAt.Before(from) && a.PublishedAt.Before(to) {
			headlines = append(headlines, a.Headline)
		}
	}
	return headlines, nil
}

func (s *memStore) UpdateBody(ctx context.Context, articleID int64, body string) error {
	s.bodies[articleID] = body
	return nil
}

func (s *memStore) StartRun(ctx context.Context, spec database.RunSpec) (int64, error) {
	id := int64(len(s.runs) + 1)
	s.runs[id] = &runRecord{spec: spec, status: database.RunRunning}
	return id, nil
}

func (s *memStore) UpdateRun(ctx context.Context, runID int64, c database.RunCounters) error {
	run := s.runs[runID]
	if run.status != database.RunRunning {
		return database.ErrRunFinalized
	}
	run.counters = c
	run.updates++
	return nil
}

func (s *memStore) FinishRun(ctx context.Context, runID int64, status database.RunStatus, c database.RunCounters, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	run := s.runs[runID]
	if run.status != database.RunRunning {
		return database.ErrRunFinalized
	}
	run.status = status
	run.counters = c
	run.message = message
	return nil
}

type stubDetector string

func (d stubDetector) Detect(string) string { return string(d) }

func records(prefix string, n int, published time.Time) []news.RawRecord {
	out := make([]news.RawRecord, 0, n)
	for i := range n {
		out = append(out, news.RawRecord{
			StoryID:     fmt.Sprintf("%s-%d", prefix, i),
			Headline:    fmt.Sprintf("Copper output rises at mine %d <CMCU3>", i),
			Source:      "NS:RTRS",
			PublishedAt: published.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func newTestOrchestrator(t *testing.T, client *fakeClient, store *memStore, settings Settings) *Orchestrator {
	t.Helper()
	normalizer, err := news.NewNormalizer(news.DefaultRules(), stubDetector("en"))
	if err != nil {
		t.Fatalf("Failed to create normalizer: %v", err)
	}
	return NewOrchestrator(client, normalizer, store, store, settings)
}

func unavailable() error {
	return &provider.UnavailableError{Provider: "fake", Attempts: 4, Err: provider.ErrTransient}
}

func TestOrchestrator_SingleStopsAtCount(t *testing.T) {
	client := &fakeClient{pages: map[int]pageResult{
		1: {page: provider.Page{Records: records("a", 3, day), Next: 2}},
		2: {page: provider.Page{Records: records("b", 3, day), Next: 3}},
		3: {page: provider.Page{Records: records("c", 3, day)}},
	}}
	store := newMemStore()
	o := newTestOrchestrator(t, client, store, DefaultSettings())

	summary, err := o.Run(context.Background(), Request{Mode: ModeSingle, JobType: "latest", Count: 4})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	assert.Equal(t, summary.Status, database.RunCompleted)
	assert.Equal(t, summary.Counters.Inserted, 4)
	assert.Equal(t, summary.Counters.APICalls, 2)
	assert.Equal(t, summary.Truncated, true)
	assert.Equal(t, client.cursors, []int{1, 2})
	assert.Equal(t, len(store.articles), 4)

	run := store.runs[summary.RunID]
	assert.Equal(t, run.status, database.RunCompleted)
	assert.Equal(t, run.spec.Mode, "single")
	assert.Equal(t, run.spec.JobType, "latest")
	assert.Equal(t, run.counters.Inserted, 4)

	stored := store.articles["a-0"]
	assert.Equal(t, stored.Source, "Reuters")
	assert.Equal(t, stored.Language, "en")
	assert.Equal(t, len(store.tickers[store.ids["a-0"]]), 1)
}

func TestOrchestrator_SingleCountIsCapped(t *testing.T) {
	client := &fakeClient{pages: map[int]pageResult{
		1: {page: provider.Page{Records: records("a", 5, day)}},
	}}
	store := newMemStore()
	settings := DefaultSettings()
	settings.MaxCount = 2
	o := newTestOrchestrator(t, client, store, settings)

	summary, err := o.Run(context.Background(), Request{Mode: ModeSingle, Count: 100})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	assert.Equal(t, summary.Counters.Inserted, 2)
}

func TestOrchestrator_SingleFailsOnPageError(t *testing.T) {
	client := &fakeClient{pages: map[int]pageResult{
		1: {page: provider.Page{Records: records("a", 2, day), Next: 2}},
		2: {err: unavailable()},
	}}
	store := newMemStore()
	o := newTestOrchestrator(t, client, store, DefaultSettings())

	summary, err := o.Run(context.Background(), Request{Mode: ModeSingle, Count: 10})
	if !errors.Is(err, provider.ErrProviderUnavailable) {
		t.Fatalf("Expected provider unavailable error, got %v", err)
	}

	assert.Equal(t, summary.Status, database.RunFailed)
	assert.Equal(t, summary.Counters.Inserted, 2)
	assert.Equal(t, summary.Counters.APICalls, 5)

	run := store.runs[summary.RunID]
	assert.Equal(t, run.status, database.RunFailed)
	if run.message == "" {
		t.Error("Expected failed run to carry an error message")
	}
}

func TestOrchestrator_BackfillSkipsFailedPage(t *testing.T) {
	client := &fakeClient{pages: map[int]pageResult{
		1: {page: provider.Page{Records: records("a", 2, day), Next: 2}},
		2: {err: unavailable()},
		3: {page: provider.Page{Records: records("c", 2, day.Add(time.Hour))}},
	}}
	store := newMemStore()
	settings := DefaultSettings()
	settings.MaxFailedPages = 1
	o := newTestOrchestrator(t, client, store, settings)

	summary, err := o.Run(context.Background(), Request{
		Mode:    ModeBackfill,
		JobType: "daily",
		Start:   day,
		End:     day.AddDate(0, 0, 1),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	assert.Equal(t, summary.Status, database.RunCompleted)
	assert.Equal(t, client.cursors, []int{1, 2, 3})
	assert.Equal(t, summary.Counters.Inserted, 4)
	assert.Equal(t, summary.Counters.FailedPages, 1)
	assert.Equal(t, len(summary.Gaps), 1)
	assert.Equal(t, summary.Gaps[0].Page, 2)
	assert.Equal(t, store.runs[summary.RunID].counters.FailedPages, 1)
}

func TestOrchestrator_BackfillFailsOverThreshold(t *testing.T) {
	client := &fakeClient{pages: map[int]pageResult{
		1: {page: provider.Page{Records: records("a", 2, day), Next: 2}},
		2: {err: unavailable()},
		3: {page: provider.Page{Records: records("c", 2, day)}},
	}}
	store := newMemStore()
	settings := DefaultSettings()
	settings.MaxFailedPages = 0
	o := newTestOrchestrator(t, client, store, settings)

	summary, err := o.Run(context.Background(), Request{
		Mode:  ModeBackfill,
		Start: day,
		End:   day.AddDate(0, 0, 1),
	})
	if err == nil {
		t.Fatal("Expected backfill to fail")
	}

	assert.Equal(t, summary.Status, database.RunFailed)
	assert.Equal(t, client.cursors, []int{1, 2})
	assert.Equal(t, summary.Counters.Inserted, 2)
	assert.Equal(t, store.runs[summary.RunID].status, database.RunFailed)
}

func TestOrchestrator_BackfillDropsRecordsOutsideRange(t *testing.T) {
	client := &fakeClient{pages: map[int]pageResult{
		1: {page: provider.Page{Records: append(records("in", 2, day), records("out", 1, day.AddDate(0, 0, 1))...)}},
	}}
	store := newMemStore()
	o := newTestOrchestrator(t, client, store, DefaultSettings())

	summary, err := o.Run(context.Background(), Request{
		Mode:  ModeBackfill,
		Start: day,
		End:   day.AddDate(0, 0, 1),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	assert.Equal(t, summary.Counters.Fetched, 3)
	assert.Equal(t, summary.Counters.Inserted, 2)
	assert.Equal(t, summary.Counters.Skipped, 1)
}

func TestOrchestrator_BackfillRequiresRange(t *testing.T) {
	o := newTestOrchestrator(t, &fakeClient{}, newMemStore(), DefaultSettings())

	_, err := o.Run(context.Background(), Request{Mode: ModeBackfill, Start: day})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for open range, got %v", err)
	}

	_, err = o.Run(context.Background(), Request{Mode: ModeBackfill, Start: day, End: day})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for empty range, got %v", err)
	}
}

func TestOrchestrator_RejectedRequestLeavesFailedRun(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(t, &fakeClient{}, store, DefaultSettings())

	summary, err := o.Run(context.Background(), Request{Mode: ModeBackfill, JobType: "daily", Category: "metals", Start: day})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("Expected ErrInvalidRequest, got %v", err)
	}
	assert.Equal(t, summary.Status, database.RunFailed)

	run := store.runs[summary.RunID]
	assert.Equal(t, run.status, database.RunFailed)
	assert.Equal(t, run.spec.Mode, "backfill")
	assert.Equal(t, run.spec.Category, "metals")
	assert.NotEqual(t, run.message, "")

	_, err = o.Run(context.Background(), Request{Mode: "sideways"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for unknown mode, got %v", err)
	}
	assert.Equal(t, len(store.runs), 1)
}

func TestOrchestrator_EmptyHeadlineAfterCleanupSkipped(t *testing.T) {
	page := records("a", 1, day)
	page = append(page, news.RawRecord{StoryID: "marker-only", Headline: "<CMCU3>", PublishedAt: day})
	client := &fakeClient{pages: map[int]pageResult{
		1: {page: provider.Page{Records: page}},
	}}
	store := newMemStore()
	o := newTestOrchestrator(t, client, store, DefaultSettings())

	summary, err := o.Run(context.Background(), Request{Mode: ModeSingle})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	assert.Equal(t, summary.Counters.Inserted, 1)
	assert.Equal(t, summary.Counters.Skipped, 1)
	if _, ok := store.articles["marker-only"]; ok {
		t.Error("Expected record with empty cleaned headline not to be stored")
	}
}

func TestOrchestrator_NearDuplicateHeadlines(t *testing.T) {
	headline := func(id, text string, published time.Time) news.RawRecord {
		return news.RawRecord{StoryID: id, Headline: text, PublishedAt: published}
	}
	page := []news.RawRecord{
		headline("first", "Copper strike halts shipments from Chile", day.Add(time.Hour)),
		headline("repeat", "COPPER: Strike halts shipments from Chile", day.Add(2*time.Hour)),
		headline("other", "Gold rallies on rate cut bets", day.Add(3*time.Hour)),
		headline("later", "Copper strike halts shipments from Chile", day.Add(72*time.Hour)),
	}
	client := &fakeClient{pages: map[int]pageResult{
		1: {page: provider.Page{Records: page}},
	}}
	store := newMemStore()
	settings := DefaultSettings()
	settings.Duplicates.Enabled = true
	o := newTestOrchestrator(t, client, store, settings)

	summary, err := o.Run(context.Background(), Request{Mode: ModeSingle})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	assert.Equal(t, summary.Counters.Inserted, 3)
	assert.Equal(t, summary.Counters.Skipped, 1)
	if _, ok := store.articles["repeat"]; ok {
		t.Error("Expected near-duplicate headline not to be stored")
	}

	// A re-delivered story is compared against others only, not itself.
	client.cursors = nil
	summary, err = o.Run(context.Background(), Request{Mode: ModeSingle})
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	assert.Equal(t, summary.Counters.Updated, 3)
}

func TestOrchestrator_FetchBodiesInline(t *testing.T) {
	client := &fakeClient{
		pages: map[int]pageResult{
			1: {page: provider.Page{Records: records("a", 2, day)}},
		},
		bodies: map[string]string{"a-0": "<p>Strike at the mine.</p>"},
	}
	store := newMemStore()
	o := newTestOrchestrator(t, client, store, DefaultSettings())

	summary, err := o.Run(context.Background(), Request{
		Mode:        ModeBackfill,
		Start:       day,
		End:         day.AddDate(0, 0, 1),
		FetchBodies: true,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	assert.Equal(t, summary.Counters.Inserted, 2)
	assert.Equal(t, summary.Counters.APICalls, 3)
	assert.Equal(t, store.articles["a-0"].BodyText, "Strike at the mine.")
	assert.Equal(t, store.articles["a-1"].BodyText, "")

	summary, err = o.Run(context.Background(), Request{Mode: ModeBackfill, Start: day, End: day.AddDate(0, 0, 1)})
	if err != nil {
		t.Fatalf("Run without bodies failed: %v", err)
	}
	assert.Equal(t, summary.Counters.APICalls, 1)
}

func TestOrchestrator_BackfillPageLimit(t *testing.T) {
	client := &fakeClient{pages: map[int]pageResult{
		1: {page: provider.Page{Records: records("a", 1, day), Next: 2}},
		2: {page: provider.Page{Records: records("b", 1, day), Next: 3}},
		3: {page: provider.Page{Records: records("c", 1, day), Next: 4}},
	}}
	store := newMemStore()
	settings := DefaultSettings()
	settings.MaxPages = 2
	o := newTestOrchestrator(t, client, store, settings)

	summary, err := o.Run(context.Background(), Request{Mode: ModeBackfill, Start: day, End: day.AddDate(0, 0, 1)})
	if err == nil {
		t.Fatal("Expected page limit to fail the backfill")
	}
	assert.Equal(t, summary.Status, database.RunFailed)
	assert.Equal(t, client.cursors, []int{1, 2})
}

func TestOrchestrator_PersistenceErrorAborts(t *testing.T) {
	client := &fakeClient{pages: map[int]pageResult{
		1: {page: provider.Page{Records: records("a", 3, day)}},
	}}
	store := newMemStore()
	store.upsertErr = &database.PersistenceError{Op: "upsert_article", Err: errors.New("disk I/O error")}
	o := newTestOrchestrator(t, client, store, DefaultSettings())

	summary, err := o.Run(context.Background(), Request{Mode: ModeSingle})
	if !errors.Is(err, database.ErrPersistence) {
		t.Fatalf("Expected persistence error, got %v", err)
	}
	assert.Equal(t, summary.Status, database.RunFailed)
	assert.Equal(t, summary.Counters.Fetched, 1)
}

func TestOrchestrator_CancelledRunIsFinalized(t *testing.T) {
	client := &fakeClient{pages: map[int]pageResult{
		1: {page: provider.Page{Records: records("a", 3, day), Next: 2}},
	}}
	store := newMemStore()
	o := newTestOrchestrator(t, client, store, DefaultSettings())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := o.Run(ctx, Request{Mode: ModeSingle})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected cancellation error, got %v", err)
	}
	assert.Equal(t, len(client.cursors), 0)
	assert.Equal(t, summary.Status, database.RunFailed)
	assert.Equal(t, store.runs[summary.RunID].status, database.RunFailed)
}

func TestOrchestrator_DuplicateAndInvalidRecords(t *testing.T) {
	page := records("a", 2, day)
	page = append(page, page[0], news.RawRecord{StoryID: "no-headline", PublishedAt: day})
	client := &fakeClient{pages: map[int]pageResult{
		1: {page: provider.Page{Records: page}},
	}}
	store := newMemStore()
	o := newTestOrchestrator(t, client, store, DefaultSettings())

	summary, err := o.Run(context.Background(), Request{Mode: ModeSingle})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	assert.Equal(t, summary.Counters.Fetched, 4)
	assert.Equal(t, summary.Counters.Inserted, 2)
	assert.Equal(t, summary.Counters.Skipped, 2)

	client.cursors = nil
	summary, err = o.Run(context.Background(), Request{Mode: ModeSingle})
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	assert.Equal(t, summary.Counters.Inserted, 0)
	assert.Equal(t, summary.Counters.Updated, 2)
	assert.Equal(t, len(store.articles), 2)
}

func TestOrchestrator_LanguageFilter(t *testing.T) {
	client := &fakeClient{pages: map[int]pageResult{
		1: {page: provider.Page{Records: records("a", 3, day)}},
	}}
	store := newMemStore()
	o := newTestOrchestrator(t, client, store, DefaultSettings())

	summary, err := o.Run(context.Background(), Request{Mode: ModeSingle, Language: "DE"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	assert.Equal(t, summary.Counters.Inserted, 0)
	assert.Equal(t, summary.Counters.Skipped, 3)
}

func TestOrchestrator_MinimumScore(t *testing.T) {
	rules := news.DefaultRules()
	rules.Priority.MinimumScore = 1000
	normalizer, err := news.NewNormalizer(rules, stubDetector("en"))
	if err != nil {
		t.Fatalf("Failed to create normalizer: %v", err)
	}

	client := &fakeClient{pages: map[int]pageResult{
		1: {page: provider.Page{Records: records("a", 2, day)}},
	}}
	store := newMemStore()
	o := NewOrchestrator(client, normalizer, store, store, DefaultSettings())

	summary, err := o.Run(context.Background(), Request{Mode: ModeSingle})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	assert.Equal(t, summary.Counters.Inserted, 0)
	assert.Equal(t, summary.Counters.Skipped, 2)
}

func TestOrchestrator_FillBodies(t *testing.T) {
	client := &fakeClient{bodies: map[string]string{
		"s1": "<p>Full story text.</p>",
		"s3": "   ",
	}}
	store := newMemStore()
	store.missing = []database.MissingBody{
		{ID: 1, StoryID: "s1"},
		{ID: 2, StoryID: "s2"},
		{ID: 3, StoryID: "s3"},
	}
	o := newTestOrchestrator(t, client, store, DefaultSettings())

	summary, err := o.FillBodies(context.Background(), "bodies", "", 10)
	if err != nil {
		t.Fatalf("FillBodies failed: %v", err)
	}

	assert.Equal(t, summary.Status, database.RunCompleted)
	assert.Equal(t, summary.Counters.Fetched, 3)
	assert.Equal(t, summary.Counters.Updated, 1)
	assert.Equal(t, summary.Counters.Skipped, 2)
	assert.Equal(t, summary.Counters.APICalls, 3)
	assert.Equal(t, store.bodies[1], "Full story text.")
	assert.Equal(t, store.runs[summary.RunID].spec.Mode, "bodies")
}

func TestOrchestrator_FillBodiesMovesPastFailures(t *testing.T) {
	client := &fakeClient{bodies: map[string]string{"old": "Old story text."}}
	store := newMemStore()
	store.missing = []database.MissingBody{
		{ID: 1, StoryID: "flash"},
		{ID: 2, StoryID: "old"},
	}
	o := newTestOrchestrator(t, client, store, DefaultSettings())

	for range 3 {
		if _, err := o.FillBodies(context.Background(), "bodies", "", 1); err != nil {
			t.Fatalf("FillBodies failed: %v", err)
		}
	}

	assert.Equal(t, store.bodies[2], "Old story text.")
	assert.Equal(t, store.attempts[1], 2)
	assert.Equal(t, store.attempts[2], 0)
}
