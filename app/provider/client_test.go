package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/wire-comb/app/news"
)

// scriptedProvider returns the scripted errors in order, then succeeds.
type scriptedProvider struct {
	mu      sync.Mutex
	errs    []error
	calls   int
	cursors []int
	block   bool
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) FetchPage(ctx context.Context, query Query, cursor int) (Page, error) {
	p.mu.Lock()
	p.calls++
	p.cursors = append(p.cursors, cursor)
	var err error
	if len(p.errs) > 0 {
		err = p.errs[0]
		p.errs = p.errs[1:]
	}
	block := p.block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return Page{}, ctx.Err()
	}
	if err != nil {
		return Page{}, err
	}
	return Page{Records: []news.RawRecord{{StoryID: "s1"}}, Next: cursor + 1}, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestClient(p Provider, settings Settings) (*Client, *sleepRecorder) {
	c := NewClient(p, settings)
	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	return c, rec
}

func testSettings() Settings {
	return Settings{
		Timeout:        time.Second,
		MaxRetries:     3,
		RateLimitDelay: time.Second,
		MaxBackoff:     3 * time.Second,
		NotReadyDelay:  20 * time.Second,
	}
}

func TestClient_SuccessFirstAttempt(t *testing.T) {
	p := &scriptedProvider{}
	c, rec := newTestClient(p, testSettings())

	page, calls, err := c.FetchPage(context.Background(), Query{}, 1)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
	if len(page.Records) != 1 || page.Next != 2 {
		t.Errorf("Unexpected page %+v", page)
	}
	if len(rec.delays) != 0 {
		t.Errorf("Expected no sleeps, got %v", rec.delays)
	}
}

func TestClient_RetriesTransientWithBackoff(t *testing.T) {
	p := &scriptedProvider{errs: []error{ErrTransient, &RateLimitError{}, ErrTransient}}
	c, rec := newTestClient(p, testSettings())

	_, calls, err := c.FetchPage(context.Background(), Query{}, 1)
	if err != nil {
		t.Fatalf("Expected success on 4th attempt, got %v", err)
	}
	if calls != 4 {
		t.Errorf("Expected 4 calls, got %d", calls)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if fmt.Sprint(rec.delays) != fmt.Sprint(want) {
		t.Errorf("Expected delays %v, got %v", want, rec.delays)
	}
}

func TestClient_ExhaustedRetries(t *testing.T) {
	p := &scriptedProvider{errs: []error{ErrTransient, ErrTransient, ErrTransient, ErrTransient}}
	c, _ := newTestClient(p, testSettings())

	_, calls, err := c.FetchPage(context.Background(), Query{}, 1)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("Expected ErrProviderUnavailable, got %v", err)
	}
	if !errors.Is(err, ErrTransient) {
		t.Errorf("Expected cause to be kept, got %v", err)
	}
	if calls != 4 {
		t.Errorf("Expected 4 calls, got %d", calls)
	}

	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) || unavailable.Attempts != 4 {
		t.Errorf("Expected UnavailableError with 4 attempts, got %v", err)
	}
}

func TestClient_NotReadyUsesOwnDelay(t *testing.T) {
	p := &scriptedProvider{errs: []error{ErrNotReady, ErrNotReady}}
	c, rec := newTestClient(p, testSettings())

	if _, _, err := c.FetchPage(context.Background(), Query{}, 1); err != nil {
		t.Fatalf("Expected success, got %v", err)
	}

	want := []time.Duration{20 * time.Second, 20 * time.Second}
	if fmt.Sprint(rec.delays) != fmt.Sprint(want) {
		t.Errorf("Expected delays %v, got %v", want, rec.delays)
	}
}

func TestClient_RetryAfterHonoured(t *testing.T) {
	p := &scriptedProvider{errs: []error{&RateLimitError{RetryAfter: 10 * time.Second}}}
	c, rec := newTestClient(p, testSettings())

	if _, _, err := c.FetchPage(context.Background(), Query{}, 1); err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if len(rec.delays) != 1 || rec.delays[0] != 10*time.Second {
		t.Errorf("Expected Retry-After delay of 10s, got %v", rec.delays)
	}
}

func TestClient_PermanentNotRetried(t *testing.T) {
	p := &scriptedProvider{errs: []error{fmt.Errorf("%w: HTTP 400", ErrPermanent)}}
	c, rec := newTestClient(p, testSettings())

	_, calls, err := c.FetchPage(context.Background(), Query{}, 1)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("Expected ErrProviderUnavailable, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
	if len(rec.delays) != 0 {
		t.Errorf("Expected no retry sleeps, got %v", rec.delays)
	}
}

func TestClient_AttemptTimeoutIsTransient(t *testing.T) {
	p := &scriptedProvider{block: true}
	settings := testSettings()
	settings.Timeout = 10 * time.Millisecond
	settings.MaxRetries = 1
	c, _ := newTestClient(p, settings)

	_, calls, err := c.FetchPage(context.Background(), Query{}, 1)
	if !errors.Is(err, ErrProviderUnavailable) || !errors.Is(err, ErrTransient) {
		t.Fatalf("Expected unavailable after timeouts, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func TestClient_CancelledContext(t *testing.T) {
	p := &scriptedProvider{errs: []error{ErrTransient}}
	c, _ := newTestClient(p, testSettings())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.FetchPage(ctx, Query{}, 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrProviderUnavailable) {
		t.Error("Expected cancellation not to be reported as provider failure")
	}
}

func TestClient_MinInterval(t *testing.T) {
	p := &scriptedProvider{}
	settings := testSettings()
	settings.MinInterval = 500 * time.Millisecond
	c, rec := newTestClient(p, settings)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, _, err := c.FetchPage(context.Background(), Query{}, i+1); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	want := []time.Duration{500 * time.Millisecond, time.Second}
	if fmt.Sprint(rec.delays) != fmt.Sprint(want) {
		t.Errorf("Expected pacing delays %v, got %v", want, rec.delays)
	}
}

func TestClient_FetchBodyUnsupported(t *testing.T) {
	c, _ := newTestClient(&scriptedProvider{}, testSettings())

	if _, _, err := c.FetchBody(context.Background(), "s1", ""); err == nil {
		t.Error("Expected error for provider without bodies")
	}
}
