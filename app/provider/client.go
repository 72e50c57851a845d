package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Client wraps a Provider with per-attempt timeouts, retries with backoff and
// a minimum delay between calls. It is safe for concurrent use; pacing is
// shared by all callers.
type Client struct {
	provider Provider
	settings Settings

	mu       sync.Mutex
	nextCall time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(provider Provider, settings Settings) *Client {
	return &Client{
		provider: provider,
		settings: settings,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func (c *Client) Name() string {
	return c.provider.Name()
}

// FetchPage returns the page and the number of attempts made, successful or not.
func (c *Client) FetchPage(ctx context.Context, query Query, cursor int) (Page, int, error) {
	var page Page
	calls, err := c.do(ctx, "fetch_page", func(ctx context.Context) error {
		var err error
		page, err = c.provider.FetchPage(ctx, query, cursor)
		return err
	})
	return page, calls, err
}

// FetchBody requires the wrapped provider to implement BodyFetcher.
func (c *Client) FetchBody(ctx context.Context, storyID, storyURL string) (string, int, error) {
	fetcher, ok := c.provider.(BodyFetcher)
	if !ok {
		return "", 0, fmt.Errorf("provider %s does not serve story bodies", c.provider.Name())
	}

	var body string
	calls, err := c.do(ctx, "fetch_body", func(ctx context.Context) error {
		var err error
		body, err = fetcher.FetchBody(ctx, storyID, storyURL)
		return err
	})
	return body, calls, err
}

func (c *Client) do(ctx context.Context, op string, call func(ctx context.Context) error) (int, error) {
	maxAttempts := c.settings.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.pace(ctx); err != nil {
			return attempts, err
		}

		attempts++
		err := c.attempt(ctx, call)
		if err == nil {
			return attempts, nil
		}
		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}

		lastErr = err
		if !retryable(err) || attempt == maxAttempts {
			break
		}

		delay := c.backoff(attempt, err)
		slog.Warn("Provider request failed, retrying",
			"provider", c.provider.Name(),
			"op", op,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay.String(),
			"error", err)

		if err := c.sleep(ctx, delay); err != nil {
			return attempts, err
		}
	}

	return attempts, &UnavailableError{Provider: c.provider.Name(), Attempts: attempts, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, call func(ctx context.Context) error) error {
	attemptCtx := ctx
	if c.settings.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.settings.Timeout)
		defer cancel()
	}

	err := call(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: request timed out after %s", ErrTransient, c.settings.Timeout)
	}
	return err
}

// backoff doubles the rate limit delay per failed attempt up to MaxBackoff.
// A provider that is not ready gets the fixed, longer NotReadyDelay instead.
func (c *Client) backoff(attempt int, err error) time.Duration {
	if errors.Is(err, ErrNotReady) {
		return c.settings.NotReadyDelay
	}

	delay := c.settings.RateLimitDelay << (attempt - 1)
	if c.settings.MaxBackoff > 0 && (delay < 0 || delay > c.settings.MaxBackoff) {
		delay = c.settings.MaxBackoff
	}

	var rateLimit *RateLimitError
	if errors.As(err, &rateLimit) && rateLimit.RetryAfter > delay {
		delay = rateLimit.RetryAfter
	}
	return delay
}

// pace reserves the next call slot and waits for it.
func (c *Client) pace(ctx context.Context) error {
	c.mu.Lock()
	now := c.now()
	slot := now
	if c.nextCall.After(now) {
		slot = c.nextCall
	}
	c.nextCall = slot.Add(c.settings.MinInterval)
	c.mu.Unlock()

	if wait := slot.Sub(now); wait > 0 {
		return c.sleep(ctx, wait)
	}
	return ctx.Err()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
