package provider

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrProviderUnavailable is matched by every error the Client returns once
	// it has given up on a request.
	ErrProviderUnavailable = errors.New("provider unavailable")

	ErrRateLimited = errors.New("provider rate limit reached")
	ErrNotReady    = errors.New("provider not ready")
	ErrTransient   = errors.New("transient provider failure")
	ErrPermanent   = errors.New("permanent provider failure")
)

// RateLimitError carries the provider's Retry-After hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v (retry after %s)", ErrRateLimited, e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

type UnavailableError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrProviderUnavailable
}

// retryable reports whether err is worth another attempt.
func retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNotReady) || errors.Is(err, ErrTransient)
}
