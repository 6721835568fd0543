// Package retry implements bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy retries an operation with exponential backoff. The wait before
// attempt n+1 is BaseDelay * 2^(n-1), capped at MaxDelay when it is set.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether an error is worth another attempt. A nil
	// Retryable retries every error except context cancellation.
	Retryable func(error) bool
	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(context.Context, time.Duration) error
}

// ShouldRetry decides whether attempt (1-based) may be followed by another.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// Do runs op until it succeeds, fails permanently or attempts run out. It
// returns the last error, annotated with the attempt count.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts || !p.ShouldRetry(err, attempt) {
			return fmt.Errorf("after %d attempt(s): %w", attempt, err)
		}
		if serr := sleep(ctx, p.Backoff(attempt)); serr != nil {
			return fmt.Errorf("retry wait: %w", serr)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
