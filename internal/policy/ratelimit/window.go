package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/ai-policy-docs/internal/metrics"
)

// Window admits at most quota calls in any rolling period of the given
// length. It is safe for concurrent use.
type Window struct {
	mu     sync.Mutex
	quota  int
	period time.Duration
	calls  []time.Time
	scope  string
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

// WindowOption customizes a Window.
type WindowOption func(*Window)

// WithClock replaces the wall clock and the sleeper. Tests use it to drive
// the window with simulated time.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) WindowOption {
	return func(w *Window) {
		if now != nil {
			w.now = now
		}
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// WithScope sets the label used when recording wait metrics.
func WithScope(scope string) WindowOption {
	return func(w *Window) { w.scope = scope }
}

// NewWindow builds a sliding window limiter. Non-positive arguments fall back
// to 50 calls per minute.
func NewWindow(quota int, period time.Duration, opts ...WindowOption) *Window {
	if quota <= 0 {
		quota = 50
	}
	if period <= 0 {
		period = time.Minute
	}
	w := &Window{
		quota:  quota,
		period: period,
		calls:  make([]time.Time, 0, quota),
		scope:  "window",
		now:    time.Now,
		sleep:  Sleep,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Wait blocks until a call slot is free and then records the call.
func (w *Window) Wait(ctx context.Context) error {
	var waited time.Duration
	for {
		w.mu.Lock()
		now := w.now()
		w.evict(now)
		if len(w.calls) < w.quota {
			w.calls = append(w.calls, now)
			w.mu.Unlock()
			if waited > 0 {
				metrics.ObserveRateLimitDelay(w.scope, waited)
			}
			return nil
		}
		delay := w.calls[0].Add(w.period).Sub(now)
		w.mu.Unlock()

		if err := w.sleep(ctx, delay); err != nil {
			return fmt.Errorf("window wait: %w", err)
		}
		waited += delay
	}
}

// Backoff reports how long until the oldest recorded call leaves the window.
// With no recorded calls it returns the full period.
func (w *Window) Backoff() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.evict(now)
	if len(w.calls) == 0 {
		return w.period
	}
	d := w.calls[0].Add(w.period).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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

// evict drops calls older than the period. Caller holds mu.
func (w *Window) evict(now time.Time) {
	cutoff := now.Add(-w.period)
	i := 0
	for i < len(w.calls) && !w.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}
