package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func recordingSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestBackoffDoublesFromBase(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second}
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 8*time.Second, p.Backoff(4))
	assert.Equal(t, time.Second, p.Backoff(0))
}

func TestBackoffCapped(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	assert.Equal(t, 3*time.Second, p.Backoff(4))
}

func TestDoRetriesTransientUntilExhausted(t *testing.T) {
	var waits []time.Duration
	p := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
		Sleep:       recordingSleep(&waits),
	}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})

	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 5, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, waits)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	var waits []time.Duration
	permanent := errors.New("not found")
	p := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
		Sleep:       recordingSleep(&waits),
	}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	var waits []time.Duration
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Sleep: recordingSleep(&waits)}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, waits, 2)
}

func TestShouldRetryContextErrors(t *testing.T) {
	p := Policy{MaxAttempts: 3}
	assert.False(t, p.ShouldRetry(context.Canceled, 1))
	assert.False(t, p.ShouldRetry(context.DeadlineExceeded, 1))
	assert.False(t, p.ShouldRetry(nil, 1))
	assert.True(t, p.ShouldRetry(errTransient, 1))
	assert.False(t, p.ShouldRetry(errTransient, 3))
}

func TestDoCanceledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{MaxAttempts: 3, BaseDelay: time.Hour}
	err := p.Do(ctx, func(context.Context) error { return errTransient })
	require.ErrorIs(t, err, context.Canceled)
}
