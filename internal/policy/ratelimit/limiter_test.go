package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Wait(t *testing.T) {
	// 10 RPS with burst 1: one token every 100ms.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://www.federalregister.gov/api/v1/documents.json"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.federalregister.gov/api/v1/documents/1.json"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_DifferentHosts(t *testing.T) {
	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example.com/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.com/1"))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "host b blocked by host a")
}

func TestLimiter_Unlimited(t *testing.T) {
	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(ctx, "https://example.com"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiter_CanceledContext(t *testing.T) {
	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Wait(ctx, "https://example.com"))
	cancel()
	assert.Error(t, l.Wait(ctx, "https://example.com"))
}
