package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pexelsync/pkg/config"
)

func TestTokenBucket(t *testing.T) {
	tb := NewTokenBucket(3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow(), "token %d", i+1)
	}
	assert.False(t, tb.Allow())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, tb.Allow(), "bucket refills after the period")

	tb.Reset()
	assert.True(t, tb.Allow())
}

func TestSlidingWindow(t *testing.T) {
	sw := NewSlidingWindow(2, 50*time.Millisecond)

	assert.True(t, sw.Allow())
	assert.True(t, sw.Allow())
	assert.False(t, sw.Allow())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, sw.Allow())

	sw.Reset()
	assert.True(t, sw.Allow())
	assert.True(t, sw.Allow())
}

func TestWaitBlocksUntilSlot(t *testing.T) {
	sw := NewSlidingWindow(1, 30*time.Millisecond)
	require.NoError(t, sw.Wait(context.Background()))

	start := time.Now()
	require.NoError(t, sw.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitCancelled(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestPauseUntil(t *testing.T) {
	for name, l := range map[string]Limiter{
		"bucket":  NewTokenBucket(10, time.Hour),
		"sliding": NewSlidingWindow(10, time.Hour),
	} {
		t.Run(name, func(t *testing.T) {
			l.PauseUntil(time.Now().Add(40 * time.Millisecond))
			assert.False(t, l.Allow())

			require.NoError(t, l.Wait(context.Background()))
			l.Reset()
			assert.True(t, l.Allow())
		})
	}
}

func TestNew(t *testing.T) {
	l, err := New(config.RateLimitConfig{Strategy: "token_bucket", MaxRequests: 5, Window: time.Minute})
	require.NoError(t, err)
	assert.IsType(t, &TokenBucket{}, l)

	l, err = New(config.RateLimitConfig{Strategy: "sliding_window", MaxRequests: 5, Window: time.Minute})
	require.NoError(t, err)
	assert.IsType(t, &SlidingWindow{}, l)

	_, err = New(config.RateLimitConfig{Strategy: "fixed"})
	assert.Error(t, err)
}
