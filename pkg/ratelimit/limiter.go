package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pexelsync/pkg/config"
)

// Limiter throttles calls to the provider API
type Limiter interface {
	// Allow takes a slot if one is free right now
	Allow() bool
	// Wait blocks until a slot is free or ctx is done
	Wait(ctx context.Context) error
	// PauseUntil refuses every request until t. The client calls it when the
	// provider reports an exhausted quota.
	PauseUntil(t time.Time)
	Reset()
}

// New builds the limiter selected by the rate_limit config section
func New(cfg config.RateLimitConfig) (Limiter, error) {
	switch cfg.Strategy {
	case "token_bucket":
		return NewTokenBucket(cfg.MaxRequests, cfg.Window), nil
	case "", "sliding_window":
		return NewSlidingWindow(cfg.MaxRequests, cfg.Window), nil
	default:
		return nil, fmt.Errorf("unknown rate limit strategy %q", cfg.Strategy)
	}
}

// pause is shared by both strategies
type pause struct {
	until time.Time
}

func (p *pause) remaining(now time.Time) time.Duration {
	if p.until.After(now) {
		return p.until.Sub(now)
	}
	return 0
}

// expired reports, once, that a pause has run out
func (p *pause) expired(now time.Time) bool {
	if p.until.IsZero() || p.until.After(now) {
		return false
	}
	p.until = time.Time{}
	return true
}

// TokenBucket refills to full capacity once per period
type TokenBucket struct {
	mu           sync.Mutex
	capacity     int
	tokens       int
	refillPeriod time.Duration
	lastRefill   time.Time
	pause        pause
}

// NewTokenBucket creates a new token bucket rate limiter
func NewTokenBucket(capacity int, refillPeriod time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		lastRefill:   time.Now(),
	}
}

func (tb *TokenBucket) Allow() bool {
	_, ok := tb.take()
	return ok
}

// take reports whether a token was taken and, if not, how long to wait
func (tb *TokenBucket) take() (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	if d := tb.pause.remaining(now); d > 0 {
		return d, false
	}
	if tb.pause.expired(now) || now.Sub(tb.lastRefill) >= tb.refillPeriod {
		tb.tokens = tb.capacity
		tb.lastRefill = now
	}
	if tb.tokens > 0 {
		tb.tokens--
		return 0, true
	}
	return tb.refillPeriod - now.Sub(tb.lastRefill), false
}

func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		wait, ok := tb.take()
		if ok {
			return nil
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (tb *TokenBucket) PauseUntil(t time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.pause.until = t
	tb.tokens = 0
}

// Reset resets the token bucket to full capacity
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = time.Now()
	tb.pause = pause{}
}

// SlidingWindow allows at most maxRequests in any window of windowSize
type SlidingWindow struct {
	mu          sync.Mutex
	windowSize  time.Duration
	maxRequests int
	requests    []time.Time
	pause       pause
}

// NewSlidingWindow creates a new sliding window rate limiter
func NewSlidingWindow(maxRequests int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		windowSize:  windowSize,
		maxRequests: maxRequests,
		requests:    make([]time.Time, 0, maxRequests),
	}
}

func (sw *SlidingWindow) Allow() bool {
	_, ok := sw.take()
	return ok
}

func (sw *SlidingWindow) take() (time.Duration, bool) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	if d := sw.pause.remaining(now); d > 0 {
		return d, false
	}
	if sw.pause.expired(now) {
		sw.requests = sw.requests[:0]
	}
	sw.evict(now)

	if len(sw.requests) < sw.maxRequests {
		sw.requests = append(sw.requests, now)
		return 0, true
	}
	return sw.windowSize - now.Sub(sw.requests[0]), false
}

func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		wait, ok := sw.take()
		if ok {
			return nil
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (sw *SlidingWindow) PauseUntil(t time.Time) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.pause.until = t
}

// Reset clears all recorded requests
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.requests = sw.requests[:0]
	sw.pause = pause{}
}

// evict drops requests that fell out of the window
func (sw *SlidingWindow) evict(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.requests) && sw.requests[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		n := copy(sw.requests, sw.requests[i:])
		sw.requests = sw.requests[:n]
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = 10 * time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
