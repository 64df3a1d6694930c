package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pexelsync/pkg/config"
	errs "pexelsync/pkg/errors"
)

func fastConfig(attempts int) *Config {
	cfg := DefaultConfig()
	cfg.MaxAttempts = attempts
	cfg.Backoff = &ConstantBackoff{Delay: time.Millisecond}
	cfg.ByType = &ErrorTypeBackoff{
		Network:     &ConstantBackoff{Delay: time.Millisecond},
		RateLimit:   &ConstantBackoff{Delay: 2 * time.Millisecond},
		ServerError: &ConstantBackoff{Delay: time.Millisecond},
		Default:     &ConstantBackoff{Delay: time.Millisecond},
	}
	return cfg
}

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{9, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoff.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoffJitterBounds(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}
	for i := 0; i < 50; i++ {
		d := backoff.NextDelay(2)
		assert.GreaterOrEqual(t, d, 140*time.Millisecond)
		assert.LessOrEqual(t, d, 260*time.Millisecond)
	}
}

func TestDoSucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastConfig(5)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		retried = append(retried, attempt)
	}

	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return errs.New(errs.ErrorTypeServerError, 502, "bad gateway")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	authErr := errs.New(errs.ErrorTypeAuth, 401, "bad key")

	err := Do(context.Background(), fastConfig(5), func(context.Context) error {
		calls++
		return authErr
	})

	assert.Same(t, authErr, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		calls++
		return errs.New(errs.ErrorTypeNetwork, 0, "reset")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errs.Is(err, errs.ErrorTypeNetwork))
	assert.Contains(t, err.Error(), "max retry attempts (3)")
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(0)
	cfg.Backoff = &ConstantBackoff{Delay: time.Hour}
	cfg.ByType = nil

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, cfg, func(context.Context) error {
		calls++
		return errors.New("flaky")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(3), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errs.New(errs.ErrorTypeRateLimit, 429, "quota")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestDefaultRetryIf(t *testing.T) {
	assert.False(t, DefaultRetryIf(nil))
	assert.False(t, DefaultRetryIf(context.Canceled))
	assert.False(t, DefaultRetryIf(errs.New(errs.ErrorTypeValidation, 400, "bad")))
	assert.True(t, DefaultRetryIf(errs.New(errs.ErrorTypeRateLimit, 429, "slow")))
	assert.True(t, DefaultRetryIf(errors.New("eof")))
}

func TestErrorTypeBackoffFor(t *testing.T) {
	etb := NewErrorTypeBackoff()
	assert.Same(t, etb.RateLimit, etb.For(errs.ErrorTypeRateLimit))
	assert.Same(t, etb.Network, etb.For(errs.ErrorTypeNetwork))
	assert.Same(t, etb.Default, etb.For(errs.ErrorTypeParsing))
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.RetryConfig{MaxAttempts: 7, BaseDelay: time.Second, MaxDelay: 4 * time.Second}, nil)
	assert.Equal(t, 7, cfg.MaxAttempts)
	exp, ok := cfg.Backoff.(*ExponentialBackoff)
	require.True(t, ok)
	assert.Equal(t, 4*time.Second, exp.MaxDelay)
	assert.NotNil(t, cfg.Logger)
}

func TestFromSettingsBoundsTypedDelays(t *testing.T) {
	cfg := FromSettings(config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}, nil)

	for _, typ := range []errs.ErrorType{errs.ErrorTypeNetwork, errs.ErrorTypeServerError, errs.ErrorTypeRateLimit, errs.ErrorTypeUnknown} {
		err := &errs.Error{Type: typ, Message: "boom"}
		// max delay plus the widest jitter
		assert.LessOrEqual(t, cfg.delayFor(1, err), 2*time.Millisecond, typ)
		assert.LessOrEqual(t, cfg.delayFor(10, err), 6*time.Millisecond, typ)
	}
	assert.LessOrEqual(t, cfg.delayFor(10, assert.AnError), 5*time.Millisecond)
}

func TestFromSettingsWithoutDelaysKeepsStockBackoff(t *testing.T) {
	cfg := FromSettings(config.RetryConfig{MaxAttempts: 2}, nil)
	assert.Equal(t, NewErrorTypeBackoff(), cfg.ByType)
}

func TestWait(t *testing.T) {
	assert.NoError(t, Wait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Minute), context.Canceled)
}
