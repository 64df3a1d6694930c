package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pexelsync/pkg/config"
	errs "pexelsync/pkg/errors"
	"pexelsync/pkg/logger"
)

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the total number of tries, the first one included
	MaxAttempts int
	// Backoff picks the delay before the next try. When the failure is a
	// typed error, ByType is consulted first.
	Backoff BackoffStrategy
	ByType  *ErrorTypeBackoff
	// RetryIf decides whether an error is worth another try
	RetryIf func(error) bool
	// OnRetry is called before sleeping
	OnRetry func(attempt int, err error, delay time.Duration)
	Logger  logger.Logger
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     DefaultExponentialBackoff(),
		ByType:      NewErrorTypeBackoff(),
		RetryIf:     DefaultRetryIf,
		Logger:      logger.NewNopLogger(),
	}
}

// FromSettings builds a Config from the retry section of the app config
func FromSettings(rc config.RetryConfig, log logger.Logger) *Config {
	cfg := DefaultConfig()
	if rc.MaxAttempts > 0 {
		cfg.MaxAttempts = rc.MaxAttempts
	}
	if rc.BaseDelay > 0 || rc.MaxDelay > 0 {
		base := rc.BaseDelay
		if base <= 0 {
			base = DefaultExponentialBackoff().BaseDelay
		}
		cfg.Backoff = &ExponentialBackoff{
			BaseDelay:    base,
			MaxDelay:     rc.MaxDelay,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		}
		cfg.ByType = ErrorTypeBackoffWithin(base, rc.MaxDelay)
	}
	if log != nil {
		cfg.Logger = log
	}
	return cfg
}

// DefaultRetryIf retries typed errors by their class, never retries context
// errors, and retries anything else
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *errs.Error
	if errors.As(err, &apiErr) {
		return errs.IsRetryable(apiErr.Type)
	}
	return true
}

// Do runs op until it succeeds, fails with a non-retryable error, runs out
// of attempts, or ctx is done
func Do(ctx context.Context, cfg *Config, op func(ctx context.Context) error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}
		lastErr = err

		if !retryIf(err) {
			return err
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			log.ErrorWithFields("max retry attempts exceeded", map[string]interface{}{
				"attempts":   attempt,
				"last_error": lastErr.Error(),
			})
			return fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
		}

		delay := cfg.delayFor(attempt, err)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		log.WarnWithFields("retrying operation", map[string]interface{}{
			"attempt":  attempt,
			"error":    err.Error(),
			"delay_ms": delay.Milliseconds(),
		})

		if werr := Wait(ctx, delay); werr != nil {
			return fmt.Errorf("retry cancelled: %w", werr)
		}
	}
}

// DoWithResult is Do for operations that produce a value
func DoWithResult[T any](ctx context.Context, cfg *Config, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}

func (c *Config) delayFor(attempt int, err error) time.Duration {
	if c.ByType != nil {
		var apiErr *errs.Error
		if errors.As(err, &apiErr) {
			return c.ByType.For(apiErr.Type).NextDelay(attempt)
		}
	}
	if c.Backoff == nil {
		return 0
	}
	return c.Backoff.NextDelay(attempt)
}
