package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls retry behavior with exponential backoff and jitter.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first try.
	// 1 disables retries. Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts. Default: 30s.
	MaxBackoff time.Duration

	// Multiplier grows the delay after each attempt. Default: 2.0.
	Multiplier float64

	// JitterFraction spreads each delay by a random factor of itself, so a
	// fleet of workers does not retry in lockstep. 0.25 means up to 25%
	// above or below the computed delay. Default: 0.25.
	JitterFraction float64

	// ShouldRetry decides whether an error is worth another attempt. Nil
	// falls back to IsTransient.
	ShouldRetry func(err error) bool

	// OnRetry fires before each backoff sleep with the number of the
	// attempt that just failed.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the retry policy used for external API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

// delay returns the backoff before the given retry, zero-based: retry 0 is
// the sleep after the first failed attempt.
func (cfg RetryConfig) delay(retry int) time.Duration {
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(retry))
	d = min(d, float64(cfg.MaxBackoff))
	if cfg.JitterFraction > 0 {
		d *= 1 + cfg.JitterFraction*(2*rand.Float64()-1)
	}
	return time.Duration(max(d, 0))
}

// DoVal executes fn up to cfg.MaxAttempts times, returning the value of the
// first success. Only errors ShouldRetry accepts are retried, context
// cancellation ends the loop immediately, and a failed run returns the zero
// value with the last error.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	retryable := cfg.ShouldRetry
	if retryable == nil {
		retryable = IsTransient
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) || attempt >= cfg.MaxAttempts {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if !sleep(ctx, cfg.delay(attempt-1)) {
			break
		}
	}

	var zero T
	return zero, lastErr
}

// Do is DoVal for functions without a return value.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// sleep waits for d or until ctx is done, reporting whether the full wait
// completed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// RetryLogger returns an OnRetry callback that logs each failed attempt
// against the named service operation.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
