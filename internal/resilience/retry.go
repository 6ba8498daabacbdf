package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls exponential backoff with jitter.
type RetryConfig struct {
	// MaxAttempts counts the first try. 1 disables retries.
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
	// JitterFraction spreads each delay by up to ± this fraction.
	JitterFraction float64 `mapstructure:"jitter_fraction"`

	// ShouldRetry overrides IsTransient.
	ShouldRetry func(err error) bool `mapstructure:"-"`
	// OnRetry runs before each backoff sleep.
	OnRetry func(attempt int, err error) `mapstructure:"-"`
}

// DefaultRetryConfig suits store connection setup at startup.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.Multiplier <= 0 {
		c.Multiplier = d.Multiplier
	}
	if c.JitterFraction < 0 {
		c.JitterFraction = 0
	}
	if c.ShouldRetry == nil {
		c.ShouldRetry = IsTransient
	}
	return c
}

// backoff returns the delay before retry number attempt+1.
func (c RetryConfig) backoff(attempt int) time.Duration {
	delay := math.Min(float64(c.InitialBackoff)*math.Pow(c.Multiplier, float64(attempt)), float64(c.MaxBackoff))
	if c.JitterFraction > 0 {
		delay += (rand.Float64()*2 - 1) * delay * c.JitterFraction
	}
	return time.Duration(math.Max(delay, 0))
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done. The last error is returned.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions that produce a value.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var zero T
	for attempt := 0; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil || !cfg.ShouldRetry(err) || attempt >= cfg.MaxAttempts-1 {
			return zero, err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(cfg.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
}

// RetryLogger logs each retry at warn level.
func RetryLogger(operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
