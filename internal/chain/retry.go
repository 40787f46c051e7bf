package chain

import (
	"context"
	"errors"
	"time"
)

// RetryConfig controls optimistic append retries.
type RetryConfig struct {
	MaxAttempts   int           // attempts including the first
	InitialDelay  time.Duration // delay before the second attempt
	BackoffFactor float64       // multiplier applied per attempt
	MaxDelay      time.Duration // cap on a single delay
}

// DefaultRetryConfig returns five attempts with exponential backoff starting
// at 2ms and capped at 200ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  2 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      200 * time.Millisecond,
	}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= c.BackoffFactor
	}
	if c.MaxDelay > 0 && time.Duration(d) > c.MaxDelay {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// retryConflicts runs op until it succeeds, fails with something other than
// ErrConcurrentAppend, or runs out of attempts. The last error is returned.
func retryConflicts(ctx context.Context, cfg RetryConfig, op func(attempt int) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(attempt)
		if lastErr == nil || !errors.Is(lastErr, ErrConcurrentAppend) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(cfg.delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
