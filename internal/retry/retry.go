// Package retry runs an operation again with exponential backoff when it
// fails with a transient error.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config defines the retry behavior. MaxRetries and InitialBackoff must be
// positive.
type Config struct {
	// MaxRetries is the maximum number of attempts.
	MaxRetries int

	// InitialBackoff is the wait before the second attempt. It doubles for
	// every further attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait. Zero means no cap.
	MaxBackoff time.Duration

	// Jitter stretches later waits by up to this fraction (0.0 to 1.0) of
	// the backoff, growing linearly with the attempt number.
	Jitter float64

	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// ShouldRetryFunc reports whether err is worth another attempt. A nil
// ShouldRetryFunc retries every error.
type ShouldRetryFunc func(error) bool

// Do calls fn until it succeeds, returns an error shouldRetry rejects, the
// attempts run out or ctx is done. Exhausting the attempts wraps the last
// error.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	if cfg.MaxRetries <= 0 {
		return fmt.Errorf("retry: MaxRetries must be positive, got %d", cfg.MaxRetries)
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(cfg, attempt)
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, lastErr, backoff)
			}

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// calculateBackoff returns InitialBackoff * 2^(attempt-1), capped at
// MaxBackoff, plus jitter.
func calculateBackoff(cfg Config, attempt int) time.Duration {
	backoff := cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		if cfg.MaxBackoff > 0 && backoff >= cfg.MaxBackoff {
			break
		}
		if backoff > time.Duration(1<<62) {
			break
		}
		backoff *= 2
	}
	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}

	if cfg.Jitter > 0 {
		backoff += time.Duration(float64(backoff) * cfg.Jitter * float64(attempt) / float64(cfg.MaxRetries))
	}

	return backoff
}
