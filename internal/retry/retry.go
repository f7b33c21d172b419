// Package retry runs an operation with bounded attempts and backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMaxAttemptsExceeded is returned when every attempt failed with a retryable error.
	ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")
	// ErrContextCancelled is returned when ctx ends between attempts.
	ErrContextCancelled = errors.New("context cancelled during retry")
)

// Defaults used by the detail fetcher.
const (
	DefaultMaxAttempts = 3
	DefaultUnit        = 1 * time.Second
)

// Backoff returns the wait before the attempt following attempt (1-based).
type Backoff func(attempt int) time.Duration

// Linear waits attempt x unit.
func Linear(unit time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * unit
	}
}

// Sleeper blocks for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-time Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Config configures Do.
type Config struct {
	// MaxAttempts counts the initial attempt.
	MaxAttempts int
	Backoff     Backoff
	// IsRetryable decides whether a failed attempt is tried again.
	IsRetryable func(error) bool
	Sleep       Sleeper
	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// DefaultConfig retries any error three times with a one second linear unit.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     Linear(DefaultUnit),
		IsRetryable: func(error) bool { return true },
		Sleep:       Sleep,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Backoff == nil {
		c.Backoff = d.Backoff
	}
	if c.IsRetryable == nil {
		c.IsRetryable = d.IsRetryable
	}
	if c.Sleep == nil {
		c.Sleep = d.Sleep
	}
	return c
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts run out.
// A non-retryable error is returned as is; exhaustion wraps the last error with
// ErrMaxAttemptsExceeded.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.IsRetryable(err) {
			return err
		}

		if attempt < cfg.MaxAttempts {
			wait := cfg.Backoff(attempt)
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, wait, err)
			}
			if sleepErr := cfg.Sleep(ctx, wait); sleepErr != nil {
				return fmt.Errorf("%w: %w", ErrContextCancelled, sleepErr)
			}
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, cfg.MaxAttempts, lastErr)
}
