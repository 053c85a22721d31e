package ipc

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrMaxRetriesExceeded wraps the last error when Retry gives up.
var ErrMaxRetriesExceeded = errors.New("ipc: retry attempts exhausted")

// RetryConfig configures caller-side retry of transient firmware
// statuses. The channel itself never retries; a timed-out or failed
// request is surfaced to the caller, who decides.
type RetryConfig struct {
	// InitialDelay is the delay before the first retry. Default: 10ms
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries. Default: 500ms
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier applied after each retry. Default: 2.0
	Multiplier float64

	// MaxAttempts is the maximum number of attempts (including first try). Default: 5
	MaxAttempts int

	// Jitter is the random factor (0-1) added to each delay. Default: 0.1
	Jitter float64
}

// DefaultRetryConfig returns a RetryConfig with sensible defaults for
// firmware bring-up, where the DSP answers busy while still settling.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       0.1,
	}
}

// Retry executes fn with exponential backoff until it succeeds, returns a
// non-transient error, or exhausts all attempts. Only firmware busy and
// pending statuses are retried (see IsTransient). Respects context
// cancellation between attempts.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		actualDelay := delay
		if cfg.Jitter > 0 {
			jitterRange := float64(delay) * cfg.Jitter
			actualDelay = delay + time.Duration(rand.Float64()*jitterRange)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(actualDelay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return errors.Join(ErrMaxRetriesExceeded, lastErr)
}
