package ipc

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	t.Log("Busy statuses are retried until the firmware settles")

	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		attempts++
		if attempts < 3 {
			return &StatusError{Code: StatusBusy}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("got %d attempts, want 3", attempts)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	t.Log("A non-transient firmware status fails immediately, no backoff")

	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		attempts++
		return &StatusError{Code: StatusInvalidRequest}
	})
	if !errors.Is(err, ErrFirmware) {
		t.Fatalf("got %v, want ErrFirmware", err)
	}
	if attempts != 1 {
		t.Errorf("got %d attempts, want 1", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	cfg := fastRetryConfig()
	cfg.MaxAttempts = 3

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return &StatusError{Code: StatusPending}
	})
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("got %v, want ErrMaxRetriesExceeded", err)
	}
	if attempts != 3 {
		t.Errorf("got %d attempts, want 3", attempts)
	}
	// The last underlying error stays reachable for classification.
	if !IsTransient(err) {
		t.Error("exhausted error lost the underlying firmware status")
	}
}

func TestRetryTimeoutIsNotTransient(t *testing.T) {
	t.Log("A channel timeout is surfaced, not retried; the caller decides")

	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		attempts++
		return ErrTimeout
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if attempts != 1 {
		t.Errorf("got %d attempts, want 1", attempts)
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := Retry(ctx, DefaultRetryConfig(), func() error {
		attempts++
		cancel()
		return &StatusError{Code: StatusBusy}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("got %d attempts, want 1", attempts)
	}
}

func TestRetryZeroAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{}, func() error {
		attempts++
		return nil
	})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if attempts != 1 {
		t.Errorf("got %d attempts, want 1", attempts)
	}
}
