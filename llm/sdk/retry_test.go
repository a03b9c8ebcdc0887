// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package sdk

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: maxAttempts,
		MinDelay:    time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestRetryWithBackoff(t *testing.T) {
	t.Run("succeeds first attempt", func(t *testing.T) {
		calls := 0
		result, err := RetryWithBackoff(context.Background(), fastRetryConfig(3), func(ctx context.Context) (string, error) {
			calls++
			return "ok", nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != "ok" {
			t.Errorf("result = %q, want %q", result, "ok")
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("k failures then success observes k+1 attempts", func(t *testing.T) {
		calls := 0
		result, err := RetryWithBackoff(context.Background(), fastRetryConfig(5), func(ctx context.Context) (int, error) {
			calls++
			if calls <= 2 {
				return 0, errors.New("transient")
			}
			return 42, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != 42 {
			t.Errorf("result = %d, want 42", result)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("exhaustion returns last error unchanged", func(t *testing.T) {
		sentinel := errors.New("always fails")
		calls := 0
		_, err := RetryWithBackoff(context.Background(), fastRetryConfig(3), func(ctx context.Context) (string, error) {
			calls++
			return "", sentinel
		})
		if !errors.Is(err, sentinel) {
			t.Errorf("err = %v, want the original error", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("non-retryable error returns immediately", func(t *testing.T) {
		sentinel := errors.New("bad request")
		cfg := fastRetryConfig(5)
		cfg.RetryIf = func(err error) bool { return false }

		calls := 0
		_, err := RetryWithBackoff(context.Background(), cfg, func(ctx context.Context) (string, error) {
			calls++
			return "", sentinel
		})
		if !errors.Is(err, sentinel) {
			t.Errorf("err = %v, want the original error", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("cancellation during backoff stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cfg := RetryConfig{MaxAttempts: 5, MinDelay: time.Hour, MaxDelay: time.Hour}

		calls := 0
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		_, err := RetryWithBackoff(ctx, cfg, func(ctx context.Context) (string, error) {
			calls++
			return "", errors.New("transient")
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("zero max attempts still runs once", func(t *testing.T) {
		calls := 0
		_, _ = RetryWithBackoff(context.Background(), RetryConfig{}, func(ctx context.Context) (string, error) {
			calls++
			return "", errors.New("x")
		})
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("on retry hook fires per failed attempt", func(t *testing.T) {
		var attempts []int
		cfg := fastRetryConfig(3)
		cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
		}

		_, _ = RetryWithBackoff(context.Background(), cfg, func(ctx context.Context) (string, error) {
			return "", errors.New("transient")
		})
		// The final failure has no retry after it.
		if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
			t.Errorf("OnRetry attempts = %v, want [1 2]", attempts)
		}
	})
}

func TestBackoffDelay(t *testing.T) {
	cfg := RetryConfig{
		MinDelay: 100 * time.Millisecond,
		MaxDelay: 400 * time.Millisecond,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 400 * time.Millisecond}, // capped
		{10, 400 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := backoffDelay(cfg, tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	cfg := RetryConfig{
		MinDelay: 100 * time.Millisecond,
		MaxDelay: time.Second,
		Jitter:   0.2,
	}

	for i := 0; i < 100; i++ {
		got := backoffDelay(cfg, 1)
		if got < 80*time.Millisecond || got > 120*time.Millisecond {
			t.Fatalf("backoffDelay with 20%% jitter = %v, want within [80ms, 120ms]", got)
		}
	}
}
