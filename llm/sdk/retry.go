// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package sdk provides the retry executor used by the dispatch pipeline.
package sdk

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// MinDelay is the wait before the first retry.
	MinDelay time.Duration

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration

	// Jitter randomizes each delay by up to ±Jitter fraction (0.0-1.0).
	Jitter float64

	// RetryIf decides whether an error is worth retrying. Nil retries
	// everything.
	RetryIf func(err error) bool

	// OnRetry fires before each backoff wait with the attempt number that
	// just failed (1-based), the error, and the computed delay. Observability
	// only; it cannot influence control flow.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		MinDelay:    250 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Jitter:      0.2,
	}
}

// RetryWithBackoff executes fn with bounded retries and exponential backoff.
// The delay before retry n is min(MaxDelay, MinDelay * 2^(n-1)), randomized
// by ±Jitter. Errors rejected by RetryIf, and the final error after
// MaxAttempts, are returned unchanged so callers can still classify them.
func RetryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if config.RetryIf != nil && !config.RetryIf(err) {
			return zero, err
		}

		if attempt == attempts {
			break
		}

		delay := backoffDelay(config, attempt)

		if config.OnRetry != nil {
			config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}

// backoffDelay computes the wait after the given failed attempt (1-based).
func backoffDelay(config RetryConfig, attempt int) time.Duration {
	delay := config.MinDelay << (attempt - 1)
	if delay > config.MaxDelay || delay <= 0 {
		delay = config.MaxDelay
	}

	if config.Jitter > 0 {
		jitterDelta := float64(delay) * config.Jitter
		jitter := (rand.Float64() * 2 * jitterDelta) - jitterDelta
		delay = time.Duration(float64(delay) + jitter)
	}

	if delay < 0 {
		delay = 0
	}
	return delay
}
