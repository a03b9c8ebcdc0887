// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies a dispatch failure. Classification happens once, at
// the adapter boundary, from status codes and transport errors; downstream
// layers branch on the kind and never inspect message text.
type ErrorKind string

const (
	// KindConfig is a local configuration problem (e.g. missing credential).
	// Not retried and surfaced immediately.
	KindConfig ErrorKind = "config"

	// KindTransient is a network failure, timeout, rate limit, or backend
	// 5xx. Retried, then failover-eligible.
	KindTransient ErrorKind = "transient"

	// KindClient is a request the backend rejected (4xx). Not retried, but
	// failover-eligible since another backend may accept the conversation.
	KindClient ErrorKind = "client"

	// KindCancelled is caller-driven cancellation. Never retried, never
	// failed over, and skips circuit breaker accounting.
	KindCancelled ErrorKind = "cancelled"
)

// Error is a classified dispatch failure.
type Error struct {
	// Kind classifies the failure for retry and failover decisions.
	Kind ErrorKind

	// Provider is the backend family that produced the failure.
	Provider Family

	// StatusCode is the HTTP status, when the backend responded at all.
	StatusCode int

	// Message is the most specific description the backend's error envelope
	// offered, or the raw status text.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds a classified error from an HTTP status code.
func NewError(provider Family, statusCode int, message string) *Error {
	return &Error{
		Kind:       kindForStatus(statusCode),
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
	}
}

// ConfigError reports a local configuration problem.
func ConfigError(provider Family, message string) *Error {
	return &Error{Kind: KindConfig, Provider: provider, Message: message}
}

// TransportError classifies a failure that happened before any HTTP status
// was received: cancellation, deadline, or a network-level fault.
func TransportError(provider Family, err error) *Error {
	kind := KindTransient
	if errors.Is(err, context.Canceled) {
		kind = KindCancelled
	}
	// A deadline on the request context is the caller's budget, not a
	// backend hiccup worth retrying against the same deadline.
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindCancelled
	}
	return &Error{
		Kind:     kind,
		Provider: provider,
		Message:  err.Error(),
		Cause:    err,
	}
}

func kindForStatus(statusCode int) ErrorKind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return KindTransient
	case statusCode == http.StatusRequestTimeout:
		return KindTransient
	case statusCode >= 500:
		return KindTransient
	default:
		return KindClient
	}
}

// KindOf extracts the ErrorKind from err. Unclassified errors default to
// KindTransient so that raw transport faults remain retryable; cancellation
// is recognized even when unwrapped.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindTransient
}

// Retryable reports whether err should be retried against the same backend.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// FailoverEligible reports whether err justifies switching to a fallback
// model. Cancellation never does.
func FailoverEligible(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindClient, KindConfig:
		return true
	default:
		return false
	}
}
