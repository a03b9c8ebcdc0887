// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package circuitbreaker gates calls to failing providers so the dispatch
// pipeline fails fast during sustained outages instead of burning retries.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State string

const (
	// StateClosed allows calls through.
	StateClosed State = "closed"

	// StateOpen rejects calls without a network attempt.
	StateOpen State = "open"

	// StateHalfOpen allows a single probing call after the reset timeout.
	StateHalfOpen State = "half-open"
)

// Settings configures breaker behavior.
type Settings struct {
	// FailureThreshold is the consecutive failure count that opens the
	// breaker.
	FailureThreshold int

	// SuccessThreshold is the consecutive success count while half-open that
	// closes the breaker again.
	SuccessThreshold int

	// ResetTimeout is how long an open breaker waits before allowing a probe.
	ResetTimeout time.Duration

	// OnStateChange fires on every transition. Observability only.
	OnStateChange func(name string, from, to State)

	// now overrides the clock in tests.
	now func() time.Time
}

// DefaultSettings returns the default breaker settings.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
	}
}

// Breaker is a circuit breaker for one provider identity. All state checks
// and transitions happen under a single mutex so concurrent calls observe a
// consistent check-then-act.
type Breaker struct {
	name     string
	settings Settings

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	probing       bool
	probeDeadline time.Time
	nextRetryAt   time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, settings Settings) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultSettings().FailureThreshold
	}
	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = DefaultSettings().SuccessThreshold
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = DefaultSettings().ResetTimeout
	}
	if settings.now == nil {
		settings.now = time.Now
	}
	return &Breaker{
		name:     name,
		settings: settings,
		state:    StateClosed,
	}
}

// Allow reports whether a call may be attempted. An open breaker whose reset
// timeout has elapsed transitions to half-open and admits exactly one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.settings.now().Before(b.nextRetryAt) {
			return false
		}
		b.transition(StateHalfOpen)
		b.successes = 0
		b.admitProbe()
		return true
	case StateHalfOpen:
		// One probe at a time. A probe whose outcome is never reported (the
		// call was cancelled before completing) is reclaimed after its
		// deadline, so an abandoned probe cannot wedge the breaker.
		if b.probing && b.settings.now().Before(b.probeDeadline) {
			return false
		}
		b.admitProbe()
		return true
	}
	return false
}

// admitProbe reserves the half-open probe slot. Callers hold b.mu.
func (b *Breaker) admitProbe() {
	b.probing = true
	b.probeDeadline = b.settings.now().Add(b.settings.ResetTimeout)
}

// RecordSuccess records one completed successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probing = false
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			b.transition(StateClosed)
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure records one completed failed call. A failure while half-open
// re-opens immediately without waiting through the failure threshold again.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.settings.FailureThreshold {
			b.open()
		}
	case StateHalfOpen:
		b.open()
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// open transitions to open and schedules the next probe. Callers hold b.mu.
func (b *Breaker) open() {
	b.transition(StateOpen)
	b.nextRetryAt = b.settings.now().Add(b.settings.ResetTimeout)
	b.successes = 0
	b.probing = false
}

// transition changes state and fires the observer. Callers hold b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}

// Registry holds one breaker per provider identity, created lazily on first
// use and shared by all concurrent calls to that provider for the process
// lifetime.
type Registry struct {
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers use the given settings.
func NewRegistry(settings Settings) *Registry {
	return &Registry{
		settings: settings,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it if needed.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.settings)
		r.breakers[name] = b
	}
	return b
}

// Names returns the provider identities with a live breaker.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}
