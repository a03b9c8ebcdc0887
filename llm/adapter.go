// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"
	"sync"
)

// Adapter is the protocol adapter for one backend family. Implementations
// translate the unified conversation model into the family's wire format for
// both blocking and streaming completions, and classify failures into
// *llm.Error at the boundary. Implementations must be safe for concurrent
// use.
type Adapter interface {
	// Family returns the backend family this adapter speaks for.
	Family() Family

	// Complete sends the conversation and returns the full answer text.
	// Absent or empty result fields yield "" rather than an error.
	Complete(ctx context.Context, cfg Config, turns []Turn) (string, error)

	// Stream sends the conversation and invokes handler for each incremental
	// fragment as it arrives. The handler observes exactly one chunk with
	// Done set. Returning an error from the handler aborts the stream.
	Stream(ctx context.Context, cfg Config, turns []Turn, handler StreamHandler) error
}

// AdapterSet holds one Adapter per backend family. Adding a backend means
// implementing Adapter and registering it; nothing in the dispatch pipeline
// branches on concrete types.
type AdapterSet struct {
	mu       sync.RWMutex
	adapters map[Family]Adapter
}

// NewAdapterSet creates an AdapterSet containing the given adapters.
func NewAdapterSet(adapters ...Adapter) *AdapterSet {
	s := &AdapterSet{adapters: make(map[Family]Adapter, len(adapters))}
	for _, a := range adapters {
		s.adapters[a.Family()] = a
	}
	return s
}

// Register adds or replaces the adapter for its family.
func (s *AdapterSet) Register(a Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters[a.Family()] = a
}

// Get returns the adapter for family.
func (s *AdapterSet) Get(family Family) (Adapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.adapters[family]
	if !ok {
		return nil, ConfigError(family, fmt.Sprintf("no adapter registered for provider %q", family))
	}
	return a, nil
}

// Families returns the families with a registered adapter.
func (s *AdapterSet) Families() []Family {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Family, 0, len(s.adapters))
	for f := range s.adapters {
		out = append(out, f)
	}
	return out
}
