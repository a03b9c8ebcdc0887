// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package llm

import "sync"

// FallbackTable maps a primary model identifier to an ordered list of
// candidate models to try when the primary is unusable. Candidates resolve to
// a provider family by name prefix (FamilyForModel). The table is static at
// dispatch time: selection is positional, never learned.
type FallbackTable struct {
	mu      sync.RWMutex
	entries map[string][]string
}

// defaultFallbacks covers the major model lines. Each chain prefers a
// same-family sibling first, then crosses families, and ends at the local
// backend so a fully offline host still gets an answer.
var defaultFallbacks = map[string][]string{
	"claude-sonnet-4-20250514":   {"claude-3-5-sonnet-20241022", "gpt-4o", "gemini-2.0-flash", "llama3.2"},
	"claude-3-5-sonnet-20241022": {"claude-3-5-haiku-20241022", "gpt-4o", "gemini-2.0-flash", "llama3.2"},
	"claude-3-5-haiku-20241022":  {"gpt-4o-mini", "gemini-2.0-flash-lite", "llama3.2"},
	"gpt-4o":                     {"gpt-4o-mini", "claude-3-5-sonnet-20241022", "gemini-2.0-flash", "llama3.2"},
	"gpt-4o-mini":                {"claude-3-5-haiku-20241022", "gemini-2.0-flash-lite", "llama3.2"},
	"o1":                         {"gpt-4o", "claude-3-5-sonnet-20241022", "llama3.2"},
	"gemini-2.0-flash":           {"gemini-2.0-flash-lite", "gpt-4o-mini", "claude-3-5-haiku-20241022", "llama3.2"},
	"gemini-1.5-pro":             {"gemini-2.0-flash", "gpt-4o", "claude-3-5-sonnet-20241022", "llama3.2"},
	"grok-2":                     {"gpt-4o", "claude-3-5-sonnet-20241022", "llama3.2"},
	"grok-3":                     {"grok-2", "gpt-4o", "claude-3-5-sonnet-20241022", "llama3.2"},
}

// NewFallbackTable creates a table pre-populated with the built-in chains.
func NewFallbackTable() *FallbackTable {
	t := &FallbackTable{entries: make(map[string][]string, len(defaultFallbacks))}
	for model, candidates := range defaultFallbacks {
		t.entries[model] = append([]string(nil), candidates...)
	}
	return t
}

// Register sets the fallback chain for model, replacing any existing entry.
func (t *FallbackTable) Register(model string, candidates []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[model] = append([]string(nil), candidates...)
}

// CandidatesFor returns the fallback chain for model. The returned slice is
// a copy; callers may filter it freely.
func (t *FallbackTable) CandidatesFor(model string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.entries[model]...)
}

// UsableCandidates filters the chain for model down to candidates whose
// provider family has a resolvable credential.
func (t *FallbackTable) UsableCandidates(model string, creds CredentialStore) []string {
	var usable []string
	for _, candidate := range t.CandidatesFor(model) {
		if _, ok := creds.Lookup(FamilyForModel(candidate)); ok {
			usable = append(usable, candidate)
		}
	}
	return usable
}
