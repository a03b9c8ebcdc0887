// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"reflect"
	"testing"
)

func TestFallbackTableDefaults(t *testing.T) {
	table := NewFallbackTable()

	candidates := table.CandidatesFor("claude-3-5-sonnet-20241022")
	if len(candidates) == 0 {
		t.Fatal("no default chain for claude-3-5-sonnet-20241022")
	}
	if candidates[len(candidates)-1] != "llama3.2" {
		t.Errorf("chain should end at the local backend, got %v", candidates)
	}

	if got := table.CandidatesFor("totally-unknown-model"); len(got) != 0 {
		t.Errorf("CandidatesFor(unknown) = %v, want empty", got)
	}
}

func TestFallbackTableRegisterReplaces(t *testing.T) {
	table := NewFallbackTable()
	table.Register("gpt-4o", []string{"grok-2", "llama3.2"})

	got := table.CandidatesFor("gpt-4o")
	if !reflect.DeepEqual(got, []string{"grok-2", "llama3.2"}) {
		t.Errorf("CandidatesFor = %v", got)
	}
}

func TestFallbackTableReturnsCopy(t *testing.T) {
	table := NewFallbackTable()
	first := table.CandidatesFor("gpt-4o")
	first[0] = "mutated"
	second := table.CandidatesFor("gpt-4o")
	if second[0] == "mutated" {
		t.Error("CandidatesFor exposes internal slice")
	}
}

func TestUsableCandidatesFiltersByCredential(t *testing.T) {
	table := NewFallbackTable()
	table.Register("claude-3-5-sonnet-20241022", []string{"gpt-4o", "gemini-2.0-flash", "llama3.2"})

	// Only gemini has a key; ollama needs none.
	creds := StaticCredentials{FamilyGemini: "g-key"}

	got := table.UsableCandidates("claude-3-5-sonnet-20241022", creds)
	want := []string{"gemini-2.0-flash", "llama3.2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("UsableCandidates = %v, want %v", got, want)
	}
}

func TestStaticCredentials(t *testing.T) {
	creds := StaticCredentials{FamilyAnthropic: "a-key"}

	if key, ok := creds.Lookup(FamilyAnthropic); !ok || key != "a-key" {
		t.Errorf("Lookup(anthropic) = %q, %v", key, ok)
	}
	if _, ok := creds.Lookup(FamilyOpenAI); ok {
		t.Error("Lookup(openai) = true with no key configured")
	}
	if _, ok := creds.Lookup(FamilyOllama); !ok {
		t.Error("Lookup(ollama) = false; local backend needs no credential")
	}
}

func TestEnvCredentials(t *testing.T) {
	t.Setenv("XAI_API_KEY", "x-key")
	t.Setenv("OPENAI_API_KEY", "")

	creds := EnvCredentials{}
	if key, ok := creds.Lookup(FamilyXAI); !ok || key != "x-key" {
		t.Errorf("Lookup(xai) = %q, %v", key, ok)
	}
	if _, ok := creds.Lookup(FamilyOpenAI); ok {
		t.Error("Lookup(openai) = true with empty env var")
	}
	if _, ok := creds.Lookup(FamilyOllama); !ok {
		t.Error("Lookup(ollama) = false, want true")
	}
}
