// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package xai implements the protocol adapter for X.AI's Grok models. The
// wire format is OpenAI-compatible, so the adapter reuses the openai codec
// under its own family identity, endpoint, and credential.
package xai

import (
	"modelrelay/core/llm"
	"modelrelay/core/llm/openai"
)

// DefaultBaseURL is the X.AI API endpoint.
const DefaultBaseURL = "https://api.x.ai"

// New creates an X.AI adapter with the default HTTP client.
func New() llm.Adapter {
	return openai.NewCompatible(llm.FamilyXAI, DefaultBaseURL, nil)
}

// NewWithClient creates an adapter using a custom HTTP client.
func NewWithClient(client openai.HTTPClient) llm.Adapter {
	return openai.NewCompatible(llm.FamilyXAI, DefaultBaseURL, client)
}
