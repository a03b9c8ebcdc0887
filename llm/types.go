// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package llm provides the provider dispatch layer for ModelRelay: a unified
// conversation model, protocol adapters for each supported backend family, and
// a Dispatcher facade that adds retry, circuit breaking, and failover on top.
package llm

import (
	"encoding/base64"
	"strings"
)

// Family identifies a backend protocol family. Each family has its own wire
// format, authentication scheme, and streaming framing, implemented by one
// Adapter.
type Family string

// Supported backend families.
const (
	// FamilyAnthropic represents Anthropic's messages API.
	FamilyAnthropic Family = "anthropic"

	// FamilyOpenAI represents OpenAI's chat completions API.
	FamilyOpenAI Family = "openai"

	// FamilyGemini represents Google's Gemini generateContent API.
	FamilyGemini Family = "gemini"

	// FamilyXAI represents X.AI's Grok API (OpenAI-compatible wire format).
	FamilyXAI Family = "xai"

	// FamilyOllama represents a local Ollama instance.
	FamilyOllama Family = "ollama"
)

// Families lists all supported backend families.
var Families = []Family{
	FamilyAnthropic,
	FamilyOpenAI,
	FamilyGemini,
	FamilyXAI,
	FamilyOllama,
}

// FamilyForModel resolves a model identifier to its backend family by
// name-prefix convention. Unrecognized models resolve to FamilyOllama, the
// local backend, which accepts arbitrary model names.
func FamilyForModel(model string) Family {
	switch {
	case strings.HasPrefix(model, "claude"):
		return FamilyAnthropic
	case strings.HasPrefix(model, "gpt"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"),
		strings.HasPrefix(model, "chatgpt"):
		return FamilyOpenAI
	case strings.HasPrefix(model, "gemini"):
		return FamilyGemini
	case strings.HasPrefix(model, "grok"):
		return FamilyXAI
	default:
		return FamilyOllama
	}
}

// Role tags a conversation turn with its speaker.
type Role string

// Conversation roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation declared by an assistant turn.
type ToolCall struct {
	// ID correlates the call with its tool-role result turn.
	ID string `json:"id"`

	// Name is the tool being invoked.
	Name string `json:"name"`

	// Arguments is the raw JSON argument payload.
	Arguments string `json:"arguments"`
}

// ImageAttachment is media attached to a turn, either inline bytes or a
// reference URL. Adapters encode it in whatever form their backend requires.
type ImageAttachment struct {
	// MediaType is the MIME type, e.g. "image/png".
	MediaType string `json:"media_type"`

	// Data is the raw image bytes for inline encoding.
	Data []byte `json:"data,omitempty"`

	// URL references an externally hosted image. Used when Data is empty.
	URL string `json:"url,omitempty"`
}

// Base64 returns the inline data encoded as standard base64.
func (a *ImageAttachment) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}

// Turn is one role-tagged entry in a conversation. Turns are values: the
// sanitizer and adapters copy rather than mutate, so caller-owned history is
// never modified.
type Turn struct {
	// Role is the speaker of this turn.
	Role Role `json:"role"`

	// Content is the text of the turn.
	Content string `json:"content"`

	// Image is optional attached media.
	Image *ImageAttachment `json:"image,omitempty"`

	// ToolCalls are tool invocations declared by an assistant turn.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID back-references the call answered by a tool-role turn.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// StreamChunk is one incremental fragment of a streamed response. A completed
// stream always ends with a chunk whose Done is true; if the pipeline failed,
// that terminal chunk carries the reason in Error so that content already
// delivered is not discarded.
type StreamChunk struct {
	// Content is the incremental text delta (possibly empty).
	Content string `json:"content,omitempty"`

	// Done indicates this is the final chunk.
	Done bool `json:"done"`

	// Error describes a terminal failure. Only set when Done is true.
	Error string `json:"error,omitempty"`
}

// StreamHandler is a callback invoked for each chunk of a streaming
// completion. Returning an error aborts the stream.
type StreamHandler func(chunk StreamChunk) error

// Config is the resolved provider configuration for one dispatch. It is a
// value type: the Dispatcher snapshots it per call, and failover swaps fields
// only on the snapshot, never on the caller's copy.
type Config struct {
	// Provider is the backend family to dispatch to.
	Provider Family `json:"provider"`

	// APIKey is the credential for the provider. Empty for local backends.
	APIKey string `json:"api_key,omitempty"`

	// Model is the model identifier to request.
	Model string `json:"model"`

	// BaseURL overrides the family's default endpoint when non-empty.
	BaseURL string `json:"base_url,omitempty"`

	// Temperature controls sampling randomness. Negative means provider
	// default.
	Temperature float64 `json:"temperature"`

	// MaxTokens limits the response length. Zero means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}
