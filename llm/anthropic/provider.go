// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package anthropic implements the protocol adapter for Anthropic's messages
// API, with both blocking and streaming (SSE) completion modes.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"modelrelay/core/llm"
)

const (
	// DefaultBaseURL is the default Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// APIVersion is the anthropic-version header value.
	APIVersion = "2023-06-01"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is used when the config leaves MaxTokens unset; the
	// messages API requires the field.
	DefaultMaxTokens = 4096
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter speaks the Anthropic messages protocol. Safe for concurrent use.
type Adapter struct {
	client HTTPClient
}

// New creates an Anthropic adapter with the default HTTP client.
func New() *Adapter {
	return &Adapter{client: &http.Client{Timeout: DefaultTimeout}}
}

// NewWithClient creates an adapter using a custom HTTP client.
func NewWithClient(client HTTPClient) *Adapter {
	return &Adapter{client: client}
}

// Family returns the backend family this adapter speaks for.
func (a *Adapter) Family() llm.Family {
	return llm.FamilyAnthropic
}

// Complete sends the conversation and returns the full answer text.
func (a *Adapter) Complete(ctx context.Context, cfg llm.Config, turns []llm.Turn) (string, error) {
	resp, err := a.do(ctx, cfg, turns, false)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	var content strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return content.String(), nil
}

// Stream sends the conversation and delivers incremental text deltas to
// handler as they arrive.
func (a *Adapter) Stream(ctx context.Context, cfg llm.Config, turns []llm.Turn, handler llm.StreamHandler) error {
	resp, err := a.do(ctx, cfg, turns, true)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return a.processStream(ctx, resp.Body, handler)
}

// do builds and executes one HTTP request, returning the response on a 200
// and a classified error otherwise.
func (a *Adapter) do(ctx context.Context, cfg llm.Config, turns []llm.Turn, stream bool) (*http.Response, error) {
	if cfg.APIKey == "" {
		return nil, llm.ConfigError(llm.FamilyAnthropic, "missing API key")
	}

	apiReq := buildRequest(cfg, turns, stream)

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/v1/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", cfg.APIKey)
	httpReq.Header.Set("anthropic-version", APIVersion)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, llm.TransportError(llm.FamilyAnthropic, err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, parseAPIError(resp.StatusCode, body)
	}

	return resp, nil
}

// buildRequest translates the conversation into the messages API shape. A
// leading system turn moves into the dedicated system field; tool-role turns
// become user-role tool_result blocks, per the API's role vocabulary.
func buildRequest(cfg llm.Config, turns []llm.Turn, stream bool) anthropicRequest {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	apiReq := anthropicRequest{
		Model:     cfg.Model,
		MaxTokens: maxTokens,
		Stream:    stream,
	}

	if cfg.Temperature >= 0 {
		temp := cfg.Temperature
		apiReq.Temperature = &temp
	}

	var systemParts []string
	for _, t := range turns {
		switch t.Role {
		case llm.RoleSystem:
			if t.Content != "" {
				systemParts = append(systemParts, t.Content)
			}

		case llm.RoleAssistant:
			var blocks []contentBlock
			if t.Content != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: t.Content})
			}
			for _, call := range t.ToolCalls {
				blocks = append(blocks, contentBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: json.RawMessage(call.Arguments),
				})
			}
			apiReq.Messages = append(apiReq.Messages, anthropicMessage{Role: "assistant", Content: blocks})

		case llm.RoleTool:
			apiReq.Messages = append(apiReq.Messages, anthropicMessage{
				Role: "user",
				Content: []contentBlock{{
					Type:      "tool_result",
					ToolUseID: t.ToolCallID,
					Content:   t.Content,
				}},
			})

		default: // user
			var blocks []contentBlock
			if t.Image != nil {
				blocks = append(blocks, imageBlock(t.Image))
			}
			if t.Content != "" || len(blocks) == 0 {
				blocks = append(blocks, contentBlock{Type: "text", Text: t.Content})
			}
			apiReq.Messages = append(apiReq.Messages, anthropicMessage{Role: "user", Content: blocks})
		}
	}

	apiReq.System = strings.Join(systemParts, "\n\n")
	return apiReq
}

func imageBlock(img *llm.ImageAttachment) contentBlock {
	if img.URL != "" {
		return contentBlock{
			Type:   "image",
			Source: &imageSource{Type: "url", URL: img.URL},
		}
	}
	return contentBlock{
		Type: "image",
		Source: &imageSource{
			Type:      "base64",
			MediaType: img.MediaType,
			Data:      img.Base64(),
		},
	}
}

// processStream decodes the SSE event stream. The scanner buffers partial
// lines, so incomplete trailing fragments are dropped rather than surfaced.
func (a *Adapter) processStream(ctx context.Context, body io.Reader, handler llm.StreamHandler) error {
	scanner := bufio.NewScanner(body)
	done := false

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return llm.TransportError(llm.FamilyAnthropic, ctx.Err())
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue // skip malformed events
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				if err := handler(llm.StreamChunk{Content: event.Delta.Text}); err != nil {
					return fmt.Errorf("handler error: %w", err)
				}
			}

		case "message_stop":
			done = true
			if err := handler(llm.StreamChunk{Done: true}); err != nil {
				return fmt.Errorf("handler error: %w", err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return llm.TransportError(llm.FamilyAnthropic, err)
	}

	// Stream closed without an explicit stop event; terminate cleanly.
	if !done {
		if err := handler(llm.StreamChunk{Done: true}); err != nil {
			return fmt.Errorf("handler error: %w", err)
		}
	}
	return nil
}

// parseAPIError extracts the most specific message the error envelope offers.
func parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return llm.NewError(llm.FamilyAnthropic, statusCode, errResp.Error.Message)
	}
	return llm.NewError(llm.FamilyAnthropic, statusCode, strings.TrimSpace(string(body)))
}

// Internal API types

type anthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	Temperature   *float64           `json:"temperature,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use fields
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result fields
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`

	// image fields
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta,omitempty"`
}
