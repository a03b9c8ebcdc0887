// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package openai implements the protocol adapter for OpenAI's chat
// completions API. The wire format is shared by several other backends;
// NewCompatible lets those families reuse the codec under their own identity
// and endpoint.
package openai

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
	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 120 * time.Second

	// streamTerminator is the sentinel ending an SSE stream. It is a framing
	// signal, never content.
	streamTerminator = "[DONE]"
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter speaks the OpenAI chat completions protocol. Safe for concurrent
// use.
type Adapter struct {
	family  llm.Family
	baseURL string
	client  HTTPClient
}

// New creates an OpenAI adapter with the default HTTP client.
func New() *Adapter {
	return NewCompatible(llm.FamilyOpenAI, DefaultBaseURL, nil)
}

// NewCompatible creates an adapter for an OpenAI-compatible backend under a
// different family identity and default endpoint. A nil client uses a default
// HTTP client.
func NewCompatible(family llm.Family, baseURL string, client HTTPClient) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Adapter{family: family, baseURL: baseURL, client: client}
}

// Family returns the backend family this adapter speaks for.
func (a *Adapter) Family() llm.Family {
	return a.family
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

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(apiResp.Choices) == 0 {
		return "", nil
	}
	return apiResp.Choices[0].Message.Content, nil
}

// Stream sends the conversation and delivers incremental deltas to handler.
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

func (a *Adapter) do(ctx context.Context, cfg llm.Config, turns []llm.Turn, stream bool) (*http.Response, error) {
	if cfg.APIKey == "" {
		return nil, llm.ConfigError(a.family, "missing API key")
	}

	apiReq := buildRequest(cfg, turns, stream)

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = a.baseURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/v1/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, llm.TransportError(a.family, err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, a.parseAPIError(resp.StatusCode, body)
	}

	return resp, nil
}

// buildRequest translates the conversation into the chat completions shape.
// System turns stay in-line as system-role messages; images become image_url
// data-URI parts.
func buildRequest(cfg llm.Config, turns []llm.Turn, stream bool) chatRequest {
	apiReq := chatRequest{
		Model:  cfg.Model,
		Stream: stream,
	}

	if cfg.Temperature >= 0 {
		temp := cfg.Temperature
		apiReq.Temperature = &temp
	}
	if cfg.MaxTokens > 0 {
		apiReq.MaxTokens = cfg.MaxTokens
	}

	for _, t := range turns {
		msg := chatMessage{Role: string(t.Role)}

		switch t.Role {
		case llm.RoleAssistant:
			msg.Content = t.Content
			for _, call := range t.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, toolCall{
					ID:   call.ID,
					Type: "function",
					Function: functionCall{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}

		case llm.RoleTool:
			msg.Content = t.Content
			msg.ToolCallID = t.ToolCallID

		default: // system, user
			if t.Image != nil {
				msg.ContentParts = []contentPart{
					{Type: "text", Text: t.Content},
					{Type: "image_url", ImageURL: &imageURL{URL: imageURI(t.Image)}},
				}
			} else {
				msg.Content = t.Content
			}
		}

		apiReq.Messages = append(apiReq.Messages, msg)
	}

	return apiReq
}

func imageURI(img *llm.ImageAttachment) string {
	if img.URL != "" {
		return img.URL
	}
	return fmt.Sprintf("data:%s;base64,%s", img.MediaType, img.Base64())
}

// processStream decodes SSE data lines until the [DONE] sentinel or stream
// closure. Malformed events are skipped; the scanner's line buffering drops
// incomplete trailing fragments.
func (a *Adapter) processStream(ctx context.Context, body io.Reader, handler llm.StreamHandler) error {
	scanner := bufio.NewScanner(body)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return llm.TransportError(a.family, ctx.Err())
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if data == streamTerminator {
			if err := handler(llm.StreamChunk{Done: true}); err != nil {
				return fmt.Errorf("handler error: %w", err)
			}
			return nil
		}

		var event streamResponse
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		if len(event.Choices) == 0 {
			continue
		}
		delta := event.Choices[0].Delta.Content
		if delta != "" {
			if err := handler(llm.StreamChunk{Content: delta}); err != nil {
				return fmt.Errorf("handler error: %w", err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return llm.TransportError(a.family, err)
	}

	// Stream closed without the sentinel; terminate cleanly.
	if err := handler(llm.StreamChunk{Done: true}); err != nil {
		return fmt.Errorf("handler error: %w", err)
	}
	return nil
}

func (a *Adapter) parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return llm.NewError(a.family, statusCode, errResp.Error.Message)
	}
	return llm.NewError(a.family, statusCode, strings.TrimSpace(string(body)))
}

// Internal API types

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_completion_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// chatMessage carries either plain string content or multi-part content, but
// never both. MarshalJSON picks the representation.
type chatMessage struct {
	Role         string
	Content      string
	ContentParts []contentPart
	ToolCalls    []toolCall
	ToolCallID   string
}

func (m chatMessage) MarshalJSON() ([]byte, error) {
	type wire struct {
		Role       string      `json:"role"`
		Content    interface{} `json:"content"`
		ToolCalls  []toolCall  `json:"tool_calls,omitempty"`
		ToolCallID string      `json:"tool_call_id,omitempty"`
	}
	w := wire{
		Role:       m.Role,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
	}
	if len(m.ContentParts) > 0 {
		w.Content = m.ContentParts
	} else {
		w.Content = m.Content
	}
	return json.Marshal(w)
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type streamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
