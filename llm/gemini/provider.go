// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package gemini implements the protocol adapter for Google's Gemini
// generateContent API, with both blocking and streaming (SSE) modes.
package gemini

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
	// DefaultBaseURL is the default Gemini API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// APIVersion is the Gemini API version path segment.
	APIVersion = "v1beta"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 120 * time.Second
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter speaks the Gemini generateContent protocol. Safe for concurrent
// use.
type Adapter struct {
	client HTTPClient
}

// New creates a Gemini adapter with the default HTTP client.
func New() *Adapter {
	return &Adapter{client: &http.Client{Timeout: DefaultTimeout}}
}

// NewWithClient creates an adapter using a custom HTTP client.
func NewWithClient(client HTTPClient) *Adapter {
	return &Adapter{client: client}
}

// Family returns the backend family this adapter speaks for.
func (a *Adapter) Family() llm.Family {
	return llm.FamilyGemini
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

	var apiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	var content strings.Builder
	if len(apiResp.Candidates) > 0 {
		for _, part := range apiResp.Candidates[0].Content.Parts {
			content.WriteString(part.Text)
		}
	}
	return content.String(), nil
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
		return nil, llm.ConfigError(llm.FamilyGemini, "missing API key")
	}

	apiReq := buildRequest(cfg, turns)

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	method := "generateContent"
	query := ""
	if stream {
		method = "streamGenerateContent"
		query = "alt=sse&"
	}
	url := fmt.Sprintf("%s/%s/models/%s:%s?%skey=%s",
		baseURL, APIVersion, cfg.Model, method, query, cfg.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, llm.TransportError(llm.FamilyGemini, err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, parseAPIError(resp.StatusCode, body)
	}

	return resp, nil
}

// buildRequest translates the conversation into the generateContent shape.
// System turns move into systemInstruction; assistant maps to the "model"
// role; tool results are folded into user parts since the sanitizer has
// already flattened tool structure for this family.
func buildRequest(cfg llm.Config, turns []llm.Turn) geminiRequest {
	apiReq := geminiRequest{}

	generationConfig := map[string]any{}
	if cfg.MaxTokens > 0 {
		generationConfig["maxOutputTokens"] = cfg.MaxTokens
	}
	if cfg.Temperature >= 0 {
		generationConfig["temperature"] = cfg.Temperature
	}
	if len(generationConfig) > 0 {
		apiReq.GenerationConfig = generationConfig
	}

	var systemParts []geminiPart
	for _, t := range turns {
		switch t.Role {
		case llm.RoleSystem:
			if t.Content != "" {
				systemParts = append(systemParts, geminiPart{Text: t.Content})
			}

		case llm.RoleAssistant:
			apiReq.Contents = append(apiReq.Contents, geminiContent{
				Role:  "model",
				Parts: []geminiPart{{Text: t.Content}},
			})

		default: // user, tool
			parts := []geminiPart{}
			if t.Content != "" {
				parts = append(parts, geminiPart{Text: t.Content})
			}
			if t.Image != nil {
				parts = append(parts, geminiPart{
					InlineData: &geminiBlob{
						MimeType: t.Image.MediaType,
						Data:     t.Image.Base64(),
					},
				})
			}
			if len(parts) == 0 {
				parts = append(parts, geminiPart{Text: ""})
			}
			apiReq.Contents = append(apiReq.Contents, geminiContent{Role: "user", Parts: parts})
		}
	}

	if len(systemParts) > 0 {
		apiReq.SystemInstruction = &geminiContent{Parts: systemParts}
	}

	return apiReq
}

// processStream decodes the SSE stream. Gemini signals termination with a
// finishReason on the last candidate, or simply by closing the stream.
func (a *Adapter) processStream(ctx context.Context, body io.Reader, handler llm.StreamHandler) error {
	scanner := bufio.NewScanner(body)
	done := false

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return llm.TransportError(llm.FamilyGemini, ctx.Err())
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var event geminiResponse
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue // skip malformed events
		}

		if len(event.Candidates) == 0 {
			continue
		}
		candidate := event.Candidates[0]

		for _, part := range candidate.Content.Parts {
			if part.Text == "" {
				continue
			}
			if err := handler(llm.StreamChunk{Content: part.Text}); err != nil {
				return fmt.Errorf("handler error: %w", err)
			}
		}

		if candidate.FinishReason != "" && !done {
			done = true
			if err := handler(llm.StreamChunk{Done: true}); err != nil {
				return fmt.Errorf("handler error: %w", err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return llm.TransportError(llm.FamilyGemini, err)
	}

	if !done {
		if err := handler(llm.StreamChunk{Done: true}); err != nil {
			return fmt.Errorf("handler error: %w", err)
		}
	}
	return nil
}

func parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return llm.NewError(llm.FamilyGemini, statusCode, errResp.Error.Message)
	}
	return llm.NewError(llm.FamilyGemini, statusCode, strings.TrimSpace(string(body)))
}

// Internal API types

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  map[string]any  `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *geminiBlob `json:"inline_data,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates,omitempty"`
}
