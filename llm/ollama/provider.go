// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

// Package ollama implements the protocol adapter for a local Ollama
// instance. Ollama needs no credential; streaming is newline-delimited JSON
// with a done flag on the final line.
package ollama

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
	// DefaultBaseURL is the default local Ollama endpoint.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultTimeout is the default HTTP timeout. Local models can be slow
	// to load on first use.
	DefaultTimeout = 300 * time.Second
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter speaks the Ollama chat protocol. Safe for concurrent use.
type Adapter struct {
	client HTTPClient
}

// New creates an Ollama adapter with the default HTTP client.
func New() *Adapter {
	return &Adapter{client: &http.Client{Timeout: DefaultTimeout}}
}

// NewWithClient creates an adapter using a custom HTTP client.
func NewWithClient(client HTTPClient) *Adapter {
	return &Adapter{client: client}
}

// Family returns the backend family this adapter speaks for.
func (a *Adapter) Family() llm.Family {
	return llm.FamilyOllama
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
	return apiResp.Message.Content, nil
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
	apiReq := buildRequest(cfg, turns, stream)

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/api/chat", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, llm.TransportError(llm.FamilyOllama, err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, parseAPIError(resp.StatusCode, body)
	}

	return resp, nil
}

func buildRequest(cfg llm.Config, turns []llm.Turn, stream bool) chatRequest {
	apiReq := chatRequest{
		Model:  cfg.Model,
		Stream: stream,
	}

	options := map[string]any{}
	if cfg.Temperature >= 0 {
		options["temperature"] = cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		options["num_predict"] = cfg.MaxTokens
	}
	if len(options) > 0 {
		apiReq.Options = options
	}

	for _, t := range turns {
		msg := chatMessage{Role: string(t.Role), Content: t.Content}
		// Ollama has no tool role on the wire for all models; results pass
		// through as user content.
		if t.Role == llm.RoleTool {
			msg.Role = string(llm.RoleUser)
		}
		if t.Image != nil && len(t.Image.Data) > 0 {
			msg.Images = []string{t.Image.Base64()}
		}
		apiReq.Messages = append(apiReq.Messages, msg)
	}

	return apiReq
}

// processStream decodes the NDJSON stream: one JSON object per line, with
// done=true on the final line.
func (a *Adapter) processStream(ctx context.Context, body io.Reader, handler llm.StreamHandler) error {
	scanner := bufio.NewScanner(body)
	done := false

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return llm.TransportError(llm.FamilyOllama, ctx.Err())
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var event chatResponse
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue // skip malformed lines
		}

		if event.Message.Content != "" {
			if err := handler(llm.StreamChunk{Content: event.Message.Content}); err != nil {
				return fmt.Errorf("handler error: %w", err)
			}
		}

		if event.Done {
			done = true
			if err := handler(llm.StreamChunk{Done: true}); err != nil {
				return fmt.Errorf("handler error: %w", err)
			}
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return llm.TransportError(llm.FamilyOllama, err)
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
		Error string `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return llm.NewError(llm.FamilyOllama, statusCode, errResp.Error)
	}
	return llm.NewError(llm.FamilyOllama, statusCode, strings.TrimSpace(string(body)))
}

// Internal API types

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}
