// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelrelay/core/llm"
)

func testConfig(baseURL string) llm.Config {
	return llm.Config{
		Provider:    llm.FamilyAnthropic,
		APIKey:      "test-key",
		Model:       "claude-3-5-sonnet-20241022",
		BaseURL:     baseURL,
		Temperature: -1,
	}
}

func TestComplete_Success(t *testing.T) {
	var gotReq anthropicRequest
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotReq))

		assert.Equal(t, "/v1/messages", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"msg_1","content":[{"type":"text","text":"Hello"},{"type":"text","text":" there"}],"stop_reason":"end_turn"}`))
	}))
	defer server.Close()

	adapter := New()
	result, err := adapter.Complete(context.Background(), testConfig(server.URL), []llm.Turn{
		{Role: llm.RoleSystem, Content: "be brief"},
		{Role: llm.RoleUser, Content: "hi"},
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello there", result)

	assert.Equal(t, "test-key", gotHeaders.Get("x-api-key"))
	assert.Equal(t, APIVersion, gotHeaders.Get("anthropic-version"))

	assert.Equal(t, "claude-3-5-sonnet-20241022", gotReq.Model)
	assert.Equal(t, DefaultMaxTokens, gotReq.MaxTokens)
	assert.Equal(t, "be brief", gotReq.System)
	assert.Nil(t, gotReq.Temperature)
	assert.False(t, gotReq.Stream)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
}

func TestComplete_MissingAPIKey(t *testing.T) {
	adapter := New()
	cfg := testConfig("")
	cfg.APIKey = ""

	_, err := adapter.Complete(context.Background(), cfg, []llm.Turn{{Role: llm.RoleUser, Content: "hi"}})

	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.KindConfig, llmErr.Kind)
}

func TestComplete_ErrorEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind llm.ErrorKind
		wantMsg  string
	}{
		{"rate limited", 429, `{"error":{"type":"rate_limit_error","message":"slow down"}}`, llm.KindTransient, "slow down"},
		{"overloaded", 529, `{"error":{"type":"overloaded_error","message":"overloaded"}}`, llm.KindTransient, "overloaded"},
		{"invalid request", 400, `{"error":{"type":"invalid_request_error","message":"bad model"}}`, llm.KindClient, "bad model"},
		{"non-json body", 503, `upstream unavailable`, llm.KindTransient, "upstream unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			adapter := New()
			_, err := adapter.Complete(context.Background(), testConfig(server.URL), []llm.Turn{{Role: llm.RoleUser, Content: "hi"}})

			var llmErr *llm.Error
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tt.wantKind, llmErr.Kind)
			assert.Equal(t, tt.status, llmErr.StatusCode)
			assert.Equal(t, tt.wantMsg, llmErr.Message)
		})
	}
}

func TestStream_DeltasAndStop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: message_start\n")
		_, _ = io.WriteString(w, `data: {"type":"message_start"}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"type":"message_stop"}`+"\n\n")
	}))
	defer server.Close()

	adapter := New()
	var chunks []llm.StreamChunk
	err := adapter.Stream(context.Background(), testConfig(server.URL), []llm.Turn{{Role: llm.RoleUser, Content: "hi"}}, func(chunk llm.StreamChunk) error {
		chunks = append(chunks, chunk)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", chunks[0].Content)
	assert.Equal(t, "lo", chunks[1].Content)
	assert.True(t, chunks[2].Done)
}

func TestStream_ClosureWithoutStopStillTerminates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"partial"}}`+"\n\n")
	}))
	defer server.Close()

	adapter := New()
	var chunks []llm.StreamChunk
	err := adapter.Stream(context.Background(), testConfig(server.URL), []llm.Turn{{Role: llm.RoleUser, Content: "hi"}}, func(chunk llm.StreamChunk) error {
		chunks = append(chunks, chunk)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "partial", chunks[0].Content)
	assert.True(t, chunks[1].Done)
}

func TestStream_HandlerErrorAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 50; i++ {
			_, _ = io.WriteString(w, `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"x"}}`+"\n\n")
		}
		_, _ = io.WriteString(w, `data: {"type":"message_stop"}`+"\n\n")
	}))
	defer server.Close()

	adapter := New()
	abort := errors.New("consumer gone")
	calls := 0
	err := adapter.Stream(context.Background(), testConfig(server.URL), []llm.Turn{{Role: llm.RoleUser, Content: "hi"}}, func(chunk llm.StreamChunk) error {
		calls++
		return abort
	})

	require.ErrorIs(t, err, abort)
	assert.Equal(t, 1, calls)
}

func TestBuildRequest_Roles(t *testing.T) {
	turns := []llm.Turn{
		{Role: llm.RoleUser, Content: "weather?"},
		{Role: llm.RoleAssistant, Content: "checking", ToolCalls: []llm.ToolCall{
			{ID: "call-1", Name: "weather", Arguments: `{"city":"oslo"}`},
		}},
		{Role: llm.RoleTool, ToolCallID: "call-1", Content: "4C"},
	}

	req := buildRequest(llm.Config{Model: "claude-3-5-sonnet-20241022", Temperature: 0.5, MaxTokens: 100}, turns, false)

	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.5, *req.Temperature)
	assert.Equal(t, 100, req.MaxTokens)
	require.Len(t, req.Messages, 3)

	assistant := req.Messages[1]
	assert.Equal(t, "assistant", assistant.Role)
	require.Len(t, assistant.Content, 2)
	assert.Equal(t, "text", assistant.Content[0].Type)
	assert.Equal(t, "tool_use", assistant.Content[1].Type)
	assert.Equal(t, "call-1", assistant.Content[1].ID)

	// Tool results ride on a user-role message.
	result := req.Messages[2]
	assert.Equal(t, "user", result.Role)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "tool_result", result.Content[0].Type)
	assert.Equal(t, "call-1", result.Content[0].ToolUseID)
	assert.Equal(t, "4C", result.Content[0].Content)
}

func TestBuildRequest_Images(t *testing.T) {
	t.Run("inline bytes", func(t *testing.T) {
		turns := []llm.Turn{{
			Role:    llm.RoleUser,
			Content: "what is this?",
			Image:   &llm.ImageAttachment{MediaType: "image/png", Data: []byte{1, 2, 3}},
		}}
		req := buildRequest(llm.Config{Model: "claude-3-5-sonnet-20241022", Temperature: -1}, turns, false)

		require.Len(t, req.Messages, 1)
		blocks := req.Messages[0].Content
		require.Len(t, blocks, 2)
		assert.Equal(t, "image", blocks[0].Type)
		require.NotNil(t, blocks[0].Source)
		assert.Equal(t, "base64", blocks[0].Source.Type)
		assert.Equal(t, "image/png", blocks[0].Source.MediaType)
		assert.Equal(t, "what is this?", blocks[1].Text)
	})

	t.Run("url reference", func(t *testing.T) {
		turns := []llm.Turn{{
			Role:  llm.RoleUser,
			Image: &llm.ImageAttachment{URL: "https://example.com/cat.png"},
		}}
		req := buildRequest(llm.Config{Model: "claude-3-5-sonnet-20241022", Temperature: -1}, turns, false)

		blocks := req.Messages[0].Content
		require.NotEmpty(t, blocks)
		require.NotNil(t, blocks[0].Source)
		assert.Equal(t, "url", blocks[0].Source.Type)
		assert.Equal(t, "https://example.com/cat.png", blocks[0].Source.URL)
	})
}

func TestFamily(t *testing.T) {
	assert.Equal(t, llm.FamilyAnthropic, New().Family())
}
