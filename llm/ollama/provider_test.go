// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package ollama

import (
	"context"
	"encoding/json"
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
		Provider:    llm.FamilyOllama,
		Model:       "llama3.2",
		BaseURL:     baseURL,
		Temperature: -1,
	}
}

func TestComplete_Success(t *testing.T) {
	var gotReq chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotReq))

		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"model":"llama3.2","message":{"role":"assistant","content":"Hello from local"},"done":true}`))
	}))
	defer server.Close()

	// No API key; the local backend has no credential scheme.
	result, err := New().Complete(context.Background(), testConfig(server.URL), []llm.Turn{
		{Role: llm.RoleUser, Content: "hi"},
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello from local", result)
	assert.Equal(t, "llama3.2", gotReq.Model)
	assert.False(t, gotReq.Stream)
}

func TestComplete_Options(t *testing.T) {
	var gotReq chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotReq))
		_, _ = w.Write([]byte(`{"message":{"content":""},"done":true}`))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Temperature = 0.8
	cfg.MaxTokens = 128

	_, err := New().Complete(context.Background(), cfg, []llm.Turn{{Role: llm.RoleUser, Content: "hi"}})
	require.NoError(t, err)

	assert.Equal(t, 0.8, gotReq.Options["temperature"])
	assert.Equal(t, float64(128), gotReq.Options["num_predict"])
}

func TestBuildRequest_ToolRoleRemapped(t *testing.T) {
	turns := []llm.Turn{
		{Role: llm.RoleAssistant, Content: "checking"},
		{Role: llm.RoleTool, ToolCallID: "call-1", Content: "result text"},
	}

	req := buildRequest(llm.Config{Model: "llama3.2", Temperature: -1}, turns, false)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, "assistant", req.Messages[0].Role)
	assert.Equal(t, "user", req.Messages[1].Role)
	assert.Equal(t, "result text", req.Messages[1].Content)
}

func TestBuildRequest_InlineImage(t *testing.T) {
	turns := []llm.Turn{{
		Role:    llm.RoleUser,
		Content: "describe",
		Image:   &llm.ImageAttachment{MediaType: "image/png", Data: []byte{1, 2}},
	}}

	req := buildRequest(llm.Config{Model: "llava", Temperature: -1}, turns, false)

	require.Len(t, req.Messages, 1)
	require.Len(t, req.Messages[0].Images, 1)
	assert.Equal(t, "AQI=", req.Messages[0].Images[0])
}

func TestComplete_ErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'nope' not found"}`))
	}))
	defer server.Close()

	_, err := New().Complete(context.Background(), testConfig(server.URL), []llm.Turn{{Role: llm.RoleUser, Content: "hi"}})

	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.KindClient, llmErr.Kind)
	assert.Equal(t, "model 'nope' not found", llmErr.Message)
}

func TestComplete_ConnectionRefused(t *testing.T) {
	// Nothing is listening here.
	cfg := testConfig("http://127.0.0.1:1")

	_, err := New().Complete(context.Background(), cfg, []llm.Turn{{Role: llm.RoleUser, Content: "hi"}})

	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.KindTransient, llmErr.Kind)
}

func TestStream_NDJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.True(t, req.Stream)

		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"Hel"},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"lo"},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":""},"done":true}`+"\n")
	}))
	defer server.Close()

	var chunks []llm.StreamChunk
	err := New().Stream(context.Background(), testConfig(server.URL), []llm.Turn{{Role: llm.RoleUser, Content: "hi"}}, func(chunk llm.StreamChunk) error {
		chunks = append(chunks, chunk)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", chunks[0].Content)
	assert.Equal(t, "lo", chunks[1].Content)
	assert.True(t, chunks[2].Done)
}

func TestStream_ClosureWithoutDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":{"content":"partial"},"done":false}`+"\n")
	}))
	defer server.Close()

	var chunks []llm.StreamChunk
	err := New().Stream(context.Background(), testConfig(server.URL), []llm.Turn{{Role: llm.RoleUser, Content: "hi"}}, func(chunk llm.StreamChunk) error {
		chunks = append(chunks, chunk)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.True(t, chunks[1].Done)
}

func TestFamily(t *testing.T) {
	assert.Equal(t, llm.FamilyOllama, New().Family())
}
