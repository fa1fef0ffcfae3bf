// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAIClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewOpenAIClient("sk-test", server.URL+"/v1", "test-model")
	require.NoError(t, err)
	return client
}

func TestResolveOpenAIKey(t *testing.T) {
	t.Run("explicit key wins", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "from-env")
		key, err := ResolveOpenAIKey("explicit", "")
		require.NoError(t, err)
		assert.Equal(t, "explicit", key)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "from-env")
		key, err := ResolveOpenAIKey("", "")
		require.NoError(t, err)
		assert.Equal(t, "from-env", key)
	})

	t.Run("file", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		path := filepath.Join(t.TempDir(), "key")
		require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
		key, err := ResolveOpenAIKey("", path)
		require.NoError(t, err)
		assert.Equal(t, "from-file", key)
	})

	t.Run("empty file", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		path := filepath.Join(t.TempDir(), "key")
		require.NoError(t, os.WriteFile(path, []byte(" \n"), 0o600))
		_, err := ResolveOpenAIKey("", path)
		assert.Error(t, err)
	})

	t.Run("missing", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		_, err := ResolveOpenAIKey("", filepath.Join(t.TempDir(), "absent"))
		assert.Error(t, err)
	})
}

func TestNewOpenAIClient_Defaults(t *testing.T) {
	_, err := NewOpenAIClient("", "", "")
	assert.Error(t, err)

	c, err := NewOpenAIClient("sk-test", "", "")
	require.NoError(t, err)
	assert.Equal(t, openai.GPT4oMini, c.model)
}

func TestOpenAIClient_Chat(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, RoleSystem, req.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"check reflow"},"finish_reason":"stop"}]}`))
	})

	out, err := client.Chat(context.Background(), testMessages, GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "check reflow", out)
}

func TestOpenAIClient_Chat_NoChoices(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[]}`))
	})

	_, err := client.Chat(context.Background(), testMessages, GenerationParams{})
	assert.Error(t, err)
}

func TestOpenAIClient_ChatStream(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"a", "b", "c"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var events []StreamEvent
	err := client.ChatStream(context.Background(), testMessages, GenerationParams{}, collect(&events))
	require.NoError(t, err)
	assert.Equal(t, []StreamEvent{
		{Type: StreamEventToken, Content: "a"},
		{Type: StreamEventToken, Content: "b"},
		{Type: StreamEventToken, Content: "c"},
	}, events)
}

func TestOpenAIClient_ChatStream_RequestError(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	})

	err := client.ChatStream(context.Background(), testMessages, GenerationParams{}, collect(new([]StreamEvent)))
	assert.Error(t, err)
}
