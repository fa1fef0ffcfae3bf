// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the text-generation backends used for narration.
//
// Every backend implements LLMClient: a blocking Chat call and a streaming
// ChatStream call that delivers fragments through a callback in backend
// emission order. Backends never retry; a failure is returned once.
package llm

import "context"

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage builds a system instruction turn.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// GenerationParams are sampling overrides. Nil fields use backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient is a text-generation backend.
type LLMClient interface {
	// Chat returns the complete response to messages.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// ChatStream delivers the response incrementally through callback.
	// A callback error aborts the stream and is returned wrapped. The call
	// returns nil only after the backend signalled completion.
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error
}
