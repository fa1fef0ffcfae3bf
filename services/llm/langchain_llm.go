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
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.opentelemetry.io/otel/attribute"
)

// LangChainClient adapts any langchaingo model to LLMClient.
type LangChainClient struct {
	model llms.Model
	name  string
}

// NewLangChainClient wraps model. name is only used for tracing.
func NewLangChainClient(model llms.Model, name string) *LangChainClient {
	return &LangChainClient{model: model, name: name}
}

// NewLangChainOllamaClient builds a LangChainClient backed by langchaingo's
// Ollama provider.
func NewLangChainOllamaClient(serverURL, model string) (*LangChainClient, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	m, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create langchain ollama model: %w", err)
	}
	return NewLangChainClient(m, model), nil
}

func toLangChainMessages(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

func toLangChainOptions(params GenerationParams) []llms.CallOption {
	var opts []llms.CallOption
	if params.Temperature != nil {
		opts = append(opts, llms.WithTemperature(float64(*params.Temperature)))
	}
	if params.TopK != nil {
		opts = append(opts, llms.WithTopK(*params.TopK))
	}
	if params.TopP != nil {
		opts = append(opts, llms.WithTopP(float64(*params.TopP)))
	}
	if params.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*params.MaxTokens))
	}
	if len(params.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(params.Stop))
	}
	return opts
}

// Chat runs GenerateContent and returns the first choice.
func (c *LangChainClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "LangChainClient.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.name))

	resp, err := c.model.GenerateContent(ctx, toLangChainMessages(messages), toLangChainOptions(params)...)
	if err != nil {
		failSpan(span, err)
		return "", fmt.Errorf("langchain generate failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		err := errors.New("langchain returned no choices")
		failSpan(span, err)
		return "", err
	}
	return resp.Choices[0].Content, nil
}

// ChatStream runs GenerateContent with a streaming function that forwards
// each chunk as a token event.
func (c *LangChainClient) ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error {
	ctx, span := tracer.Start(ctx, "LangChainClient.ChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.name))

	processor := NewStreamProcessor(DefaultStreamConfig(), nil)
	var callbackErr error
	opts := append(toLangChainOptions(params), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		if _, err := processor.process(ctx, streamChunk{Content: string(chunk)}, callback); err != nil {
			callbackErr = err
			return err
		}
		return nil
	}))

	_, err := c.model.GenerateContent(ctx, toLangChainMessages(messages), opts...)
	if callbackErr != nil {
		failSpan(span, callbackErr)
		return callbackErr
	}
	if err != nil {
		failSpan(span, err)
		if ctx.Err() != nil {
			return fmt.Errorf("langchain stream cancelled: %w", ctx.Err())
		}
		_ = callback(StreamEvent{Type: StreamEventError, Error: err.Error()})
		return fmt.Errorf("langchain stream failed: %w", err)
	}
	span.SetAttributes(attribute.Int("llm.tokens", processor.TokenCount()))
	return nil
}
