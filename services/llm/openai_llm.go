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
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
)

// openAISecretPath is where container secrets mount the API key.
const openAISecretPath = "/run/secrets/openai_api_key"

// OpenAIClient talks to the OpenAI chat completions API or any server
// compatible with it.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// ResolveOpenAIKey returns apiKey if set, else OPENAI_API_KEY, else the
// contents of keyFile (defaulting to the container secret path).
func ResolveOpenAIKey(apiKey, keyFile string) (string, error) {
	if apiKey != "" {
		return apiKey, nil
	}
	if env := os.Getenv("OPENAI_API_KEY"); env != "" {
		return env, nil
	}
	if keyFile == "" {
		keyFile = openAISecretPath
	}
	key, err := readSecretFile(keyFile)
	if err != nil {
		return "", fmt.Errorf("OPENAI_API_KEY not set and no key at %s: %w", keyFile, err)
	}
	slog.Info("Read the OpenAI API key from secret file", "path", keyFile)
	return key, nil
}

// readSecretFile reads path into locked memory, which is wiped once the
// trimmed value has been copied out.
func readSecretFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf, err := memguard.NewBufferFromEntireReader(f)
	if err != nil {
		return "", err
	}
	defer buf.Destroy()

	key := strings.TrimSpace(string(buf.Bytes()))
	if key == "" {
		return "", errors.New("secret file is empty")
	}
	return key, nil
}

// NewOpenAIClient creates a client. An empty baseURL uses api.openai.com;
// otherwise it must include the version path, e.g. "http://host/v1".
func NewOpenAIClient(apiKey, baseURL, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if model == "" {
		model = openai.GPT4oMini
		slog.Warn("OpenAI model not set, defaulting", "model", model)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

func (o *OpenAIClient) request(messages []Message, params GenerationParams) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{Model: o.model}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

// Chat returns the first choice of a chat completion.
func (o *OpenAIClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	resp, err := o.client.CreateChatCompletion(ctx, o.request(messages, params))
	if err != nil {
		failSpan(span, err)
		slog.Error("OpenAI API call failed", "error", err)
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		err := errors.New("OpenAI returned no choices")
		failSpan(span, err)
		return "", err
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// ChatStream streams delta content from a chat completion.
func (o *OpenAIClient) ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error {
	ctx, span := tracer.Start(ctx, "OpenAIClient.ChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	req := o.request(messages, params)
	req.Stream = true

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("OpenAI stream request failed: %w", err)
	}
	defer stream.Close()

	processor := NewStreamProcessor(DefaultStreamConfig(), nil)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			span.SetAttributes(attribute.Int("llm.tokens", processor.TokenCount()))
			return nil
		}
		if err != nil {
			failSpan(span, err)
			if ctx.Err() != nil {
				return fmt.Errorf("OpenAI stream cancelled: %w", ctx.Err())
			}
			_ = callback(StreamEvent{Type: StreamEventError, Error: err.Error()})
			return fmt.Errorf("OpenAI stream failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if _, err := processor.process(ctx, streamChunk{Content: resp.Choices[0].Delta.Content}, callback); err != nil {
			failSpan(span, err)
			return err
		}
	}
}
