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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("qualitycontrol.llm")

// Default sampling for Ollama when GenerationParams leaves a field nil.
const (
	ollamaDefaultTemperature = float32(0.2)
	ollamaDefaultTopK        = 20
	ollamaDefaultTopP        = float32(0.9)
	ollamaDefaultNumPredict  = 8192

	// maxNDJSONLine bounds one streamed line.
	maxNDJSONLine = 1 << 20
)

// OllamaClient talks to an Ollama server over its /api/chat endpoint.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	logger     *slog.Logger
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []Message              `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message   Message `json:"message"`
	CreatedAt string  `json:"created_at"`
	Done      bool    `json:"done"`
	Error     string  `json:"error,omitempty"`
}

// ollamaStreamChunk is one NDJSON line of a streaming chat response.
type ollamaStreamChunk struct {
	Message       Message `json:"message"`
	Thinking      string  `json:"thinking,omitempty"`
	Done          bool    `json:"done"`
	DoneReason    string  `json:"done_reason,omitempty"`
	TotalDuration int64   `json:"total_duration,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// NewOllamaClient creates a client for the server at baseURL. timeout
// bounds each whole request including a full stream; zero means 5 minutes.
func NewOllamaClient(baseURL, model string, timeout time.Duration) (*OllamaClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("ollama base URL is required")
	}
	if model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL, "model", model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		model:      model,
		logger:     slog.Default(),
	}, nil
}

func (o *OllamaClient) options(params GenerationParams) map[string]interface{} {
	options := map[string]interface{}{
		"temperature": ollamaDefaultTemperature,
		"top_k":       ollamaDefaultTopK,
		"top_p":       ollamaDefaultTopP,
		"num_predict": ollamaDefaultNumPredict,
	}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	return options
}

func (o *OllamaClient) newChatRequest(ctx context.Context, messages []Message, params GenerationParams, stream bool) (*http.Request, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   stream,
		Options:  o.options(params),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request to Ollama: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "application/x-ndjson")
	}
	return req, nil
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Chat sends messages and returns the assistant reply.
func (o *OllamaClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	req, err := o.newChatRequest(ctx, messages, params, false)
	if err != nil {
		failSpan(span, err)
		return "", err
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		failSpan(span, err)
		return "", fmt.Errorf("ollama chat request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		failSpan(span, err)
		return "", fmt.Errorf("failed to read Ollama chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("ollama chat failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		o.logger.Error("Ollama chat returned an error", "status_code", resp.StatusCode)
		failSpan(span, err)
		return "", err
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		failSpan(span, err)
		return "", fmt.Errorf("failed to parse Ollama chat response: %w", err)
	}
	if out.Error != "" {
		err := fmt.Errorf("ollama chat error: %s", out.Error)
		failSpan(span, err)
		return "", err
	}
	return out.Message.Content, nil
}

// ChatStream streams the reply using DefaultStreamConfig.
func (o *OllamaClient) ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error {
	return o.ChatStreamWithConfig(ctx, messages, params, callback, DefaultStreamConfig())
}

// ChatStreamWithConfig streams the reply as NDJSON and feeds each line
// through a StreamProcessor. Blank lines are skipped, as are malformed lines
// until cfg's consecutive malformed line budget runs out.
func (o *OllamaClient) ChatStreamWithConfig(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback, cfg StreamConfig) error {
	ctx, span := tracer.Start(ctx, "OllamaClient.ChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	req, err := o.newChatRequest(ctx, messages, params, true)
	if err != nil {
		failSpan(span, err)
		return err
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		failSpan(span, err)
		if ctx.Err() != nil {
			return fmt.Errorf("ollama stream cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("ollama stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("ollama stream failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		failSpan(span, err)
		return err
	}

	processor := NewStreamProcessor(cfg, o.logger)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxNDJSONLine)

	malformed := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		chunk, err := o.parseStreamChunk(line)
		if err != nil {
			malformed++
			if malformed >= cfg.malformedLimit() {
				err = fmt.Errorf("%w: %d consecutive bad lines, last: %w", ErrMalformedStream, malformed, err)
				failSpan(span, err)
				return err
			}
			o.logger.Warn("skipping malformed Ollama stream line", "error", err)
			continue
		}
		malformed = 0
		done, err := processor.process(ctx, streamChunk{
			Content:  chunk.Message.Content,
			Thinking: chunk.Thinking,
			Error:    chunk.Error,
			Done:     chunk.Done,
		}, callback)
		if err != nil {
			failSpan(span, err)
			return err
		}
		if done {
			span.SetAttributes(attribute.Int("llm.tokens", processor.TokenCount()))
			return nil
		}
	}

	if ctx.Err() != nil {
		failSpan(span, ctx.Err())
		return fmt.Errorf("ollama stream cancelled: %w", ctx.Err())
	}
	if err := scanner.Err(); err != nil {
		failSpan(span, err)
		return fmt.Errorf("read ollama stream: %w", err)
	}
	err = fmt.Errorf("ollama stream ended without done marker")
	failSpan(span, err)
	return err
}

func (o *OllamaClient) parseStreamChunk(line []byte) (*ollamaStreamChunk, error) {
	var chunk ollamaStreamChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		return nil, fmt.Errorf("parse stream chunk: %w", err)
	}
	return &chunk, nil
}
