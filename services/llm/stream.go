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
	"log/slog"
	"unicode/utf8"
)

// =============================================================================
// Stream Events
// =============================================================================

// StreamEventType identifies what a StreamEvent carries.
type StreamEventType string

const (
	// StreamEventToken is a fragment of the visible answer.
	StreamEventToken StreamEventType = "token"

	// StreamEventThinking is reasoning output from thinking models.
	StreamEventThinking StreamEventType = "thinking"

	// StreamEventError reports a failure reported inside the stream.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one item delivered to a StreamCallback.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback receives stream events. Returning an error aborts the
// stream.
type StreamCallback func(event StreamEvent) error

// StreamConfig controls how raw backend chunks become events.
type StreamConfig struct {
	// RedactThinking drops thinking output instead of emitting it.
	RedactThinking bool

	// MaxThinkingLength caps emitted thinking bytes. Zero means no cap.
	MaxThinkingLength int

	// MaxResponseLength caps emitted answer bytes. Zero means no cap.
	MaxResponseLength int

	// MaxMalformedLines is the run of consecutive unparseable stream lines
	// that fails the stream with ErrMalformedStream. Shorter runs are
	// skipped. Zero means DefaultMaxMalformedLines.
	MaxMalformedLines int
}

// DefaultMaxMalformedLines is the malformed line budget used when
// StreamConfig.MaxMalformedLines is zero.
const DefaultMaxMalformedLines = 3

// ErrMalformedStream is returned when a backend keeps sending lines that
// cannot be parsed.
var ErrMalformedStream = errors.New("malformed backend stream")

// DefaultStreamConfig returns the config used by ChatStream.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{MaxMalformedLines: DefaultMaxMalformedLines}
}

func (c StreamConfig) malformedLimit() int {
	if c.MaxMalformedLines <= 0 {
		return DefaultMaxMalformedLines
	}
	return c.MaxMalformedLines
}

// =============================================================================
// Stream Processor
// =============================================================================

// streamChunk is the backend-neutral shape the processor works on.
type streamChunk struct {
	Content  string
	Thinking string
	Error    string
	Done     bool
}

// StreamProcessor turns backend chunks into callback events while applying
// StreamConfig limits. It is not safe for concurrent use; each stream owns
// one.
type StreamProcessor struct {
	cfg    StreamConfig
	logger *slog.Logger

	tokenCount     int
	responseLength int
	thinkingLength int
}

// NewStreamProcessor creates a processor. A nil logger uses slog.Default().
func NewStreamProcessor(cfg StreamConfig, logger *slog.Logger) *StreamProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamProcessor{cfg: cfg, logger: logger}
}

// TokenCount returns the number of answer events emitted.
func (p *StreamProcessor) TokenCount() int {
	return p.tokenCount
}

// ResponseLength returns the emitted answer length in bytes.
func (p *StreamProcessor) ResponseLength() int {
	return p.responseLength
}

// process emits the events for one chunk and reports whether the stream is
// finished. An error chunk emits StreamEventError and returns an error.
func (p *StreamProcessor) process(_ context.Context, c streamChunk, callback StreamCallback) (bool, error) {
	if c.Error != "" {
		if err := callback(StreamEvent{Type: StreamEventError, Error: c.Error}); err != nil {
			p.logger.Debug("callback failed on error event", "error", err)
		}
		return true, fmt.Errorf("stream error: %s", c.Error)
	}

	if c.Thinking != "" && !p.cfg.RedactThinking {
		text := truncate(c.Thinking, p.cfg.MaxThinkingLength, p.thinkingLength)
		if text != "" {
			p.thinkingLength += len(text)
			if err := callback(StreamEvent{Type: StreamEventThinking, Content: text}); err != nil {
				return true, fmt.Errorf("callback: %w", err)
			}
		}
	}

	if c.Content != "" {
		text := truncate(c.Content, p.cfg.MaxResponseLength, p.responseLength)
		if text != "" {
			p.responseLength += len(text)
			p.tokenCount++
			if err := callback(StreamEvent{Type: StreamEventToken, Content: text}); err != nil {
				return true, fmt.Errorf("callback: %w", err)
			}
		}
	}

	return c.Done, nil
}

// truncate returns the part of s that fits under limit given used bytes
// already emitted. It never splits a UTF-8 sequence.
func truncate(s string, limit, used int) string {
	if limit <= 0 {
		return s
	}
	room := limit - used
	if room <= 0 {
		return ""
	}
	if len(s) <= room {
		return s
	}
	cut := room
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
