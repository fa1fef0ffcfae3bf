// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DylanSoren/QualityControl/services/qualitycontrol/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// StreamWriter writes narration events to one client. Implementations are
// safe for concurrent use so a heartbeat can share the writer with the
// event loop.
type StreamWriter interface {
	// WriteEvent stamps event with id, time and hash chain, then sends it.
	WriteEvent(event datatypes.StreamEvent) error

	WriteStatus(message string) error

	WriteToken(content string) error

	WriteInfo(message string) error

	// WriteError sends a terminal error. The message must already be
	// sanitized.
	WriteError(errMsg string) error

	WriteDone(defect string) error

	// WriteKeepAlive sends a transport-level ping. It does not advance the
	// hash chain.
	WriteKeepAlive() error
}

// eventChain assigns ids and links events into a SHA-256 chain.
type eventChain struct {
	prevHash string
}

func (c *eventChain) stamp(event *datatypes.StreamEvent) {
	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = c.prevHash
	event.Hash = eventHash(*event)
	c.prevHash = event.Hash
}

// eventHash hashes every field except Hash.
func eventHash(event datatypes.StreamEvent) string {
	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Message,
		event.Error,
		event.Defect,
	)
	sum := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(sum[:])
}

// VerifyChain reports whether events form an unbroken hash chain starting
// from an empty PrevHash.
func VerifyChain(events []datatypes.StreamEvent) bool {
	prev := ""
	for _, e := range events {
		if e.PrevHash != prev || eventHash(e) != e.Hash {
			return false
		}
		prev = e.Hash
	}
	return true
}

// =============================================================================
// SSE Implementation
// =============================================================================

type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	chain   eventChain
	mu      sync.Mutex
}

// NewSSEWriter wraps w, which must support http.Flusher.
func NewSSEWriter(w http.ResponseWriter) (StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.chain.stamp(&event)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// event: type\ndata: json\n\n
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteStatus(message string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.StreamEventStatus, Message: message})
}

func (w *sseWriter) WriteToken(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.StreamEventToken, Content: content})
}

func (w *sseWriter) WriteInfo(message string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.StreamEventInfo, Message: message})
}

func (w *sseWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.StreamEventError, Error: errMsg})
}

func (w *sseWriter) WriteDone(defect string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.StreamEventDone, Defect: defect})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// SSE comment, ignored by EventSource clients.
	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders configures response headers for Server-Sent Events. It must
// be called before anything is written.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ StreamWriter = (*sseWriter)(nil)
