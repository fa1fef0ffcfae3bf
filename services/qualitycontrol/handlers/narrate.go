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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/DylanSoren/QualityControl/services/qualitycontrol/datatypes"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/narrator"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/observability"
)

// DefaultHeartbeat is the keepalive interval of streaming endpoints.
const DefaultHeartbeat = 15 * time.Second

// Client-facing messages. Backend details are only logged.
const (
	statusAnalysing  = "Analysing causal paths..."
	msgBackendFailed = "narration backend unavailable"
	msgTimedOut      = "narration timed out"
	msgInternal      = "narration failed"
)

// Narrator is the narration surface the handlers use.
type Narrator interface {
	Narrate(ctx context.Context, defect string) (narrator.Outcome, error)
	NarrateStream(ctx context.Context, defect string) (<-chan narrator.Event, error)
}

var _ Narrator = (*narrator.Narrator)(nil)

// NarrateHandler serves the narration endpoints.
type NarrateHandler struct {
	narrator  Narrator
	metrics   *observability.Metrics
	logger    *slog.Logger
	heartbeat time.Duration
	upgrader  websocket.Upgrader
}

// NewNarrateHandler creates a NarrateHandler. A non-positive heartbeat
// keeps DefaultHeartbeat.
func NewNarrateHandler(n Narrator, metrics *observability.Metrics, logger *slog.Logger, heartbeat time.Duration) *NarrateHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &NarrateHandler{
		narrator:  n,
		metrics:   metrics,
		logger:    orDefault(logger),
		heartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// sanitize turns a terminal stream error into a client message.
func sanitize(err error) string {
	switch {
	case errors.Is(err, narrator.ErrStreamTimeout):
		return msgTimedOut
	case errors.Is(err, narrator.ErrBackend):
		return msgBackendFailed
	default:
		return msgInternal
	}
}

// =============================================================================
// Synchronous
// =============================================================================

// Narrate handles GET /api/graph/narrate?defectType=. Informational
// outcomes are 200 like generated ones. The body is plain text unless the
// client prefers JSON.
func (h *NarrateHandler) Narrate(c *gin.Context) {
	defect, ok := requireQuery(c, "defectType")
	if !ok {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "NarrateHandler.Narrate")
	defer span.End()

	out, err := h.narrator.Narrate(ctx, defect)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "narration failed")
		h.logger.Error("Narration failed", "defect", defect, "error", err)
		switch {
		case errors.Is(err, narrator.ErrBackend):
			c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{Error: msgBackendFailed})
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{Error: msgInternal})
		default:
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: msgInternal})
		}
		return
	}
	span.SetAttributes(attribute.String("outcome", out.Kind.String()))

	if c.NegotiateFormat(gin.MIMEPlain, gin.MIMEJSON) == gin.MIMEJSON {
		c.JSON(http.StatusOK, datatypes.NarrationResponse{
			Defect:  out.Defect,
			Outcome: out.Kind.String(),
			Text:    out.Text,
			Paths:   out.Paths,
		})
		return
	}
	c.String(http.StatusOK, out.Text)
}

// =============================================================================
// Streaming
// =============================================================================

// NarrateSSE handles GET /api/graph/narrate/stream?defectType=. It emits a
// status event, then token events or one info event, then exactly one done
// or error event. A ": ping" comment is sent every heartbeat interval.
func (h *NarrateHandler) NarrateSSE(c *gin.Context) {
	defect, ok := requireQuery(c, "defectType")
	if !ok {
		return
	}
	const endpoint = observability.EndpointNarrateSSE

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		h.logger.Error("Failed to create SSE writer", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "streaming not supported"})
		return
	}

	h.stream(c.Request.Context(), writer, endpoint, defect, nil)
}

// NarrateWS handles GET /api/graph/narrate/ws?defectType=. Each event is
// one JSON text message; the server closes the socket after the terminal
// event. Any client frame other than control frames is ignored.
func (h *NarrateHandler) NarrateWS(c *gin.Context) {
	defect, ok := requireQuery(c, "defectType")
	if !ok {
		return
	}
	const endpoint = observability.EndpointNarrateWS

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The read loop notices the peer closing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	writer := newWSWriter(conn)
	h.stream(ctx, writer, endpoint, defect, cancel)
	writer.close()
}

// stream relays one narration to writer. Write failures cancel the
// narration; the event channel is drained so the producer can exit.
func (h *NarrateHandler) stream(
	parent context.Context,
	writer StreamWriter,
	endpoint observability.Endpoint,
	defect string,
	onDisconnect context.CancelFunc,
) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	ctx, span := tracer.Start(ctx, "NarrateHandler.stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("defect", defect),
		attribute.String("transport", string(endpoint)),
	)

	h.metrics.StreamStarted(endpoint)
	defer h.metrics.StreamEnded(endpoint)

	disconnected := func(err error) {
		h.logger.Info("Stream client went away", "defect", defect, "error", err)
		h.metrics.RecordClientDisconnect(endpoint)
		cancel()
		if onDisconnect != nil {
			onDisconnect()
		}
	}

	if err := writer.WriteStatus(statusAnalysing); err != nil {
		disconnected(err)
		return
	}

	events, err := h.narrator.NarrateStream(ctx, defect)
	if err != nil {
		h.logger.Info("Narration stream not started", "defect", defect, "error", err)
		return
	}

	heartbeatDone := make(chan struct{})
	var heartbeat sync.WaitGroup
	heartbeat.Add(1)
	go func() {
		defer heartbeat.Done()
		h.runHeartbeat(ctx, writer, endpoint, heartbeatDone)
	}()
	defer func() {
		close(heartbeatDone)
		heartbeat.Wait()
	}()

	tokens := 0
	for ev := range events {
		var werr error
		switch ev.Type {
		case narrator.EventToken:
			tokens++
			werr = writer.WriteToken(ev.Content)
		case narrator.EventInfo:
			werr = writer.WriteInfo(ev.Content)
		case narrator.EventDone:
			werr = writer.WriteDone(defect)
		case narrator.EventError:
			if ctx.Err() != nil {
				continue
			}
			span.RecordError(ev.Err)
			span.SetStatus(codes.Error, "narration stream failed")
			werr = writer.WriteError(sanitize(ev.Err))
		}
		if werr != nil {
			disconnected(werr)
			for range events {
			}
			break
		}
	}
	span.SetAttributes(attribute.Int("tokens", tokens))
}

// runHeartbeat sends keepalives until done is closed or ctx ends.
func (h *NarrateHandler) runHeartbeat(
	ctx context.Context,
	writer StreamWriter,
	endpoint observability.Endpoint,
	done <-chan struct{},
) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				h.logger.Debug("Failed to write keepalive", "error", err)
				return
			}
			h.metrics.RecordKeepAlive(endpoint)
		}
	}
}
