// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package narrator turns the causal paths of a defect into a plain-language
// report produced by a generation backend.
//
// # Description
//
// Both entry points share the same preconditions. A name that is not a
// known defect, or a defect without any root-cause chain, is answered with
// a system notice and never reaches the backend. Otherwise the chains are
// formatted into a prompt and handed to the backend once. Nothing is
// retried.
//
// # Thread Safety
//
// A Narrator is safe for concurrent use.
package narrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/DylanSoren/QualityControl/services/llm"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/graph"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/observability"
)

var tracer = otel.Tracer("qualitycontrol.narrator")

const (
	// DefaultStreamTimeout bounds the lifetime of one stream.
	DefaultStreamTimeout = 120 * time.Second

	defaultBufferSize = 64
)

// PathSource is the part of the graph store the narrator reads.
type PathSource interface {
	FindByName(ctx context.Context, name string) (graph.Node, bool)
	CausalPaths(ctx context.Context, defectName string) (graph.PathResult, error)
}

// Narrator produces defect narratives.
type Narrator struct {
	store         PathSource
	client        llm.LLMClient
	params        llm.GenerationParams
	streamTimeout time.Duration
	bufferSize    int
	logger        *slog.Logger
	metrics       *observability.Metrics
}

// Option configures a Narrator.
type Option func(*Narrator)

// WithStreamTimeout bounds each stream's lifetime. Non-positive values keep
// DefaultStreamTimeout.
func WithStreamTimeout(d time.Duration) Option {
	return func(n *Narrator) {
		if d > 0 {
			n.streamTimeout = d
		}
	}
}

// WithGenerationParams sets the sampling parameters sent to the backend.
func WithGenerationParams(p llm.GenerationParams) Option {
	return func(n *Narrator) { n.params = p }
}

// WithBufferSize sets the capacity of the stream channel.
func WithBufferSize(size int) Option {
	return func(n *Narrator) {
		if size > 0 {
			n.bufferSize = size
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(n *Narrator) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithMetrics records narration metrics into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(n *Narrator) { n.metrics = m }
}

// New creates a Narrator reading paths from store and generating with
// client.
func New(store PathSource, client llm.LLMClient, opts ...Option) *Narrator {
	n := &Narrator{
		store:         store,
		client:        client,
		streamTimeout: DefaultStreamTimeout,
		bufferSize:    defaultBufferSize,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// StreamTimeout returns the configured stream lifetime.
func (n *Narrator) StreamTimeout() time.Duration {
	return n.streamTimeout
}

// prepared is the result of the shared preconditions. When kind is not
// OutcomeGenerated, messages is nil.
type prepared struct {
	kind     OutcomeKind
	paths    int
	messages []llm.Message
}

func (n *Narrator) prepare(ctx context.Context, defect string) (prepared, error) {
	node, ok := n.store.FindByName(ctx, defect)
	if !ok || node.Kind != graph.KindDefect {
		return prepared{kind: OutcomeUnknownDefect}, nil
	}

	start := time.Now()
	res, err := n.store.CausalPaths(ctx, defect)
	if err != nil {
		return prepared{}, fmt.Errorf("causal paths for %q: %w", defect, err)
	}
	n.metrics.RecordPathEnumeration(time.Since(start), res.Cycles)
	if res.Cycles > 0 {
		n.logger.Debug("Cycles met while enumerating causal paths", "defect", defect, "cycles", res.Cycles)
	}
	if len(res.Paths) == 0 {
		return prepared{kind: OutcomeNoPaths}, nil
	}
	return prepared{
		kind:     OutcomeGenerated,
		paths:    len(res.Paths),
		messages: BuildMessages(defect, res.Paths),
	}, nil
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Narrate returns the narrative for defect, or a system notice when the
// defect is unknown or has no recorded causes. Backend failures are
// returned wrapped in ErrBackend.
func (n *Narrator) Narrate(ctx context.Context, defect string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "Narrator.Narrate")
	defer span.End()
	span.SetAttributes(attribute.String("defect", defect))
	start := time.Now()

	p, err := n.prepare(ctx, defect)
	if err != nil {
		failSpan(span, err)
		n.metrics.RecordError(observability.EndpointNarrate, observability.ErrorCodeGraph)
		n.metrics.RecordRequest(observability.EndpointNarrate, observability.StatusError, time.Since(start))
		return Outcome{}, err
	}
	span.SetAttributes(attribute.String("outcome", p.kind.String()))

	switch p.kind {
	case OutcomeUnknownDefect:
		n.metrics.RecordRequest(observability.EndpointNarrate, observability.StatusInfo, time.Since(start))
		return Outcome{Kind: p.kind, Defect: defect, Text: fmt.Sprintf(unknownDefectFormat, defect)}, nil
	case OutcomeNoPaths:
		n.metrics.RecordRequest(observability.EndpointNarrate, observability.StatusInfo, time.Since(start))
		return Outcome{Kind: p.kind, Defect: defect, Text: fmt.Sprintf(noPathsFormat, defect)}, nil
	}

	span.SetAttributes(attribute.Int("paths", p.paths))
	text, err := n.client.Chat(ctx, p.messages, n.params)
	if err != nil {
		failSpan(span, err)
		n.logger.Error("Narration backend call failed", "defect", defect, "error", err)
		n.metrics.RecordError(observability.EndpointNarrate, observability.ErrorCodeLLMError)
		n.metrics.RecordRequest(observability.EndpointNarrate, observability.StatusError, time.Since(start))
		return Outcome{}, fmt.Errorf("%w: %w", ErrBackend, err)
	}

	n.metrics.RecordRequest(observability.EndpointNarrate, observability.StatusSuccess, time.Since(start))
	return Outcome{Kind: OutcomeGenerated, Defect: defect, Text: text, Paths: p.paths}, nil
}

// NarrateStream starts a streaming narration and returns at once. The
// returned channel yields EventToken fragments in backend order, or one
// EventInfo notice, followed by exactly one EventDone or EventError, and is
// then closed.
//
// Cancelling ctx stops the producer and abandons the backend call. The
// stream's lifetime is bounded by the stream timeout; expiry ends it with an
// EventError wrapping ErrStreamTimeout. The consumer must either drain the
// channel or cancel ctx.
func (n *Narrator) NarrateStream(ctx context.Context, defect string) (<-chan Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(chan Event, n.bufferSize)
	go n.produce(ctx, defect, out)
	return out, nil
}

func (n *Narrator) produce(parent context.Context, defect string, out chan<- Event) {
	defer close(out)

	ctx, cancel := context.WithTimeoutCause(parent, n.streamTimeout, ErrStreamTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "Narrator.NarrateStream")
	defer span.End()
	span.SetAttributes(attribute.String("defect", defect))

	const endpoint = observability.EndpointNarrateStream
	start := time.Now()

	// Once ctx is done no further event is sent, even when the buffer has
	// room and select would pick the send.
	emit := func(e Event) bool {
		if ctx.Err() != nil {
			return false
		}
		select {
		case out <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}
	// Terminal events ignore the stream timeout; only consumer
	// cancellation drops them.
	terminal := func(e Event) {
		select {
		case out <- e:
		case <-parent.Done():
		}
	}
	fail := func(code observability.ErrorCode, err error) {
		failSpan(span, err)
		n.metrics.RecordError(endpoint, code)
		n.metrics.RecordRequest(endpoint, observability.StatusError, time.Since(start))
		terminal(Event{Type: EventError, Err: err})
	}
	// streamErr classifies a failure by what ended the context, if
	// anything did.
	streamErr := func(err error) {
		switch {
		case parent.Err() != nil:
			n.logger.Info("Narration stream cancelled by consumer", "defect", defect)
			fail(observability.ErrorCodeClientDisconnect, parent.Err())
		case errors.Is(context.Cause(ctx), ErrStreamTimeout):
			n.logger.Warn("Narration stream timed out", "defect", defect, "timeout", n.streamTimeout)
			fail(observability.ErrorCodeTimeout, fmt.Errorf("%w after %s", ErrStreamTimeout, n.streamTimeout))
		default:
			n.logger.Error("Narration stream failed", "defect", defect, "error", err)
			fail(observability.ErrorCodeLLMError, fmt.Errorf("%w: %w", ErrBackend, err))
		}
	}

	p, err := n.prepare(ctx, defect)
	if err != nil {
		if ctx.Err() != nil {
			streamErr(err)
			return
		}
		fail(observability.ErrorCodeGraph, err)
		return
	}
	span.SetAttributes(attribute.String("outcome", p.kind.String()))

	var notice string
	switch p.kind {
	case OutcomeUnknownDefect:
		notice = fmt.Sprintf(unknownDefectStreamFormat, defect)
	case OutcomeNoPaths:
		notice = noPathsStream
	}
	if notice != "" {
		if !emit(Event{Type: EventInfo, Content: notice}) {
			streamErr(ctx.Err())
			return
		}
		n.metrics.RecordRequest(endpoint, observability.StatusInfo, time.Since(start))
		terminal(Event{Type: EventDone})
		return
	}

	tokens := 0
	err = n.client.ChatStream(ctx, p.messages, n.params, func(ev llm.StreamEvent) error {
		if ev.Type != llm.StreamEventToken {
			return nil
		}
		if tokens == 0 {
			n.metrics.RecordTimeToFirstToken(endpoint, time.Since(start))
		}
		tokens++
		if !emit(Event{Type: EventToken, Content: ev.Content}) {
			return context.Cause(ctx)
		}
		return nil
	})
	n.metrics.RecordTokens(endpoint, tokens)
	span.SetAttributes(attribute.Int("tokens", tokens))

	if err != nil {
		streamErr(err)
		return
	}

	n.metrics.RecordRequest(endpoint, observability.StatusSuccess, time.Since(start))
	terminal(Event{Type: EventDone})
}
