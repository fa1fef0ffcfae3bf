// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and tracing setup for the
// quality-control service.
//
// # Description
//
// Prometheus metrics cover narration (requests, tokens, time to first
// token, stream duration, active streams, keepalives, disconnects) and the
// graph (mutations, path enumeration latency, cycles seen, node and edge
// counts). Telemetry wires OpenTelemetry trace and meter providers.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every Metrics method is a no-op on a nil receiver, so components can be
// built without metrics in tests.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace   = "qualitycontrol"
	narrationSubsystem = "narration"
	graphSubsystem     = "graph"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	// RequestsTotal counts narration requests.
	// Labels: endpoint, status (success, info, error)
	RequestsTotal *prometheus.CounterVec

	// TokensTotal counts streamed answer fragments.
	// Labels: endpoint
	TokensTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures latency to the first fragment.
	// Labels: endpoint
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// DurationSeconds measures whole narration duration.
	// Labels: endpoint, status
	DurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks open narration streams.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts narration errors.
	// Labels: endpoint, error_code
	ErrorsTotal *prometheus.CounterVec

	// KeepAlivesTotal counts SSE keepalive comments sent.
	// Labels: endpoint
	KeepAlivesTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts consumers that went away mid-stream.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec

	// MutationsTotal counts graph mutations.
	// Labels: op (upsert_factor, upsert_defect, relate, unrelate, delete, clear, seed), status
	MutationsTotal *prometheus.CounterVec

	// PathEnumerationSeconds measures CausalPaths latency.
	PathEnumerationSeconds prometheus.Histogram

	// PathCyclesTotal counts cycles met during path enumeration.
	PathCyclesTotal prometheus.Counter

	registerer prometheus.Registerer
}

// DefaultMetrics is the process-wide instance registered by InitMetrics.
var DefaultMetrics *Metrics

// InitMetrics registers the metrics on the default Prometheus registry and
// stores them in DefaultMetrics. Panics if called twice.
func InitMetrics() *Metrics {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registerer: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: narrationSubsystem,
				Name:      "requests_total",
				Help:      "Total narration requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: narrationSubsystem,
				Name:      "tokens_total",
				Help:      "Total streamed answer fragments by endpoint",
			},
			[]string{"endpoint"},
		),

		TimeToFirstTokenSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: narrationSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first fragment in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		DurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: narrationSubsystem,
				Name:      "duration_seconds",
				Help:      "Total narration duration in seconds",
				Buckets:   []float64{0.01, 0.1, 1, 5, 10, 30, 60, 120},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: narrationSubsystem,
				Name:      "active_streams",
				Help:      "Number of open narration streams",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: narrationSubsystem,
				Name:      "errors_total",
				Help:      "Total narration errors by endpoint and code",
			},
			[]string{"endpoint", "error_code"},
		),

		KeepAlivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: narrationSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive pings sent",
			},
			[]string{"endpoint"},
		),

		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: narrationSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),

		MutationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: graphSubsystem,
				Name:      "mutations_total",
				Help:      "Total graph mutations by operation and status",
			},
			[]string{"op", "status"},
		),

		PathEnumerationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: graphSubsystem,
				Name:      "path_enumeration_seconds",
				Help:      "Causal path enumeration latency in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),

		PathCyclesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: graphSubsystem,
				Name:      "path_cycles_total",
				Help:      "Total cycles met during causal path enumeration",
			},
		),
	}
}

// GraphCounts reports current node and edge counts.
type GraphCounts func() (factors, defects, edges int)

// WatchGraph registers gauges that read counts on every scrape.
func (m *Metrics) WatchGraph(counts GraphCounts) {
	if m == nil {
		return
	}
	factory := promauto.With(m.registerer)
	gauge := func(name, help string, pick func(f, d, e int) int) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: graphSubsystem,
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(pick(counts()))
		})
	}
	gauge("factors", "Number of influencing factors", func(f, _, _ int) int { return f })
	gauge("defects", "Number of defect types", func(_, d, _ int) int { return d })
	gauge("edges", "Number of causal edges", func(_, _, e int) int { return e })
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeLLMError indicates a generation backend failure.
	ErrorCodeLLMError ErrorCode = "llm_error"

	// ErrorCodeTimeout indicates the stream lifetime expired.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodeGraph indicates the path lookup failed.
	ErrorCodeGraph ErrorCode = "graph_error"

	// ErrorCodeClientDisconnect indicates the consumer went away.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"

	// ErrorCodeRateLimited indicates the request was refused by the limiter.
	ErrorCodeRateLimited ErrorCode = "rate_limited"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint labels a narration entry point.
type Endpoint string

const (
	// EndpointNarrate is synchronous narration.
	EndpointNarrate Endpoint = "narrate"

	// EndpointNarrateStream is streamed narration (SSE, WebSocket, CLI).
	EndpointNarrateStream Endpoint = "narrate_stream"

	// EndpointNarrateSSE is the SSE transport.
	EndpointNarrateSSE Endpoint = "narrate_sse"

	// EndpointNarrateWS is the WebSocket transport.
	EndpointNarrateWS Endpoint = "narrate_ws"
)

// Request statuses.
const (
	StatusSuccess = "success"
	StatusInfo    = "info"
	StatusError   = "error"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a finished narration with status StatusSuccess,
// StatusInfo or StatusError, and its duration.
func (m *Metrics) RecordRequest(endpoint Endpoint, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
	m.DurationSeconds.WithLabelValues(string(endpoint), status).Observe(d.Seconds())
}

// RecordError records a narration error.
func (m *Metrics) RecordError(endpoint Endpoint, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordTokens adds n streamed fragments.
func (m *Metrics) RecordTokens(endpoint Endpoint, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensTotal.WithLabelValues(string(endpoint)).Add(float64(n))
}

// RecordTimeToFirstToken records time to first fragment.
func (m *Metrics) RecordTimeToFirstToken(endpoint Endpoint, d time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstTokenSeconds.WithLabelValues(string(endpoint)).Observe(d.Seconds())
}

// StreamStarted increments the active streams gauge.
func (m *Metrics) StreamStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *Metrics) StreamEnded(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordKeepAlive increments the keepalive counter.
func (m *Metrics) RecordKeepAlive(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *Metrics) RecordClientDisconnect(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordMutation counts one graph mutation.
func (m *Metrics) RecordMutation(op string, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.MutationsTotal.WithLabelValues(op, status).Inc()
}

// RecordPathEnumeration records one CausalPaths call.
func (m *Metrics) RecordPathEnumeration(d time.Duration, cycles int) {
	if m == nil {
		return
	}
	m.PathEnumerationSeconds.Observe(d.Seconds())
	if cycles > 0 {
		m.PathCyclesTotal.Add(float64(cycles))
	}
}
