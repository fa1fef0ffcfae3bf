// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gin handlers of the QualityControl HTTP
// API: graph maintenance and queries, narration (sync, SSE and WebSocket)
// and administration.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/DylanSoren/QualityControl/services/qualitycontrol/datatypes"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/graph"
)

var tracer = otel.Tracer("qualitycontrol.handlers")

// GraphStore is the store surface the handlers use. *graph.Store
// satisfies it.
type GraphStore interface {
	FindByName(ctx context.Context, name string) (graph.Node, bool)
	FindFuzzy(ctx context.Context, fragment string) []graph.Node
	Snapshot(ctx context.Context) graph.Snapshot
	ListFactors(ctx context.Context) []graph.Factor
	ListDefects(ctx context.Context) []graph.Defect
	CausesOf(ctx context.Context, defectName string) []graph.Factor
	DefectsCausedBy(ctx context.Context, factorName string) []graph.Defect
	CausalPaths(ctx context.Context, defectName string) (graph.PathResult, error)
	UpsertFactor(ctx context.Context, in graph.FactorInput) (graph.Factor, error)
	UpsertDefect(ctx context.Context, in graph.DefectInput) (graph.Defect, error)
	Relate(ctx context.Context, source, target string) error
	Unrelate(ctx context.Context, source, target string) error
	DeleteByName(ctx context.Context, name string) error
	Stats(ctx context.Context) graph.Stats
}

var _ GraphStore = (*graph.Store)(nil)

// graphStatus maps store errors to HTTP status codes.
func graphStatus(err error) int {
	switch {
	case errors.Is(err, graph.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrSourceNotFactor),
		errors.Is(err, graph.ErrTargetNotFound),
		errors.Is(err, graph.ErrEdgeNotFound),
		errors.Is(err, graph.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// abortGraphError writes the mapped status. 4xx responses carry the store's
// message, which only names the nodes involved; 5xx details stay in the log.
func abortGraphError(c *gin.Context, span trace.Span, logger *slog.Logger, msg string, err error) {
	status := graphStatus(err)
	if status >= http.StatusInternalServerError {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		logger.Error(msg, "error", err)
		c.JSON(status, datatypes.ErrorResponse{Error: msg})
		return
	}
	c.JSON(status, datatypes.ErrorResponse{Error: err.Error()})
}

// requireQuery returns the named query parameter, or writes 400 and false.
func requireQuery(c *gin.Context, key string) (string, bool) {
	v := c.Query(key)
	if v == "" {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "query parameter " + key + " is required"})
		return "", false
	}
	return v, true
}

// bindValidated decodes the JSON body into req and runs its validator.
func bindValidated(c *gin.Context, req interface{ Validate() error }) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "validation failed: " + err.Error()})
		return false
	}
	return true
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
