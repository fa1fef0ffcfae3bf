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
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/DylanSoren/QualityControl/services/qualitycontrol/datatypes"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/graph"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/observability"
)

// Mutation operation labels.
const (
	OpUpsertFactor = "upsert_factor"
	OpUpsertDefect = "upsert_defect"
	OpRelate       = "relate"
	OpUnrelate     = "unrelate"
	OpDelete       = "delete"
)

// CycleCountHeader reports how many back edges the path enumeration met.
const CycleCountHeader = "X-Cycle-Count"

// GraphHandler serves /api/graph node and relationship endpoints.
type GraphHandler struct {
	store   GraphStore
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewGraphHandler creates a GraphHandler. metrics may be nil.
func NewGraphHandler(store GraphStore, metrics *observability.Metrics, logger *slog.Logger) *GraphHandler {
	return &GraphHandler{store: store, metrics: metrics, logger: orDefault(logger)}
}

// =============================================================================
// Queries
// =============================================================================

// GetNode handles GET /api/graph/node?name=.
func (h *GraphHandler) GetNode(c *gin.Context) {
	name, ok := requireQuery(c, "name")
	if !ok {
		return
	}
	node, found := h.store.FindByName(c.Request.Context(), name)
	if !found {
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "node not found: " + name})
		return
	}
	c.JSON(http.StatusOK, node)
}

// SearchNodes handles GET /api/graph/nodes/search?name=.
func (h *GraphHandler) SearchNodes(c *gin.Context) {
	name, ok := requireQuery(c, "name")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.store.FindFuzzy(c.Request.Context(), name))
}

// Snapshot handles GET /api/graph/nodes.
func (h *GraphHandler) Snapshot(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "GraphHandler.Snapshot")
	defer span.End()

	snap := h.store.Snapshot(ctx)
	span.SetAttributes(
		attribute.Int("graph.nodes", len(snap.Nodes)),
		attribute.Int("graph.links", len(snap.Links)),
	)
	c.JSON(http.StatusOK, snap)
}

// ListByLabel handles GET /api/graph/nodes/:label, where label names a node
// kind ("factor" or "defect", plural accepted).
func (h *GraphHandler) ListByLabel(c *gin.Context) {
	kind, err := graph.ParseKind(c.Param("label"))
	if err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
		return
	}
	ctx := c.Request.Context()
	if kind == graph.KindFactor {
		c.JSON(http.StatusOK, h.store.ListFactors(ctx))
		return
	}
	c.JSON(http.StatusOK, h.store.ListDefects(ctx))
}

// Causes handles GET /api/graph/causes?defectName=.
func (h *GraphHandler) Causes(c *gin.Context) {
	name, ok := requireQuery(c, "defectName")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.store.CausesOf(c.Request.Context(), name))
}

// CausalPaths handles GET /api/graph/causal-paths?defectName=. Unknown
// defects yield an empty list.
func (h *GraphHandler) CausalPaths(c *gin.Context) {
	name, ok := requireQuery(c, "defectName")
	if !ok {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "GraphHandler.CausalPaths")
	defer span.End()
	span.SetAttributes(attribute.String("defect", name))

	start := time.Now()
	res, err := h.store.CausalPaths(ctx, name)
	if err != nil {
		abortGraphError(c, span, h.logger, "path enumeration failed", err)
		return
	}
	h.metrics.RecordPathEnumeration(time.Since(start), res.Cycles)
	span.SetAttributes(
		attribute.Int("paths", len(res.Paths)),
		attribute.Int("cycles", res.Cycles),
	)

	c.Header(CycleCountHeader, strconv.Itoa(res.Cycles))
	c.JSON(http.StatusOK, datatypes.PathsResponse{
		Defect:    name,
		Paths:     res.Paths,
		Cycles:    res.Cycles,
		Truncated: res.Truncated,
	})
}

// DefectsCausedBy handles GET /api/graph/defects?factorName=.
func (h *GraphHandler) DefectsCausedBy(c *gin.Context) {
	name, ok := requireQuery(c, "factorName")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.store.DefectsCausedBy(c.Request.Context(), name))
}

// =============================================================================
// Mutations
// =============================================================================

// UpsertFactor handles POST /api/graph/factor.
func (h *GraphHandler) UpsertFactor(c *gin.Context) {
	var req datatypes.FactorRequest
	if !bindValidated(c, &req) {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "GraphHandler.UpsertFactor")
	defer span.End()

	f, err := h.store.UpsertFactor(ctx, req.Input())
	h.metrics.RecordMutation(OpUpsertFactor, err)
	if err != nil {
		abortGraphError(c, span, h.logger, "factor update failed", err)
		return
	}
	h.logger.Info("Factor upserted", "name", f.Name, "id", f.ID)
	c.JSON(http.StatusOK, f)
}

// UpsertDefect handles POST /api/graph/defect.
func (h *GraphHandler) UpsertDefect(c *gin.Context) {
	var req datatypes.DefectRequest
	if !bindValidated(c, &req) {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "GraphHandler.UpsertDefect")
	defer span.End()

	d, err := h.store.UpsertDefect(ctx, req.Input())
	h.metrics.RecordMutation(OpUpsertDefect, err)
	if err != nil {
		abortGraphError(c, span, h.logger, "defect update failed", err)
		return
	}
	h.logger.Info("Defect upserted", "name", d.Name, "id", d.ID)
	c.JSON(http.StatusOK, d)
}

// CreateRelationship handles POST /api/graph/relationship. Relating an
// existing edge again succeeds.
func (h *GraphHandler) CreateRelationship(c *gin.Context) {
	var req datatypes.RelationshipRequest
	if !bindValidated(c, &req) {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "GraphHandler.CreateRelationship")
	defer span.End()

	err := h.store.Relate(ctx, req.StartNodeName, req.EndNodeName)
	h.metrics.RecordMutation(OpRelate, err)
	if err != nil {
		abortGraphError(c, span, h.logger, "relationship update failed", err)
		return
	}
	c.JSON(http.StatusOK, datatypes.MessageResponse{Message: "relationship created"})
}

// DeleteRelationship handles DELETE /api/graph/relationship.
func (h *GraphHandler) DeleteRelationship(c *gin.Context) {
	var req datatypes.RelationshipRequest
	if !bindValidated(c, &req) {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "GraphHandler.DeleteRelationship")
	defer span.End()

	err := h.store.Unrelate(ctx, req.StartNodeName, req.EndNodeName)
	h.metrics.RecordMutation(OpUnrelate, err)
	if err != nil {
		abortGraphError(c, span, h.logger, "relationship update failed", err)
		return
	}
	c.JSON(http.StatusOK, datatypes.MessageResponse{Message: "relationship deleted"})
}

// DeleteNode handles DELETE /api/graph/node?name=. Every edge touching the
// node goes with it.
func (h *GraphHandler) DeleteNode(c *gin.Context) {
	name, ok := requireQuery(c, "name")
	if !ok {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "GraphHandler.DeleteNode")
	defer span.End()
	span.SetAttributes(attribute.String("name", name))

	err := h.store.DeleteByName(ctx, name)
	h.metrics.RecordMutation(OpDelete, err)
	if err != nil {
		abortGraphError(c, span, h.logger, "node delete failed", err)
		return
	}
	h.logger.Info("Node deleted", "name", name)
	c.JSON(http.StatusOK, datatypes.MessageResponse{Message: "node deleted: " + name})
}
