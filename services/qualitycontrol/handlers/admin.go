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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/DylanSoren/QualityControl/services/qualitycontrol/datatypes"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/seed"
)

// Seeder reloads the graph from the configured seed document.
type Seeder interface {
	Load(ctx context.Context, clearFirst bool) (seed.Result, error)
	Source() seed.Source
}

var _ Seeder = (*seed.Loader)(nil)

// AdminHandler serves /api/admin.
type AdminHandler struct {
	seeder Seeder
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler. A nil seeder makes
// init-database answer 503.
func NewAdminHandler(seeder Seeder, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{seeder: seeder, logger: orDefault(logger)}
}

// InitDatabase handles POST /api/admin/init-database: it clears the graph
// and loads the seed document. A document that fails to parse leaves the
// graph untouched.
func (h *AdminHandler) InitDatabase(c *gin.Context) {
	if h.seeder == nil {
		c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{Error: "no seed source configured"})
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "AdminHandler.InitDatabase")
	defer span.End()
	source := h.seeder.Source().Name()
	span.SetAttributes(attribute.String("seed.source", source))

	res, err := h.seeder.Load(ctx, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "seed failed")
		h.logger.Error("Database initialisation failed", "source", source, "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "database initialisation failed"})
		return
	}
	c.JSON(http.StatusOK, datatypes.InitDatabaseResponse{
		Message: "database initialised",
		Source:  source,
		Records: res.Records,
		Factors: res.Factors,
		Defects: res.Defects,
		Edges:   res.Edges,
	})
}

// Health handles GET /health.
func Health(store GraphStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := store.Stats(c.Request.Context())
		c.JSON(http.StatusOK, datatypes.HealthResponse{
			Status: "ok",
			Nodes:  st.Factors + st.Defects,
			Edges:  st.Edges,
		})
	}
}
