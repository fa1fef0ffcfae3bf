// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes binds the QualityControl handlers to a gin engine.
package routes

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/graphql-go/graphql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DylanSoren/QualityControl/services/qualitycontrol/graphqlapi"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/handlers"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/observability"
)

// Deps carries everything the routes need.
type Deps struct {
	Store    handlers.GraphStore
	Narrator handlers.Narrator
	// Seeder may be nil when no seed source is configured.
	Seeder  handlers.Seeder
	Schema  graphql.Schema
	Metrics *observability.Metrics
	// Gatherer backs /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger

	Heartbeat time.Duration
	// RateLimit is narration requests per second per client; 0 disables.
	RateLimit float64
	Burst     int
}

// SetupRoutes registers every endpoint on router.
func SetupRoutes(router *gin.Engine, d Deps) {
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.GET("/health", handlers.Health(d.Store))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	gh := handlers.NewGraphHandler(d.Store, d.Metrics, d.Logger)
	nh := handlers.NewNarrateHandler(d.Narrator, d.Metrics, d.Logger, d.Heartbeat)
	limiter := handlers.NewRateLimiter(d.RateLimit, d.Burst, d.Metrics)

	api := router.Group("/api/graph")
	{
		api.GET("/narrate", limiter.Middleware(observability.EndpointNarrate), nh.Narrate)
		api.GET("/narrate/stream", limiter.Middleware(observability.EndpointNarrateSSE), nh.NarrateSSE)
		api.GET("/narrate/ws", limiter.Middleware(observability.EndpointNarrateWS), nh.NarrateWS)

		api.GET("/node", gh.GetNode)
		api.DELETE("/node", gh.DeleteNode)
		api.GET("/nodes", gh.Snapshot)
		api.GET("/nodes/search", gh.SearchNodes)
		api.GET("/nodes/:label", gh.ListByLabel)
		api.GET("/causes", gh.Causes)
		api.GET("/causal-paths", gh.CausalPaths)
		api.GET("/defects", gh.DefectsCausedBy)

		api.POST("/factor", gh.UpsertFactor)
		api.POST("/defect", gh.UpsertDefect)
		api.POST("/relationship", gh.CreateRelationship)
		api.DELETE("/relationship", gh.DeleteRelationship)

		api.POST("/graphql", graphqlapi.Handler(d.Schema))
	}

	admin := router.Group("/api/admin")
	{
		admin.POST("/init-database", handlers.NewAdminHandler(d.Seeder, d.Logger).InitDatabase)
	}
}
