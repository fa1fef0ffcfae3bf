// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package qualitycontrol wires the causal graph service together: storage,
// generation backend, narrator, seed loading, telemetry and the HTTP
// router.
package qualitycontrol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/DylanSoren/QualityControl/services/llm"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/config"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/graph"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/graphqlapi"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/narrator"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/observability"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/routes"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/seed"
	badgerstore "github.com/DylanSoren/QualityControl/services/qualitycontrol/storage/badger"
)

// ServiceName is reported to telemetry and logs.
const ServiceName = "qualitycontrol"

// Version is overridden at build time with -ldflags.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

// Service owns every long-lived component.
type Service struct {
	cfg     config.Config
	logger  *slog.Logger
	db      *badgerstore.DB
	store   *graph.Store
	client  llm.LLMClient
	narr    *narrator.Narrator
	loader  *seed.Loader
	metrics *observability.Metrics
	reg     *prometheus.Registry
	router  *gin.Engine

	shutdownTelemetry observability.ShutdownFunc
}

// Option configures New.
type Option func(*Service)

// WithLLMClient replaces the backend built from config.
func WithLLMClient(c llm.LLMClient) Option {
	return func(s *Service) { s.client = c }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New opens storage, replays the graph, seeds it when configured and builds
// the router. Call Close when done, or Run, which closes on return.
func New(ctx context.Context, cfg config.Config, opts ...Option) (_ *Service, err error) {
	s := &Service{cfg: cfg, logger: slog.Default(), reg: prometheus.NewRegistry()}
	for _, opt := range opts {
		opt(s)
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	s.shutdownTelemetry, err = observability.InitTelemetry(ctx, observability.TelemetryConfig{
		ServiceName:    ServiceName,
		ServiceVersion: Version,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   true,
		Registerer:     s.reg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.metrics = observability.NewMetrics(s.reg)

	if err := s.initStore(ctx); err != nil {
		return nil, err
	}
	if err := s.initSeed(ctx); err != nil {
		return nil, err
	}

	if s.client == nil {
		s.client, err = llm.NewClient(llm.Config{
			Backend:    cfg.LLM.Backend,
			BaseURL:    cfg.LLM.BaseURL,
			Model:      cfg.LLM.Model,
			APIKeyFile: cfg.LLM.APIKeyFile,
			Timeout:    cfg.LLM.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
		}
	}
	s.logger.Info("Generation backend ready", "backend", cfg.LLM.Backend, "model", cfg.LLM.Model)

	s.narr = narrator.New(s.store, s.client,
		narrator.WithStreamTimeout(cfg.Server.StreamTimeout),
		narrator.WithGenerationParams(s.generationParams()),
		narrator.WithLogger(s.logger),
		narrator.WithMetrics(s.metrics),
	)

	if err := s.initRouter(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) generationParams() llm.GenerationParams {
	var p llm.GenerationParams
	temp := s.cfg.LLM.Temperature
	p.Temperature = &temp
	if s.cfg.LLM.MaxTokens > 0 {
		maxTokens := s.cfg.LLM.MaxTokens
		p.MaxTokens = &maxTokens
	}
	return p
}

func (s *Service) initStore(ctx context.Context) error {
	bcfg := badgerstore.DefaultConfig(s.cfg.Storage.Path)
	bcfg.SyncWrites = s.cfg.Storage.SyncWrites
	bcfg.GCInterval = s.cfg.Storage.GCInterval
	bcfg.Logger = s.logger
	if s.cfg.Storage.InMemory {
		bcfg = badgerstore.InMemoryConfig()
	}

	db, err := badgerstore.Open(bcfg)
	if err != nil {
		return fmt.Errorf("failed to open graph storage: %w", err)
	}
	s.db = db

	s.store = graph.New(
		graph.WithBackend(badgerstore.NewGraphBackend(db)),
		graph.WithLogger(s.logger),
		graph.WithMaxPaths(s.cfg.Server.MaxPaths),
	)
	if err := s.store.Load(ctx); err != nil {
		return fmt.Errorf("failed to load graph: %w", err)
	}

	st := s.store.Stats(ctx)
	s.logger.Info("Graph loaded",
		"factors", st.Factors,
		"defects", st.Defects,
		"edges", st.Edges,
		"in_memory", s.cfg.Storage.InMemory,
	)
	s.metrics.WatchGraph(func() (int, int, int) {
		st := s.store.Stats(context.Background())
		return st.Factors, st.Defects, st.Edges
	})
	return nil
}

// initSeed builds the loader and imports the seed document when the graph
// is empty or clear_first is set.
func (s *Service) initSeed(ctx context.Context) error {
	if s.cfg.Seed.Source == "" {
		return nil
	}
	src, err := seed.NewSource(s.cfg.Seed.Source, s.cfg.Seed.CredentialsFile)
	if err != nil {
		return fmt.Errorf("invalid seed source: %w", err)
	}
	s.loader = seed.NewLoader(s.store, src, seed.WithLogger(s.logger), seed.WithMetrics(s.metrics))

	st := s.store.Stats(ctx)
	if !s.cfg.Seed.ClearFirst && st.Factors+st.Defects > 0 {
		s.logger.Info("Graph not empty, skipping seed import", "source", src.Name())
		return nil
	}
	if _, err := s.loader.Load(ctx, s.cfg.Seed.ClearFirst); err != nil {
		return fmt.Errorf("failed to seed graph: %w", err)
	}
	return nil
}

func (s *Service) initRouter() error {
	schema, err := graphqlapi.NewSchema(s.store)
	if err != nil {
		return fmt.Errorf("failed to build GraphQL schema: %w", err)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery(), requestLogger(s.logger))
	s.router.Use(otelgin.Middleware(ServiceName))

	deps := routes.Deps{
		Store:     s.store,
		Narrator:  s.narr,
		Schema:    schema,
		Metrics:   s.metrics,
		Gatherer:  prometheus.Gatherers{s.reg, prometheus.DefaultGatherer},
		Logger:    s.logger,
		Heartbeat: s.cfg.Server.Heartbeat,
		RateLimit: s.cfg.Server.RateLimit,
		Burst:     s.cfg.Server.Burst,
	}
	if s.loader != nil {
		deps.Seeder = s.loader
	}
	routes.SetupRoutes(s.router, deps)
	return nil
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client", c.ClientIP(),
		)
	}
}

// Run serves HTTP and runs storage GC and the seed watcher until ctx is
// cancelled or one of them fails. It closes the service before returning.
func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Warn("Service close error", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting QualityControl server", "port", s.cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return s.db.RunGC(gctx)
	})
	if s.loader != nil && s.cfg.Seed.Watch {
		w, err := seed.NewWatcher(s.loader,
			seed.WithReloadHook(func(res seed.Result, err error) {
				if err != nil {
					s.logger.Warn("Seed reload failed", "error", err)
					return
				}
				s.logger.Info("Seed reloaded", "records", res.Records)
			}),
		)
		switch {
		case errors.Is(err, seed.ErrNotWatchable):
			s.logger.Warn("Seed watching disabled", "source", s.loader.Source().Name(), "reason", err)
		case err != nil:
			return fmt.Errorf("seed watcher: %w", err)
		default:
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	return g.Wait()
}

// Router returns the HTTP handler.
func (s *Service) Router() *gin.Engine { return s.router }

// Store returns the graph store.
func (s *Service) Store() *graph.Store { return s.store }

// Narrator returns the narration pipeline.
func (s *Service) Narrator() *narrator.Narrator { return s.narr }

// Loader returns the seed loader, or nil without a seed source.
func (s *Service) Loader() *seed.Loader { return s.loader }

// Close releases storage and flushes telemetry. It is safe to call more
// than once.
func (s *Service) Close() error {
	var errs []error
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
		s.db = nil
	}
	if s.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.shutdownTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
		s.shutdownTelemetry = nil
	}
	return errors.Join(errs...)
}
