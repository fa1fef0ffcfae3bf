// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package seed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DylanSoren/QualityControl/services/qualitycontrol/observability"
)

// Loader fetches a seed document and imports it into a store.
type Loader struct {
	store   Store
	source  Source
	logger  *slog.Logger
	metrics *observability.Metrics
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) LoaderOption {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithMetrics counts each load as a "seed" mutation.
func WithMetrics(m *observability.Metrics) LoaderOption {
	return func(ld *Loader) { ld.metrics = m }
}

// NewLoader creates a Loader.
func NewLoader(store Store, source Source, opts ...LoaderOption) *Loader {
	l := &Loader{store: store, source: source, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Source returns the configured source.
func (l *Loader) Source() Source {
	return l.source
}

// Load fetches and parses the document, optionally clears the store, then
// imports. The store is only cleared once the document has parsed, so a
// broken document never wipes the graph.
func (l *Loader) Load(ctx context.Context, clearFirst bool) (res Result, err error) {
	start := time.Now()
	defer func() { l.metrics.RecordMutation("seed", err) }()

	data, err := l.source.Fetch(ctx)
	if err != nil {
		return Result{}, err
	}
	records, err := Parse(data, FormatFor(l.source.Name()))
	if err != nil {
		return Result{}, err
	}

	if clearFirst {
		l.logger.Info("Clearing the graph before seeding", "source", l.source.Name())
		if err := l.store.Clear(ctx); err != nil {
			return Result{}, fmt.Errorf("clear graph: %w", err)
		}
	}

	res, err = Import(ctx, l.store, records)
	if err != nil {
		l.logger.Error("Seed import failed", "source", l.source.Name(), "error", err)
		return res, err
	}
	l.logger.Info("Seed import finished",
		"source", l.source.Name(),
		"records", res.Records,
		"factors", res.Factors,
		"defects", res.Defects,
		"duration", time.Since(start),
	)
	return res, nil
}
