// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package seed bulk-loads the knowledge graph from an edge list.
//
// # Description
//
// A seed document is a list of records, each naming a cause node and an
// effect node:
//
//	[{"start_node": {"label": "Factor", "properties": {"name": "...", "standard": "..."}},
//	  "end_node":   {"label": "Defect", "properties": {"name": "...", "typical_manifestations": "..."}}}]
//
// The start node is always an influencing factor. The end node is a factor
// when its label says so and a defect type otherwise. Documents are JSON or
// YAML and come from a local file or a gs:// object.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/DylanSoren/QualityControl/services/qualitycontrol/graph"
)

// ErrInvalidDocument reports a seed document that cannot be imported.
var ErrInvalidDocument = errors.New("invalid seed document")

// Record is one cause-effect pair.
type Record struct {
	Start NodeSpec `json:"start_node" yaml:"start_node" validate:"required"`
	End   NodeSpec `json:"end_node" yaml:"end_node" validate:"required"`
}

// NodeSpec is one endpoint of a Record.
type NodeSpec struct {
	Label      string     `json:"label" yaml:"label"`
	Properties Properties `json:"properties" yaml:"properties" validate:"required"`
}

// Properties are node attributes. Absent keys leave stored values alone.
type Properties struct {
	Name                  string  `json:"name" yaml:"name" validate:"required,max=256"`
	Standard              *string `json:"standard,omitempty" yaml:"standard,omitempty"`
	Description           *string `json:"description,omitempty" yaml:"description,omitempty"`
	TypicalManifestations *string `json:"typical_manifestations,omitempty" yaml:"typical_manifestations,omitempty"`
}

// factorLabel reports whether an end-node label names an influencing
// factor. The original dataset labels factors "影响因素".
func factorLabel(label string) bool {
	if label == "影响因素" {
		return true
	}
	kind, err := graph.ParseKind(label)
	return err == nil && kind == graph.KindFactor
}

// Format is a seed document encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFor picks the encoding from a file or object name.
func FormatFor(name string) Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes and validates a seed document.
func Parse(data []byte, format Format) ([]Record, error) {
	var records []Record
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &records)
	default:
		err = json.Unmarshal(data, &records)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	for i := range records {
		if err := validate.Struct(records[i]); err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrInvalidDocument, i, err)
		}
	}
	return records, nil
}

// Store is the part of the graph store the importer writes to.
type Store interface {
	FindDefect(ctx context.Context, name string) (graph.Defect, bool)
	UpsertFactor(ctx context.Context, in graph.FactorInput) (graph.Factor, error)
	UpsertDefect(ctx context.Context, in graph.DefectInput) (graph.Defect, error)
	RelateTo(ctx context.Context, source, target string, kind graph.Kind) error
	Clear(ctx context.Context) error
}

// Result summarizes an import.
type Result struct {
	Records int `json:"records"`
	Factors int `json:"factors"`
	Defects int `json:"defects"`
	Edges   int `json:"edges"`
}

// Import applies records in order. Factor attributes present in a record
// overwrite stored ones; a defect's typical manifestations are only filled
// in when the stored defect has none. Import stops at the first failing
// record.
func Import(ctx context.Context, store Store, records []Record) (Result, error) {
	res := Result{Records: len(records)}
	factors := make(map[string]struct{})
	defects := make(map[string]struct{})

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		start := rec.Start.Properties
		if _, err := store.UpsertFactor(ctx, graph.FactorInput{
			Name:        start.Name,
			Standard:    start.Standard,
			Description: start.Description,
		}); err != nil {
			return res, fmt.Errorf("record %d: factor %q: %w", i, start.Name, err)
		}
		factors[start.Name] = struct{}{}

		end := rec.End.Properties
		endKind := graph.KindDefect
		if factorLabel(rec.End.Label) {
			endKind = graph.KindFactor
			if _, err := store.UpsertFactor(ctx, graph.FactorInput{
				Name:        end.Name,
				Standard:    end.Standard,
				Description: end.Description,
			}); err != nil {
				return res, fmt.Errorf("record %d: factor %q: %w", i, end.Name, err)
			}
			factors[end.Name] = struct{}{}
		} else {
			in := graph.DefectInput{Name: end.Name}
			existing, ok := store.FindDefect(ctx, end.Name)
			if !ok || existing.TypicalManifestations == "" {
				in.TypicalManifestations = end.TypicalManifestations
			}
			if _, err := store.UpsertDefect(ctx, in); err != nil {
				return res, fmt.Errorf("record %d: defect %q: %w", i, end.Name, err)
			}
			defects[end.Name] = struct{}{}
		}

		if err := store.RelateTo(ctx, start.Name, end.Name, endKind); err != nil {
			return res, fmt.Errorf("record %d: relate %q -> %q: %w", i, start.Name, end.Name, err)
		}
		res.Edges++
	}

	res.Factors = len(factors)
	res.Defects = len(defects)
	return res, nil
}
