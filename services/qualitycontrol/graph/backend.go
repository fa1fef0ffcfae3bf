// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import "context"

// Backend is the durable store behind a Store.
//
// Apply must be atomic: either every put and delete in the mutation is
// durable, or none is. The Store calls Apply while holding its write lock,
// so implementations see mutations in commit order and need no locking of
// their own for ordering.
type Backend interface {
	// Load returns the persisted image. An empty store returns an empty
	// image, not an error.
	Load(ctx context.Context) (*Image, error)

	// Apply durably records one mutation.
	Apply(ctx context.Context, m Mutation) error
}

// FactorRecord is the persisted form of a Factor. Edge sets are stored by
// target id.
type FactorRecord struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Standard     string  `json:"standard,omitempty"`
	Description  string  `json:"description,omitempty"`
	CausesFactor []int64 `json:"causes_factor,omitempty"`
	CausesDefect []int64 `json:"causes_defect,omitempty"`
}

// DefectRecord is the persisted form of a Defect.
type DefectRecord struct {
	ID                    int64  `json:"id"`
	Name                  string `json:"name"`
	TypicalManifestations string `json:"typical_manifestations,omitempty"`
}

// Image is a full persisted graph.
type Image struct {
	Factors []FactorRecord
	Defects []DefectRecord

	// NextID is the id allocator high-water mark. Ids at or below it are
	// never handed out again.
	NextID int64
}

// Mutation is one atomic change to the persisted graph.
type Mutation struct {
	// Reset drops every persisted node before the puts are applied.
	Reset bool

	PutFactors    []FactorRecord
	PutDefects    []DefectRecord
	DeleteFactors []int64
	DeleteDefects []int64

	// NextID is the allocator high-water mark after the mutation.
	NextID int64
}
