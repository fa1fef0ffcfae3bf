// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph holds the causal knowledge graph of manufacturing defects.
//
// The graph has two node kinds. Factors are influencing causes and may point
// at other Factors or at Defects through a single "causes" relationship.
// Defects are only ever edge targets.
//
// # Thread Safety
//
// Store is safe for concurrent use. Mutations hold an exclusive lock for the
// in-memory change and the durable write-through together, so readers never
// observe a half-applied mutation. Reads share a read lock and see a
// consistent point-in-time view.
//
// # Persistence
//
// A Store is memory-only unless built WithBackend. With a backend every
// mutation is written through before it becomes visible, and Load replays
// the persisted image on start.
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrNodeNotFound is returned when a named node does not exist in
	// either kind.
	ErrNodeNotFound = errors.New("node not found")

	// ErrSourceNotFactor is returned when a relationship source is absent
	// or names a Defect. Only Factors may be causal sources.
	ErrSourceNotFactor = errors.New("relationship source is not an existing factor")

	// ErrTargetNotFound is returned when a relationship target resolves to
	// neither a Factor nor a Defect.
	ErrTargetNotFound = errors.New("relationship target not found")

	// ErrEdgeNotFound is returned by Unrelate when the edge is in neither
	// of the source's edge sets.
	ErrEdgeNotFound = errors.New("relationship not found")

	// ErrInvalidName is returned for empty or blank node names.
	ErrInvalidName = errors.New("invalid node name")

	// ErrPersist wraps failures of the durable backend. The in-memory graph
	// is left unchanged when it is returned.
	ErrPersist = errors.New("persist graph mutation")
)
