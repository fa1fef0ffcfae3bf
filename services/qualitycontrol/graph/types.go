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

import (
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// Node Kinds
// =============================================================================

// Kind tags which variant a Node carries.
type Kind int

const (
	// KindFactor marks an influencing factor (a cause).
	KindFactor Kind = iota + 1

	// KindDefect marks a defect type (an effect).
	KindDefect
)

// String returns the label used for the kind in API payloads.
func (k Kind) String() string {
	switch k {
	case KindFactor:
		return "Factor"
	case KindDefect:
		return "Defect"
	default:
		return "Unknown"
	}
}

// ParseKind maps an API label onto a Kind. Matching is case-insensitive and
// accepts plurals and the long forms "InfluencingFactor" and "DefectType".
func ParseKind(label string) (Kind, error) {
	switch strings.ToLower(label) {
	case "factor", "factors", "influencingfactor":
		return KindFactor, nil
	case "defect", "defects", "defecttype":
		return KindDefect, nil
	default:
		return 0, fmt.Errorf("unknown node label %q", label)
	}
}

// =============================================================================
// Node Types
// =============================================================================

// Factor is an influencing factor.
//
// CausesFactor and CausesDefect hold the names of the direct edge targets,
// sorted by name. They are filled on values returned by the Store and are
// ignored on input.
type Factor struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Standard     string   `json:"standard,omitempty"`
	Description  string   `json:"description,omitempty"`
	CausesFactor []string `json:"causes_factor,omitempty"`
	CausesDefect []string `json:"causes_defect,omitempty"`
}

// Defect is a manufacturing defect type.
type Defect struct {
	ID                    int64  `json:"id"`
	Name                  string `json:"name"`
	TypicalManifestations string `json:"typical_manifestations,omitempty"`
}

// Node is the uniform view over both kinds. Exactly one of Factor and
// Defect is set, as indicated by Kind.
type Node struct {
	Kind   Kind
	Factor *Factor
	Defect *Defect
}

// FactorNode wraps a Factor as a Node.
func FactorNode(f Factor) Node {
	return Node{Kind: KindFactor, Factor: &f}
}

// DefectNode wraps a Defect as a Node.
func DefectNode(d Defect) Node {
	return Node{Kind: KindDefect, Defect: &d}
}

// Name returns the node name regardless of kind.
func (n Node) Name() string {
	switch n.Kind {
	case KindFactor:
		return n.Factor.Name
	case KindDefect:
		return n.Defect.Name
	default:
		return ""
	}
}

// ID returns the surrogate id regardless of kind.
func (n Node) ID() int64 {
	switch n.Kind {
	case KindFactor:
		return n.Factor.ID
	case KindDefect:
		return n.Defect.ID
	default:
		return 0
	}
}

// MarshalJSON flattens the variant and adds a "label" discriminator.
func (n Node) MarshalJSON() ([]byte, error) {
	switch n.Kind {
	case KindFactor:
		return json.Marshal(struct {
			Label string `json:"label"`
			*Factor
		}{Label: n.Kind.String(), Factor: n.Factor})
	case KindDefect:
		return json.Marshal(struct {
			Label string `json:"label"`
			*Defect
		}{Label: n.Kind.String(), Defect: n.Defect})
	default:
		return nil, fmt.Errorf("marshal node: unknown kind %d", n.Kind)
	}
}

// =============================================================================
// Inputs
// =============================================================================

// FactorInput is the upsert payload for a Factor. Nil fields leave the
// stored value untouched on update and are stored empty on create.
type FactorInput struct {
	Name        string
	Standard    *string
	Description *string
}

// DefectInput is the upsert payload for a Defect.
type DefectInput struct {
	Name                  string
	TypicalManifestations *string
}

// =============================================================================
// Query Results
// =============================================================================

// Link is one causal edge identified by endpoint names.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Snapshot is the complete serializable view of the graph.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

// Stats summarizes graph size.
type Stats struct {
	Factors int `json:"factors"`
	Defects int `json:"defects"`
	Edges   int `json:"edges"`
}

// PathResult holds every root-cause chain for a defect.
//
// Each path runs from a root cause (a Factor with no incoming edge) to the
// Factor that directly causes the defect. The defect itself is not included.
// Cycles counts the branches cut because they would revisit a Factor that
// was already on the chain being built.
type PathResult struct {
	Paths     [][]Factor `json:"paths"`
	Cycles    int        `json:"cycles"`
	Truncated bool       `json:"truncated,omitempty"`
}
