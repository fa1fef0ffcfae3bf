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
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "B->A", "A->D2", "A->D1", "B->D1")

	snap := s.Snapshot(ctx)

	names := make([]string, len(snap.Nodes))
	for i, n := range snap.Nodes {
		names[i] = n.Kind.String() + ":" + n.Name()
	}
	assert.Equal(t, []string{"Factor:A", "Factor:B", "Defect:D1", "Defect:D2"}, names)

	want := []Link{
		{Source: "A", Target: "D1"},
		{Source: "A", Target: "D2"},
		{Source: "B", Target: "A"},
		{Source: "B", Target: "D1"},
	}
	if diff := cmp.Diff(want, snap.Links); diff != "" {
		t.Errorf("links mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshot_Empty(t *testing.T) {
	snap := New().Snapshot(context.Background())
	assert.Empty(t, snap.Nodes)
	assert.NotNil(t, snap.Links)
}

func TestNode_MarshalJSON(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "A->D1")
	_, err := s.UpsertDefect(ctx, DefectInput{Name: "D1", TypicalManifestations: strPtr("dull joint")})
	require.NoError(t, err)

	snap := s.Snapshot(ctx)
	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded struct {
		Nodes []map[string]any `json:"nodes"`
		Links []Link           `json:"links"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded.Nodes, 2)
	assert.Equal(t, "Factor", decoded.Nodes[0]["label"])
	assert.Equal(t, []any{"D1"}, decoded.Nodes[0]["causes_defect"])
	assert.Equal(t, "Defect", decoded.Nodes[1]["label"])
	assert.Equal(t, "dull joint", decoded.Nodes[1]["typical_manifestations"])
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("factors")
	require.NoError(t, err)
	assert.Equal(t, KindFactor, k)

	k, err = ParseKind("DefectType")
	require.NoError(t, err)
	assert.Equal(t, KindDefect, k)

	_, err = ParseKind("edge")
	assert.Error(t, err)
}
