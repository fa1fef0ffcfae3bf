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
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

// newTestStore builds a memory store from "A->B" style edges. Names that
// start with "D" become Defects, everything else a Factor.
func newTestStore(t *testing.T, edges ...string) *Store {
	t.Helper()
	ctx := context.Background()
	s := New()
	for _, e := range edges {
		parts := strings.Split(e, "->")
		require.Len(t, parts, 2, "bad edge %q", e)
		mustNode(t, s, parts[0])
		mustNode(t, s, parts[1])
		require.NoError(t, s.Relate(ctx, parts[0], parts[1]))
	}
	return s
}

func mustNode(t *testing.T, s *Store, name string) {
	t.Helper()
	ctx := context.Background()
	if name[0] == 'D' {
		_, err := s.UpsertDefect(ctx, DefectInput{Name: name})
		require.NoError(t, err)
		return
	}
	_, err := s.UpsertFactor(ctx, FactorInput{Name: name})
	require.NoError(t, err)
}

func TestUpsertFactor_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, err := s.UpsertFactor(ctx, FactorInput{Name: "Solder temp", Standard: strPtr("IPC-A-610"), Description: strPtr("reflow peak")})
	require.NoError(t, err)
	second, err := s.UpsertFactor(ctx, FactorInput{Name: "Solder temp", Standard: strPtr("IPC-A-610"), Description: strPtr("reflow peak")})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, s.ListFactors(ctx), 1)
	assert.Equal(t, "IPC-A-610", second.Standard)
}

func TestUpsertFactor_NilFieldsKeepExistingValues(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.UpsertFactor(ctx, FactorInput{Name: "Flux", Standard: strPtr("J-STD-004"), Description: strPtr("activity")})
	require.NoError(t, err)
	got, err := s.UpsertFactor(ctx, FactorInput{Name: "Flux", Description: strPtr("low activity")})
	require.NoError(t, err)

	assert.Equal(t, "J-STD-004", got.Standard)
	assert.Equal(t, "low activity", got.Description)
}

func TestUpsert_RejectsBlankName(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.UpsertFactor(ctx, FactorInput{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = s.UpsertDefect(ctx, DefectInput{Name: ""})
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestUpsertDefect_UpdatesManifestations(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, err := s.UpsertDefect(ctx, DefectInput{Name: "Bridging"})
	require.NoError(t, err)
	assert.Empty(t, first.TypicalManifestations)

	second, err := s.UpsertDefect(ctx, DefectInput{Name: "Bridging", TypicalManifestations: strPtr("solder joins adjacent pads")})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "solder joins adjacent pads", second.TypicalManifestations)
}

func TestFindByName_PrefersFactor(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.UpsertDefect(ctx, DefectInput{Name: "Voids"})
	require.NoError(t, err)
	_, err = s.UpsertFactor(ctx, FactorInput{Name: "Voids"})
	require.NoError(t, err)

	n, ok := s.FindByName(ctx, "Voids")
	require.True(t, ok)
	assert.Equal(t, KindFactor, n.Kind)

	_, ok = s.FindByName(ctx, "missing")
	assert.False(t, ok)
}

func TestFindFuzzy_BothKindsOnce(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.UpsertFactor(ctx, FactorInput{Name: "Paste volume"})
	require.NoError(t, err)
	_, err = s.UpsertDefect(ctx, DefectInput{Name: "Insufficient paste"})
	require.NoError(t, err)
	_, err = s.UpsertDefect(ctx, DefectInput{Name: "Tombstoning"})
	require.NoError(t, err)

	got := s.FindFuzzy(ctx, "aste")
	require.Len(t, got, 2)
	assert.Equal(t, KindFactor, got[0].Kind)
	assert.Equal(t, "Paste volume", got[0].Name())
	assert.Equal(t, KindDefect, got[1].Kind)
	assert.Equal(t, "Insufficient paste", got[1].Name())

	assert.Empty(t, s.FindFuzzy(ctx, "PASTE"), "matching is case-sensitive")
}

func TestRelate_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "A->D1")

	require.NoError(t, s.Relate(ctx, "A", "D1"))

	assert.Len(t, s.DefectsCausedBy(ctx, "A"), 1)
	assert.Len(t, s.CausesOf(ctx, "D1"), 1)
	assert.Equal(t, 1, s.Stats(ctx).Edges)
}

func TestRelate_Failures(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "A->D1")

	assert.ErrorIs(t, s.Relate(ctx, "nope", "D1"), ErrSourceNotFactor)
	assert.ErrorIs(t, s.Relate(ctx, "D1", "A"), ErrSourceNotFactor)
	assert.ErrorIs(t, s.Relate(ctx, "A", "nope"), ErrTargetNotFound)
}

func TestRelate_TargetResolvesFactorFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	mustNode(t, s, "A")
	mustNode(t, s, "X")
	_, err := s.UpsertDefect(ctx, DefectInput{Name: "X"})
	require.NoError(t, err)

	require.NoError(t, s.Relate(ctx, "A", "X"))

	n, ok := s.FindByName(ctx, "A")
	require.True(t, ok)
	assert.Equal(t, []string{"X"}, n.Factor.CausesFactor)
	assert.Empty(t, n.Factor.CausesDefect)
}

func TestRelateTo_ExplicitKind(t *testing.T) {
	ctx := context.Background()
	s := New()
	mustNode(t, s, "A")
	mustNode(t, s, "X")
	_, err := s.UpsertDefect(ctx, DefectInput{Name: "X"})
	require.NoError(t, err)

	require.NoError(t, s.RelateTo(ctx, "A", "X", KindDefect))
	n, ok := s.FindByName(ctx, "A")
	require.True(t, ok)
	assert.Equal(t, []string{"X"}, n.Factor.CausesDefect)
	assert.Empty(t, n.Factor.CausesFactor)
	require.Len(t, s.CausesOf(ctx, "X"), 1)
	assert.Equal(t, "A", s.CausesOf(ctx, "X")[0].Name)

	require.NoError(t, s.RelateTo(ctx, "A", "X", KindFactor))
	n, _ = s.FindByName(ctx, "A")
	assert.Equal(t, []string{"X"}, n.Factor.CausesFactor)
	assert.Equal(t, 2, s.Stats(ctx).Edges)

	require.NoError(t, s.RelateTo(ctx, "A", "X", KindDefect))
	assert.Equal(t, 2, s.Stats(ctx).Edges, "existing edge is a no-op")
}

func TestRelateTo_Failures(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "A->B", "A->D1")

	assert.ErrorIs(t, s.RelateTo(ctx, "nope", "D1", KindDefect), ErrSourceNotFactor)
	assert.ErrorIs(t, s.RelateTo(ctx, "A", "B", KindDefect), ErrTargetNotFound)
	assert.ErrorIs(t, s.RelateTo(ctx, "A", "D1", KindFactor), ErrTargetNotFound)
	assert.Error(t, s.RelateTo(ctx, "A", "D1", Kind(0)))
}

func TestFindDefect(t *testing.T) {
	ctx := context.Background()
	s := New()
	mustNode(t, s, "X")

	_, ok := s.FindDefect(ctx, "X")
	assert.False(t, ok, "factors are not defects")

	_, err := s.UpsertDefect(ctx, DefectInput{Name: "X"})
	require.NoError(t, err)
	d, ok := s.FindDefect(ctx, "X")
	require.True(t, ok)
	assert.Equal(t, "X", d.Name)
}

func TestUnrelate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "A->B", "A->D1")

	require.NoError(t, s.Unrelate(ctx, "A", "D1"))
	assert.Empty(t, s.CausesOf(ctx, "D1"))
	assert.ErrorIs(t, s.Unrelate(ctx, "A", "D1"), ErrEdgeNotFound)
	assert.ErrorIs(t, s.Unrelate(ctx, "D1", "A"), ErrSourceNotFactor)

	require.NoError(t, s.Unrelate(ctx, "A", "B"))
	assert.Equal(t, 0, s.Stats(ctx).Edges)
}

func TestDeleteByName_FactorCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "R->A", "A->D1", "A->B")

	require.NoError(t, s.DeleteByName(ctx, "A"))

	_, ok := s.FindByName(ctx, "A")
	assert.False(t, ok)
	n, ok := s.FindByName(ctx, "D1")
	require.True(t, ok)
	assert.Equal(t, KindDefect, n.Kind)
	assert.Empty(t, s.CausesOf(ctx, "D1"))

	r, ok := s.FindByName(ctx, "R")
	require.True(t, ok)
	assert.Empty(t, r.Factor.CausesFactor)
	assert.Equal(t, 0, s.Stats(ctx).Edges)
}

func TestDeleteByName_DefectCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "A->D1", "B->D1", "B->D2")

	require.NoError(t, s.DeleteByName(ctx, "D1"))

	assert.Empty(t, s.DefectsCausedBy(ctx, "A"))
	got := s.DefectsCausedBy(ctx, "B")
	require.Len(t, got, 1)
	assert.Equal(t, "D2", got[0].Name)
}

func TestDeleteByName_NotFound(t *testing.T) {
	s := New()
	err := s.DeleteByName(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestDeleteByName_SelfLoop(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "A->A", "A->D1")

	require.NoError(t, s.DeleteByName(ctx, "A"))
	assert.Equal(t, Stats{Defects: 1}, s.Stats(ctx))
}

func TestClear_DoesNotReuseIDs(t *testing.T) {
	ctx := context.Background()
	s := New()
	before, err := s.UpsertFactor(ctx, FactorInput{Name: "A"})
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, Stats{}, s.Stats(ctx))

	after, err := s.UpsertFactor(ctx, FactorInput{Name: "A"})
	require.NoError(t, err)
	assert.Greater(t, after.ID, before.ID)
}

func TestConcurrentRelate_SingleEdge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustNode(t, s, "A")
	mustNode(t, s, "D1")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Relate(ctx, "A", "D1"))
			_, err := s.UpsertFactor(ctx, FactorInput{Name: "A"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, s.CausesOf(ctx, "D1"), 1)
	assert.Len(t, s.ListFactors(ctx), 1)
}

// =============================================================================
// Backend write-through
// =============================================================================

type recordingBackend struct {
	mu        sync.Mutex
	image     Image
	mutations []Mutation
	failNext  bool
}

func (b *recordingBackend) Load(context.Context) (*Image, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	img := b.image
	return &img, nil
}

func (b *recordingBackend) Apply(_ context.Context, m Mutation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext {
		b.failNext = false
		return errors.New("disk full")
	}
	b.mutations = append(b.mutations, m)
	return nil
}

func TestBackend_FailureLeavesMemoryUnchanged(t *testing.T) {
	ctx := context.Background()
	b := &recordingBackend{}
	s := New(WithBackend(b))
	mustNode(t, s, "A")
	mustNode(t, s, "D1")

	b.failNext = true
	err := s.Relate(ctx, "A", "D1")
	require.ErrorIs(t, err, ErrPersist)
	assert.Empty(t, s.CausesOf(ctx, "D1"))

	b.failNext = true
	_, err = s.UpsertFactor(ctx, FactorInput{Name: "B"})
	require.ErrorIs(t, err, ErrPersist)
	_, ok := s.FindByName(ctx, "B")
	assert.False(t, ok)
}

func TestBackend_DeleteIsOneMutation(t *testing.T) {
	ctx := context.Background()
	b := &recordingBackend{}
	s := New(WithBackend(b))
	mustNode(t, s, "A")
	mustNode(t, s, "B")
	mustNode(t, s, "D1")
	require.NoError(t, s.Relate(ctx, "A", "D1"))
	require.NoError(t, s.Relate(ctx, "B", "D1"))

	n := len(b.mutations)
	require.NoError(t, s.DeleteByName(ctx, "D1"))
	require.Len(t, b.mutations, n+1)

	m := b.mutations[n]
	assert.Len(t, m.DeleteDefects, 1)
	assert.Len(t, m.PutFactors, 2)
	for _, f := range m.PutFactors {
		assert.Empty(t, f.CausesDefect)
	}
}

func TestLoad_RebuildsIndexes(t *testing.T) {
	ctx := context.Background()
	b := &recordingBackend{image: Image{
		Factors: []FactorRecord{
			{ID: 1, Name: "R", CausesFactor: []int64{2}},
			{ID: 2, Name: "F", CausesDefect: []int64{3, 99}},
		},
		Defects: []DefectRecord{{ID: 3, Name: "D"}},
		NextID:  3,
	}}
	s := New(WithBackend(b))
	require.NoError(t, s.Load(ctx))

	res, err := s.CausalPaths(ctx, "D")
	require.NoError(t, err)
	require.Len(t, res.Paths, 1)
	assert.Equal(t, "R", res.Paths[0][0].Name)
	assert.Equal(t, 2, s.Stats(ctx).Edges, "dangling edge to 99 is dropped")

	f, err := s.UpsertFactor(ctx, FactorInput{Name: "new"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), f.ID)
}
