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
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// =============================================================================
// Arena Records
// =============================================================================

type idSet map[int64]struct{}

func (s idSet) clone() idSet {
	out := make(idSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

func (s idSet) sorted() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type factorRec struct {
	id           int64
	name         string
	standard     string
	description  string
	causesFactor idSet
	causesDefect idSet
}

func (r *factorRec) clone() *factorRec {
	c := *r
	c.causesFactor = r.causesFactor.clone()
	c.causesDefect = r.causesDefect.clone()
	return &c
}

func (r *factorRec) record() FactorRecord {
	return FactorRecord{
		ID:           r.id,
		Name:         r.name,
		Standard:     r.standard,
		Description:  r.description,
		CausesFactor: r.causesFactor.sorted(),
		CausesDefect: r.causesDefect.sorted(),
	}
}

type defectRec struct {
	id            int64
	name          string
	manifestation string
}

func (r *defectRec) record() DefectRecord {
	return DefectRecord{ID: r.id, Name: r.name, TypicalManifestations: r.manifestation}
}

// =============================================================================
// Store
// =============================================================================

// Store is the in-memory arena graph with optional write-through
// persistence. Build it with New and call Load once before serving when a
// backend is configured.
type Store struct {
	mu sync.RWMutex

	factors      map[int64]*factorRec
	defects      map[int64]*defectRec
	factorByName map[string]int64
	defectByName map[string]int64

	// incoming maps a target node id to the ids of Factors with an edge
	// into it. Ids are allocated from one sequence across both kinds.
	incoming map[int64]idSet

	nextID int64

	// generation increments on every committed mutation.
	generation uint64

	backend  Backend
	logger   *slog.Logger
	maxPaths int

	pathGroup singleflight.Group
}

// Option configures a Store.
type Option func(*Store)

// WithBackend enables write-through persistence.
func WithBackend(b Backend) Option {
	return func(s *Store) {
		s.backend = b
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxPaths caps the number of paths CausalPaths reports. Zero or a
// negative value means no cap.
func WithMaxPaths(n int) Option {
	return func(s *Store) {
		s.maxPaths = n
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		factors:      make(map[int64]*factorRec),
		defects:      make(map[int64]*defectRec),
		factorByName: make(map[string]int64),
		defectByName: make(map[string]int64),
		incoming:     make(map[int64]idSet),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory graph with the backend image. It is a no-op
// without a backend. Edges pointing at ids missing from the image are
// dropped with a warning.
func (s *Store) Load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	img, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load graph image: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked()
	s.nextID = img.NextID

	for _, d := range img.Defects {
		s.defects[d.ID] = &defectRec{id: d.ID, name: d.Name, manifestation: d.TypicalManifestations}
		s.defectByName[d.Name] = d.ID
		s.bumpNextIDLocked(d.ID)
	}
	for _, f := range img.Factors {
		s.factors[f.ID] = &factorRec{
			id:           f.ID,
			name:         f.Name,
			standard:     f.Standard,
			description:  f.Description,
			causesFactor: make(idSet),
			causesDefect: make(idSet),
		}
		s.factorByName[f.Name] = f.ID
		s.bumpNextIDLocked(f.ID)
	}
	dropped := 0
	for _, f := range img.Factors {
		rec := s.factors[f.ID]
		for _, t := range f.CausesFactor {
			if _, ok := s.factors[t]; !ok {
				dropped++
				continue
			}
			rec.causesFactor[t] = struct{}{}
			s.addIncomingLocked(t, f.ID)
		}
		for _, t := range f.CausesDefect {
			if _, ok := s.defects[t]; !ok {
				dropped++
				continue
			}
			rec.causesDefect[t] = struct{}{}
			s.addIncomingLocked(t, f.ID)
		}
	}
	if dropped > 0 {
		s.logger.Warn("dropped dangling edges while loading graph", "count", dropped)
	}
	s.generation++

	s.logger.Info("graph loaded",
		"factors", len(s.factors),
		"defects", len(s.defects),
	)
	return nil
}

func (s *Store) resetLocked() {
	s.factors = make(map[int64]*factorRec)
	s.defects = make(map[int64]*defectRec)
	s.factorByName = make(map[string]int64)
	s.defectByName = make(map[string]int64)
	s.incoming = make(map[int64]idSet)
}

func (s *Store) bumpNextIDLocked(id int64) {
	if id > s.nextID {
		s.nextID = id
	}
}

func (s *Store) addIncomingLocked(target, source int64) {
	set, ok := s.incoming[target]
	if !ok {
		set = make(idSet)
		s.incoming[target] = set
	}
	set[source] = struct{}{}
}

func (s *Store) removeIncomingLocked(target, source int64) {
	set, ok := s.incoming[target]
	if !ok {
		return
	}
	delete(set, source)
	if len(set) == 0 {
		delete(s.incoming, target)
	}
}

// persistLocked writes m through to the backend. Callers hold the write
// lock and commit to memory only after it returns nil.
func (s *Store) persistLocked(ctx context.Context, m Mutation) error {
	if s.backend == nil {
		return nil
	}
	if err := s.backend.Apply(ctx, m); err != nil {
		s.logger.Error("graph mutation not persisted", "error", err)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	return nil
}

// =============================================================================
// Upserts
// =============================================================================

// UpsertFactor creates the Factor named in.Name or updates it in place.
// On update only the non-nil fields of in are overwritten; the id and edge
// sets are preserved.
func (s *Store) UpsertFactor(ctx context.Context, in FactorInput) (Factor, error) {
	if err := validateName(in.Name); err != nil {
		return Factor{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextID := s.nextID
	var rec *factorRec
	if id, ok := s.factorByName[in.Name]; ok {
		rec = s.factors[id].clone()
	} else {
		nextID++
		rec = &factorRec{
			id:           nextID,
			name:         in.Name,
			causesFactor: make(idSet),
			causesDefect: make(idSet),
		}
	}
	if in.Standard != nil {
		rec.standard = *in.Standard
	}
	if in.Description != nil {
		rec.description = *in.Description
	}

	m := Mutation{PutFactors: []FactorRecord{rec.record()}, NextID: nextID}
	if err := s.persistLocked(ctx, m); err != nil {
		return Factor{}, err
	}

	s.nextID = nextID
	s.factors[rec.id] = rec
	s.factorByName[rec.name] = rec.id
	s.generation++
	return s.factorViewLocked(rec), nil
}

// UpsertDefect creates the Defect named in.Name or updates it in place.
func (s *Store) UpsertDefect(ctx context.Context, in DefectInput) (Defect, error) {
	if err := validateName(in.Name); err != nil {
		return Defect{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextID := s.nextID
	var rec defectRec
	if id, ok := s.defectByName[in.Name]; ok {
		rec = *s.defects[id]
	} else {
		nextID++
		rec = defectRec{id: nextID, name: in.Name}
	}
	if in.TypicalManifestations != nil {
		rec.manifestation = *in.TypicalManifestations
	}

	m := Mutation{PutDefects: []DefectRecord{rec.record()}, NextID: nextID}
	if err := s.persistLocked(ctx, m); err != nil {
		return Defect{}, err
	}

	s.nextID = nextID
	s.defects[rec.id] = &rec
	s.defectByName[rec.name] = rec.id
	s.generation++
	return defectView(&rec), nil
}

// =============================================================================
// Relationships
// =============================================================================

// Relate adds the edge source -> target. The source must be a Factor. The
// target is resolved as a Factor first, then as a Defect. An edge that
// already exists is a successful no-op.
func (s *Store) Relate(ctx context.Context, source, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srcID, ok := s.factorByName[source]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSourceNotFactor, source)
	}
	if id, ok := s.factorByName[target]; ok {
		return s.relateLocked(ctx, srcID, id, true)
	}
	if id, ok := s.defectByName[target]; ok {
		return s.relateLocked(ctx, srcID, id, false)
	}
	return fmt.Errorf("%w: %q", ErrTargetNotFound, target)
}

// RelateTo adds the edge source -> target where target is looked up only
// among nodes of the given kind. Use it when a Factor and a Defect may share
// the target's name.
func (s *Store) RelateTo(ctx context.Context, source, target string, kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srcID, ok := s.factorByName[source]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSourceNotFactor, source)
	}
	var index map[string]int64
	switch kind {
	case KindFactor:
		index = s.factorByName
	case KindDefect:
		index = s.defectByName
	default:
		return fmt.Errorf("unknown node kind %d", kind)
	}
	id, ok := index[target]
	if !ok {
		return fmt.Errorf("%w: %s %q", ErrTargetNotFound, kind, target)
	}
	return s.relateLocked(ctx, srcID, id, kind == KindFactor)
}

func (s *Store) relateLocked(ctx context.Context, srcID, targetID int64, toFactor bool) error {
	src := s.factors[srcID]
	set := src.causesDefect
	if toFactor {
		set = src.causesFactor
	}
	if _, exists := set[targetID]; exists {
		return nil
	}

	updated := src.clone()
	if toFactor {
		updated.causesFactor[targetID] = struct{}{}
	} else {
		updated.causesDefect[targetID] = struct{}{}
	}

	m := Mutation{PutFactors: []FactorRecord{updated.record()}, NextID: s.nextID}
	if err := s.persistLocked(ctx, m); err != nil {
		return err
	}

	s.factors[srcID] = updated
	s.addIncomingLocked(targetID, srcID)
	s.generation++
	return nil
}

// Unrelate removes the edge source -> target. The Factor-target set is
// checked first, then the Defect-target set.
func (s *Store) Unrelate(ctx context.Context, source, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srcID, ok := s.factorByName[source]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSourceNotFactor, source)
	}
	src := s.factors[srcID]

	updated := src.clone()
	var targetID int64
	found := false
	if id, ok := s.factorByName[target]; ok {
		if _, has := src.causesFactor[id]; has {
			delete(updated.causesFactor, id)
			targetID, found = id, true
		}
	}
	if !found {
		if id, ok := s.defectByName[target]; ok {
			if _, has := src.causesDefect[id]; has {
				delete(updated.causesDefect, id)
				targetID, found = id, true
			}
		}
	}
	if !found {
		return fmt.Errorf("%w: %q -> %q", ErrEdgeNotFound, source, target)
	}

	m := Mutation{PutFactors: []FactorRecord{updated.record()}, NextID: s.nextID}
	if err := s.persistLocked(ctx, m); err != nil {
		return err
	}

	s.factors[srcID] = updated
	s.removeIncomingLocked(targetID, srcID)
	s.generation++
	return nil
}

// =============================================================================
// Deletion
// =============================================================================

// DeleteByName removes the node resolved by FindByName precedence together
// with every edge that references it. The cascade is persisted as a single
// mutation.
func (s *Store) DeleteByName(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.factorByName[name]; ok {
		return s.deleteFactorLocked(ctx, s.factors[id])
	}
	if id, ok := s.defectByName[name]; ok {
		return s.deleteDefectLocked(ctx, s.defects[id])
	}
	return fmt.Errorf("%w: %q", ErrNodeNotFound, name)
}

func (s *Store) deleteFactorLocked(ctx context.Context, f *factorRec) error {
	sources := s.incoming[f.id].sorted()
	updated := make([]*factorRec, 0, len(sources))
	for _, srcID := range sources {
		if srcID == f.id {
			continue
		}
		u := s.factors[srcID].clone()
		delete(u.causesFactor, f.id)
		updated = append(updated, u)
	}

	m := Mutation{DeleteFactors: []int64{f.id}, NextID: s.nextID}
	for _, u := range updated {
		m.PutFactors = append(m.PutFactors, u.record())
	}
	if err := s.persistLocked(ctx, m); err != nil {
		return err
	}

	for _, u := range updated {
		s.factors[u.id] = u
	}
	for t := range f.causesFactor {
		s.removeIncomingLocked(t, f.id)
	}
	for t := range f.causesDefect {
		s.removeIncomingLocked(t, f.id)
	}
	delete(s.incoming, f.id)
	delete(s.factors, f.id)
	delete(s.factorByName, f.name)
	s.generation++
	return nil
}

func (s *Store) deleteDefectLocked(ctx context.Context, d *defectRec) error {
	sources := s.incoming[d.id].sorted()
	updated := make([]*factorRec, 0, len(sources))
	for _, srcID := range sources {
		u := s.factors[srcID].clone()
		delete(u.causesDefect, d.id)
		updated = append(updated, u)
	}

	m := Mutation{DeleteDefects: []int64{d.id}, NextID: s.nextID}
	for _, u := range updated {
		m.PutFactors = append(m.PutFactors, u.record())
	}
	if err := s.persistLocked(ctx, m); err != nil {
		return err
	}

	for _, u := range updated {
		s.factors[u.id] = u
	}
	delete(s.incoming, d.id)
	delete(s.defects, d.id)
	delete(s.defectByName, d.name)
	s.generation++
	return nil
}

// Clear removes every node and edge. Ids are not reused afterwards.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persistLocked(ctx, Mutation{Reset: true, NextID: s.nextID}); err != nil {
		return err
	}
	s.resetLocked()
	s.generation++
	return nil
}

// =============================================================================
// Views
// =============================================================================

func (s *Store) factorViewLocked(r *factorRec) Factor {
	f := Factor{
		ID:          r.id,
		Name:        r.name,
		Standard:    r.standard,
		Description: r.description,
	}
	for id := range r.causesFactor {
		f.CausesFactor = append(f.CausesFactor, s.factors[id].name)
	}
	for id := range r.causesDefect {
		f.CausesDefect = append(f.CausesDefect, s.defects[id].name)
	}
	sort.Strings(f.CausesFactor)
	sort.Strings(f.CausesDefect)
	return f
}

func defectView(r *defectRec) Defect {
	return Defect{ID: r.id, Name: r.name, TypicalManifestations: r.manifestation}
}
