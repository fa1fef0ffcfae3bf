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
	"sort"
	"strings"
)

// FindByName looks the name up among Factors first, then Defects. A name
// used by both kinds resolves to the Factor.
func (s *Store) FindByName(_ context.Context, name string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.factorByName[name]; ok {
		return FactorNode(s.factorViewLocked(s.factors[id])), true
	}
	if id, ok := s.defectByName[name]; ok {
		return DefectNode(defectView(s.defects[id])), true
	}
	return Node{}, false
}

// FindDefect looks the name up among Defects only.
func (s *Store) FindDefect(_ context.Context, name string) (Defect, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.defectByName[name]
	if !ok {
		return Defect{}, false
	}
	return defectView(s.defects[id]), true
}

// FindFuzzy returns every node whose name contains fragment. Matching is
// case-sensitive. Factors come first, then Defects, each ordered by name.
func (s *Store) FindFuzzy(_ context.Context, fragment string) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]Node, 0)
	for _, name := range sortedNames(s.factorByName) {
		if strings.Contains(name, fragment) {
			nodes = append(nodes, FactorNode(s.factorViewLocked(s.factors[s.factorByName[name]])))
		}
	}
	for _, name := range sortedNames(s.defectByName) {
		if strings.Contains(name, fragment) {
			nodes = append(nodes, DefectNode(defectView(s.defects[s.defectByName[name]])))
		}
	}
	return nodes
}

// CausesOf returns the Factors with a direct edge into the named Defect,
// ordered by name. Unknown defects and defects without causes both yield an
// empty slice.
func (s *Store) CausesOf(_ context.Context, defectName string) []Factor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Factor, 0)
	id, ok := s.defectByName[defectName]
	if !ok {
		return out
	}
	for srcID := range s.incoming[id] {
		out = append(out, s.factorViewLocked(s.factors[srcID]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefectsCausedBy returns the direct Defect targets of the named Factor,
// ordered by name.
func (s *Store) DefectsCausedBy(_ context.Context, factorName string) []Defect {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Defect, 0)
	id, ok := s.factorByName[factorName]
	if !ok {
		return out
	}
	for dID := range s.factors[id].causesDefect {
		out = append(out, defectView(s.defects[dID]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListFactors returns all Factors ordered by name.
func (s *Store) ListFactors(_ context.Context) []Factor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Factor, 0, len(s.factors))
	for _, name := range sortedNames(s.factorByName) {
		out = append(out, s.factorViewLocked(s.factors[s.factorByName[name]]))
	}
	return out
}

// ListDefects returns all Defects ordered by name.
func (s *Store) ListDefects(_ context.Context) []Defect {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Defect, 0, len(s.defects))
	for _, name := range sortedNames(s.defectByName) {
		out = append(out, defectView(s.defects[s.defectByName[name]]))
	}
	return out
}

// Stats returns node and edge counts.
func (s *Store) Stats(_ context.Context) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Factors: len(s.factors), Defects: len(s.defects)}
	for _, f := range s.factors {
		st.Edges += len(f.causesFactor) + len(f.causesDefect)
	}
	return st
}

func sortedNames(index map[string]int64) []string {
	names := make([]string, 0, len(index))
	for name := range index {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
