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

// Snapshot flattens the graph into a node list and a link list.
//
// Nodes are all Factors then all Defects, each ordered by name. Links are
// emitted per Factor in name order: first its Factor targets, then its
// Defect targets, each by target name. Endpoints are named, not numbered,
// so the view stands on its own.
func (s *Store) Snapshot(_ context.Context) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Nodes: make([]Node, 0, len(s.factors)+len(s.defects)),
		Links: make([]Link, 0),
	}

	factorNames := sortedNames(s.factorByName)
	for _, name := range factorNames {
		snap.Nodes = append(snap.Nodes, FactorNode(s.factorViewLocked(s.factors[s.factorByName[name]])))
	}
	for _, name := range sortedNames(s.defectByName) {
		snap.Nodes = append(snap.Nodes, DefectNode(defectView(s.defects[s.defectByName[name]])))
	}

	for _, name := range factorNames {
		f := s.factorViewLocked(s.factors[s.factorByName[name]])
		for _, t := range f.CausesFactor {
			snap.Links = append(snap.Links, Link{Source: name, Target: t})
		}
		for _, t := range f.CausesDefect {
			snap.Links = append(snap.Links, Link{Source: name, Target: t})
		}
	}
	return snap
}
