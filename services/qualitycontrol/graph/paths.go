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
)

// CausalPaths returns every root-cause chain that ends with a direct edge
// into the named Defect.
//
// Description:
//
//	Walks backward from the defect over incoming edges. A chain is reported
//	once its head Factor has no incoming edge at all, i.e. it is a root
//	cause. Chains are returned in root-to-defect order and exclude the
//	defect.
//
// Inputs:
//
//	ctx - Cancels the wait. The shared enumeration itself runs to completion
//	      for any other callers waiting on it.
//	defectName - Name of the target Defect.
//
// Outputs:
//
//	PathResult - Paths is empty when the defect is unknown, names a Factor,
//	             or has no root-cause chain. Cycles counts branches cut
//	             because they revisited a Factor already on the chain.
//	error - Only the context error.
//
// Limitations:
//
//	The number of simple paths can grow exponentially in dense graphs.
//	WithMaxPaths bounds the result and sets Truncated when hit.
//
// Thread Safety:
//
//	Concurrent calls for the same defect and graph generation share one
//	enumeration.
func (s *Store) CausalPaths(ctx context.Context, defectName string) (PathResult, error) {
	s.mu.RLock()
	gen := s.generation
	s.mu.RUnlock()

	key := fmt.Sprintf("%d\x00%s", gen, defectName)
	ch := s.pathGroup.DoChan(key, func() (any, error) {
		return s.enumeratePaths(defectName), nil
	})

	select {
	case <-ctx.Done():
		return PathResult{}, ctx.Err()
	case r := <-ch:
		shared := r.Val.(PathResult)
		res := PathResult{
			Paths:     make([][]Factor, len(shared.Paths)),
			Cycles:    shared.Cycles,
			Truncated: shared.Truncated,
		}
		for i, p := range shared.Paths {
			res.Paths[i] = append([]Factor(nil), p...)
		}
		return res, nil
	}
}

func (s *Store) enumeratePaths(defectName string) PathResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := PathResult{Paths: make([][]Factor, 0)}
	defectID, ok := s.defectByName[defectName]
	if !ok {
		return res
	}

	// chain holds the path being built, nearest the defect first.
	chain := make([]int64, 0, 8)
	onChain := make(map[int64]bool)

	var walk func(id int64)
	walk = func(id int64) {
		if res.Truncated {
			return
		}
		if onChain[id] {
			res.Cycles++
			return
		}
		onChain[id] = true
		chain = append(chain, id)

		parents := s.incoming[id]
		if len(parents) == 0 {
			if s.maxPaths > 0 && len(res.Paths) >= s.maxPaths {
				res.Truncated = true
			} else {
				res.Paths = append(res.Paths, s.rootFirstLocked(chain))
			}
		} else {
			for _, p := range parents.sorted() {
				walk(p)
			}
		}

		chain = chain[:len(chain)-1]
		delete(onChain, id)
	}

	for _, direct := range s.incoming[defectID].sorted() {
		walk(direct)
	}
	return res
}

func (s *Store) rootFirstLocked(chain []int64) []Factor {
	path := make([]Factor, len(chain))
	for i, id := range chain {
		path[len(chain)-1-i] = s.factorViewLocked(s.factors[id])
	}
	return path
}
