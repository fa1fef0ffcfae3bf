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
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

const propFactors = 7

// buildDAG wires factors F0..F6 with an edge Fi->Fj (i<j) for every set
// bit in pairBits, and Fi->DEFECT for every set bit in defectBits.
func buildDAG(pairBits, defectBits []bool) (*Store, map[string][]string) {
	ctx := context.Background()
	s := New()
	parents := make(map[string][]string)
	name := func(i int) string { return fmt.Sprintf("F%d", i) }

	for i := 0; i < propFactors; i++ {
		_, _ = s.UpsertFactor(ctx, FactorInput{Name: name(i)})
	}
	_, _ = s.UpsertDefect(ctx, DefectInput{Name: "DEFECT"})

	k := 0
	for i := 0; i < propFactors; i++ {
		for j := i + 1; j < propFactors; j++ {
			if bit(pairBits, k) {
				_ = s.Relate(ctx, name(i), name(j))
				parents[name(j)] = append(parents[name(j)], name(i))
			}
			k++
		}
	}
	for i := 0; i < propFactors; i++ {
		if bit(defectBits, i) {
			_ = s.Relate(ctx, name(i), "DEFECT")
			parents["DEFECT"] = append(parents["DEFECT"], name(i))
		}
	}
	return s, parents
}

// countRootPaths counts root-to-node chains by dynamic programming over
// the parent lists, independently of the enumerator.
func countRootPaths(parents map[string][]string, node string, memo map[string]int) int {
	if v, ok := memo[node]; ok {
		return v
	}
	ps := parents[node]
	if len(ps) == 0 {
		memo[node] = 1
		return 1
	}
	total := 0
	for _, p := range ps {
		total += countRootPaths(parents, p, memo)
	}
	memo[node] = total
	return total
}

func TestCausalPaths_Properties(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	pairs := propFactors * (propFactors - 1) / 2

	properties.Property("every path starts at a root and is an edge chain into the defect", prop.ForAll(
		func(pairBits, defectBits []bool) bool {
			s, parents := buildDAG(pairBits, defectBits)
			res, err := s.CausalPaths(context.Background(), "DEFECT")
			if err != nil || res.Cycles != 0 {
				return false
			}
			for _, p := range res.Paths {
				if len(p) == 0 || len(parents[p[0].Name]) != 0 {
					return false
				}
				for i := 0; i+1 < len(p); i++ {
					if !contains(p[i].CausesFactor, p[i+1].Name) {
						return false
					}
				}
				if !contains(p[len(p)-1].CausesDefect, "DEFECT") {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(pairs, gen.Bool()),
		gen.SliceOfN(propFactors, gen.Bool()),
	))

	properties.Property("enumeration is complete and duplicate free", prop.ForAll(
		func(pairBits, defectBits []bool) bool {
			s, parents := buildDAG(pairBits, defectBits)
			res, err := s.CausalPaths(context.Background(), "DEFECT")
			if err != nil {
				return false
			}
			want := 0
			if len(parents["DEFECT"]) > 0 {
				want = countRootPaths(parents, "DEFECT", map[string]int{})
			}
			seen := make(map[string]bool)
			for _, name := range pathNames(res.Paths) {
				if seen[name] {
					return false
				}
				seen[name] = true
			}
			return len(res.Paths) == want
		},
		gen.SliceOfN(pairs, gen.Bool()),
		gen.SliceOfN(propFactors, gen.Bool()),
	))

	properties.TestingRun(t)
}

func bit(bits []bool, i int) bool {
	return i < len(bits) && bits[i]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
