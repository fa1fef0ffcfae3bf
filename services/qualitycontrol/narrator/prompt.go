// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package narrator

import (
	"fmt"
	"strings"

	"github.com/DylanSoren/QualityControl/services/llm"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/graph"
)

// systemPrompt sets the persona and report rules for every narration.
const systemPrompt = `You are an experienced quality-control expert for PCB manufacturing.
Using the causal path information retrieved from the graph database, explain to shop-floor staff the root causes that lead to the given defect type.
Requirements:
1. Style: plain and practical, professional but not academic, easy for production workers to read.
2. Structure: if there are several cause chains, explain them point by point.
3. Evidence: when a path carries a standard or a description, cite it in your explanation as the basis for the judgement.
4. Recommendation: finish with one short troubleshooting recommendation.`

const userPromptFormat = "The detected defect type is: %s\nCandidate cause paths from the graph database:\n%s\nPlease analyse and write the report."

// Informational messages returned instead of a generated narrative.
const (
	unknownDefectFormat       = `System notice: no defect type named "%s" was found in the knowledge base, so no causal analysis is possible. Please check the name.`
	unknownDefectStreamFormat = `System notice: defect type "%s" was not found.`
	noPathsFormat             = `System notice: defect "%s" exists, but no causal chain leading to it has been recorded yet.`
	noPathsStream             = `System notice: no causal path data was found.`
)

// FormatPaths renders chains one per line as
// "Path N: A (standard: ...) (note: ...) -> B". Empty attributes are
// omitted.
func FormatPaths(paths [][]graph.Factor) string {
	var sb strings.Builder
	for i, path := range paths {
		fmt.Fprintf(&sb, "Path %d: ", i+1)
		for j, f := range path {
			if j > 0 {
				sb.WriteString(" -> ")
			}
			sb.WriteString(f.Name)
			if f.Standard != "" {
				fmt.Fprintf(&sb, " (standard: %s)", f.Standard)
			}
			if f.Description != "" {
				fmt.Fprintf(&sb, " (note: %s)", f.Description)
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// BuildMessages returns the system and user turns for defect and its paths.
func BuildMessages(defect string, paths [][]graph.Factor) []llm.Message {
	return []llm.Message{
		llm.SystemMessage(systemPrompt),
		llm.UserMessage(fmt.Sprintf(userPromptFormat, defect, FormatPaths(paths))),
	}
}
