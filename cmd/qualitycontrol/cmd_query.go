// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/DylanSoren/QualityControl/pkg/ux"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/datatypes"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/graph"
)

func newPathsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "paths DEFECT",
		Short: "List the root-cause chains of a defect",
		Long: `List every chain of factors that runs from a root cause to the factor
directly causing DEFECT. Each chain is printed root first.`,
		Example: `  qualitycontrol paths "Solder bridge"
  qualitycontrol paths "Solder bridge" --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defect := strings.TrimSpace(args[0])
			svc, err := a.openService(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.Store().CausalPaths(cmd.Context(), defect)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a.printer.Writer(), datatypes.PathsResponse{
					Defect:    defect,
					Paths:     res.Paths,
					Cycles:    res.Cycles,
					Truncated: res.Truncated,
				})
			}
			printPaths(a.printer, defect, res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the chains as JSON")
	return cmd
}

// printPaths renders res for defect, one line per chain.
func printPaths(p *ux.Printer, defect string, res graph.PathResult) {
	if len(res.Paths) == 0 {
		p.Warning(fmt.Sprintf("No causal chains recorded for %q", defect))
		return
	}
	p.Title(fmt.Sprintf("Causal chains for %s", defect))
	for i, path := range res.Paths {
		names := make([]string, len(path))
		for j, f := range path {
			names[j] = f.Name
		}
		p.Chain(i+1, names, defect)
	}
	if res.Cycles > 0 {
		p.Warning(fmt.Sprintf("%d cyclic branch(es) skipped", res.Cycles))
	}
	if res.Truncated {
		p.Warning("Result truncated at the configured path limit")
	}
}

func newSnapshotCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print every node and link in the graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported format %q (want json or yaml)", format)
			}
			svc, err := a.openService(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			snap := svc.Store().Snapshot(cmd.Context())
			if format == "yaml" {
				return writeYAML(a.printer.Writer(), snap)
			}
			return writeJSON(a.printer.Writer(), snap)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or yaml")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAML renders v through its JSON form so field names and the node
// encoding match the HTTP API.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}
