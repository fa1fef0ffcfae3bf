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
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DylanSoren/QualityControl/pkg/ux"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/narrator"
)

func newNarrateCmd(a *app) *cobra.Command {
	var stream bool
	cmd := &cobra.Command{
		Use:   "narrate DEFECT",
		Short: "Generate a root-cause report for a defect",
		Long: `Enumerate the root-cause chains of DEFECT and ask the configured
language model for a troubleshooting report. With --stream the report is
printed as it is generated.`,
		Example: `  qualitycontrol narrate "Solder bridge"
  qualitycontrol narrate "Cold joint" --stream`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.openService(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			return narrate(cmd.Context(), a.printer, svc.Narrator(), strings.TrimSpace(args[0]), stream)
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "print the report while it is generated")
	return cmd
}

// narrate prints the report for defect. System notices are printed as
// warnings rather than errors.
func narrate(ctx context.Context, p *ux.Printer, n *narrator.Narrator, defect string, stream bool) error {
	if !stream {
		out, err := n.Narrate(ctx, defect)
		if err != nil {
			return err
		}
		if out.Informational() {
			p.Warning(out.Text)
			return nil
		}
		p.Box(defect, out.Text)
		return nil
	}

	events, err := n.NarrateStream(ctx, defect)
	if err != nil {
		return err
	}
	wrote := false
	for ev := range events {
		switch ev.Type {
		case narrator.EventToken:
			p.Text(ev.Content)
			wrote = true
		case narrator.EventInfo:
			p.Warning(ev.Content)
		case narrator.EventError:
			if wrote {
				p.Text("\n")
			}
			return ev.Err
		case narrator.EventDone:
			if wrote {
				p.Text("\n")
			}
		}
	}
	return nil
}
