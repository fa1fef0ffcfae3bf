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
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

const exploreHistory = 100

func newExploreCmd(a *app) *cobra.Command {
	var noNarrate bool
	cmd := &cobra.Command{
		Use:   "explore",
		Short: "Interactively look up defects",
		Long: `Read defect names one per line, print their root-cause chains and stream
a report for each. Enter "quit" or press Ctrl+D to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := a.openService(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			st := svc.Store().Stats(ctx)
			a.printer.Info(fmt.Sprintf("Graph has %d factors, %d defects and %d links", st.Factors, st.Defects, st.Edges))

			in := newInputReader(cmd.InOrStdin(), cmd.ErrOrStderr(), exploreHistory)
			for {
				line, err := in.ReadLine()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				switch strings.ToLower(line) {
				case "":
					continue
				case "quit", "exit":
					return nil
				}

				res, err := svc.Store().CausalPaths(ctx, line)
				if err != nil {
					return err
				}
				printPaths(a.printer, line, res)
				if noNarrate || len(res.Paths) == 0 {
					continue
				}
				// A failed report does not end the session.
				if err := narrate(ctx, a.printer, svc.Narrator(), line, true); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					a.printer.Error(err.Error())
				}
			}
		},
	}
	cmd.Flags().BoolVar(&noNarrate, "no-narrate", false, "only print the chains")
	return cmd
}
