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

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/DylanSoren/QualityControl/services/qualitycontrol/seed"
)

// errNotConfirmed is returned when a destructive action is declined.
var errNotConfirmed = errors.New("aborted: clearing the graph was not confirmed")

// confirmFunc asks the user a yes/no question.
type confirmFunc func(title string) (bool, error)

func huhConfirm(title string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	return ok, err
}

func newSeedCmd(a *app) *cobra.Command {
	var (
		source     string
		clearFirst bool
		yes        bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import a seed document into the graph",
		Long: `Import relationship records from a JSON or YAML seed document.

The source is a local path or a gs://bucket/object URL and defaults to
seed.source from the config. With --clear the graph is emptied first, but
only after the document parsed successfully.`,
		Example: `  qualitycontrol seed --source data/initialData.json
  qualitycontrol seed --clear --yes --source gs://qc-data/initialData.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if source == "" {
				source = a.cfg.Seed.Source
			}
			if source == "" {
				return errors.New("no seed source: pass --source or set seed.source")
			}
			if clearFirst && !yes {
				if !isInteractive(cmd.InOrStdin()) {
					return fmt.Errorf("%w (pass --yes when not running in a terminal)", errNotConfirmed)
				}
				ok, err := a.confirm(fmt.Sprintf("Delete every node before importing %s?", source))
				if err != nil {
					return err
				}
				if !ok {
					return errNotConfirmed
				}
			}

			src, err := seed.NewSource(source, a.cfg.Seed.CredentialsFile)
			if err != nil {
				return err
			}

			// Startup seeding is disabled so the import below is the only one.
			cfg := a.cfg
			cfg.Seed.Source = ""
			svc, err := a.openService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			loader := seed.NewLoader(svc.Store(), src, seed.WithLogger(a.logger.Slog()))
			res, err := loader.Load(cmd.Context(), clearFirst)
			if err != nil {
				return err
			}

			a.printer.Success("Imported " + src.Name())
			a.printer.KeyValue("records", res.Records)
			a.printer.KeyValue("factors", res.Factors)
			a.printer.KeyValue("defects", res.Defects)
			a.printer.KeyValue("edges", res.Edges)
			return nil
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "seed document path or gs:// URL")
	cmd.Flags().BoolVar(&clearFirst, "clear", false, "delete every node before importing")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation for --clear")
	return cmd
}
