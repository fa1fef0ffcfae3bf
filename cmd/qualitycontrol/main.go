// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command qualitycontrol serves and queries the manufacturing-defect
// causal knowledge graph.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/DylanSoren/QualityControl/pkg/logging"
	"github.com/DylanSoren/QualityControl/pkg/ux"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/config"
)

func main() {
	if err := newRootCmd(&app{}).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app carries state shared by every command.
type app struct {
	configPath string
	output     string
	logLevel   string
	storage    string
	inMemory   bool

	cfg     config.Config
	logger  *logging.Logger
	printer *ux.Printer

	// opts are appended to every service built by openService.
	opts []qualitycontrol.Option
	// confirm asks yes/no questions. Default: a huh prompt.
	confirm confirmFunc
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "qualitycontrol",
		Short: "Causal knowledge graph for manufacturing defects",
		Long: `qualitycontrol stores factors, defects and the causal links between them,
enumerates root-cause chains for a defect and asks a language model to
turn those chains into a troubleshooting report.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { a.teardown() },
	}
	root.Version = qualitycontrol.Version

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", os.Getenv("QC_CONFIG"), "path to the YAML config file")
	pf.StringVar(&a.output, "output", "auto", "output style: auto, styled or plain")
	pf.StringVar(&a.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	pf.StringVar(&a.storage, "storage", "", "override the badger data directory")
	pf.BoolVar(&a.inMemory, "in-memory", false, "keep the graph in memory only")

	root.AddCommand(
		newServeCmd(a),
		newSeedCmd(a),
		newPathsCmd(a),
		newSnapshotCmd(a),
		newNarrateCmd(a),
		newExploreCmd(a),
	)
	return root
}

// setup loads config, applies flag overrides and builds the logger and
// printer.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.storage != "" {
		cfg.Storage.Path = a.storage
		cfg.Storage.InMemory = false
	}
	if a.inMemory {
		cfg.Storage.InMemory = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: qualitycontrol.ServiceName,
		JSON:    cfg.Log.JSON,
		Output:  cmd.ErrOrStderr(),
	})
	slog.SetDefault(a.logger.Slog())

	out := cmd.OutOrStdout()
	a.printer = ux.NewPrinter(out, ux.ParseMode(a.output, fileOf(out)))
	if a.confirm == nil {
		a.confirm = huhConfirm
	}
	return nil
}

func (a *app) teardown() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// openService builds the service from the loaded config.
func (a *app) openService(ctx context.Context, cfg config.Config) (*qualitycontrol.Service, error) {
	opts := append([]qualitycontrol.Option{qualitycontrol.WithLogger(a.logger.Slog())}, a.opts...)
	return qualitycontrol.New(ctx, cfg, opts...)
}

// fileOf returns w as a file when it is one, for terminal detection.
func fileOf(w io.Writer) *os.File {
	if f, ok := w.(*os.File); ok {
		return f
	}
	return nil
}

// isInteractive reports whether r is a terminal.
func isInteractive(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
