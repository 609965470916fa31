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
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/manipulative/pkg/logging"
	"github.com/AleutianAI/manipulative/pkg/ux"
	"github.com/AleutianAI/manipulative/services/manipulative/config"
)

// skipConfigAnnotation marks commands that must run without a valid
// configuration, such as writing a fresh one.
const skipConfigAnnotation = "manipulative/skip-config"

// app holds the state shared by every subcommand once the root's
// PersistentPreRunE has run.
type app struct {
	configPath string
	logLevel   string
	output     string

	cfg     *config.Config
	logger  *logging.Logger
	printer *ux.Printer
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "manipulative",
		Short: "Live style editing for JSX and TSX sources",
		Long: `manipulative rewrites css__ placeholder attributes into runtime hooks so
styles can be edited in the browser, then writes the edited styles back
into the source files through its commit server.

  manipulative instrument src --out .instrumented   rewrite a tree
  manipulative serve                                run the commit server
  manipulative keys src/App.tsx                     list editable sites`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ./manipulative.yaml, then ~/.manipulative/config.yaml)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level override: debug, info, warn, error")
	pf.StringVar(&a.output, "output", "", "output style: rich, plain or machine (default: detected)")

	root.AddCommand(
		newServeCmd(a),
		newInstrumentCmd(a),
		newKeysCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration and builds the logger and printer.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	var cfg *config.Config
	if cmd.Annotations[skipConfigAnnotation] == "true" {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}

	lc := logging.Config{
		Level:   level,
		Service: "manipulative",
		JSON:    cfg.Logging.JSON,
		Writer:  cmd.ErrOrStderr(),
	}
	// Only the long-running server keeps a log file.
	if cmd.Name() == "serve" {
		lc.LogDir = cfg.Logging.Dir
	}

	a.cfg = cfg
	a.logger = logging.New(lc)

	outLevel := ux.DetectLevel(os.Stdout)
	if a.output != "" {
		outLevel = ux.ParseLevel(a.output)
	}
	a.printer = ux.NewPrinter(cmd.OutOrStdout(), outLevel)
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Annotations: map[string]string{
			skipConfigAnnotation: "true",
		},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("manipulative " + version)
		},
	}
}
