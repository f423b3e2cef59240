// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command transitgraph builds versioned transport route graphs and serves
// route search over them.
//
// Usage:
//
//	transitgraph serve --config transitgraph.yaml
//	transitgraph build --from-file fixtures/alaska.json
//	transitgraph search Anchorage Juneau --date 2026-03-01 --passengers 2
//	transitgraph versions
//	transitgraph prune
//	transitgraph rollback 3
//
// With no provider configured every graph is built from synthetic data
// over source.mock_cities, so a fresh checkout works offline:
//
//	TRANSITGRAPH_IN_MEMORY=true transitgraph search Anchorage Fairbanks
//
// Example requests against a running server:
//
//	curl 'http://localhost:8080/v1/routes/search?from=Anchorage&to=Juneau'
//	curl -X POST http://localhost:8080/v1/pipeline/runs
//	curl http://localhost:8080/v1/diagnostics | jq
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/TransitGraph/pkg/logging"
	"github.com/AleutianAI/TransitGraph/pkg/ux"
	"github.com/AleutianAI/TransitGraph/services/transit/config"
)

// Set by -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries state shared by every subcommand.
type cli struct {
	configPath string
	output     string

	cfg     config.Config
	logs    *logging.Logger
	logger  *slog.Logger
	printer *ux.Printer

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "transitgraph",
		Short: "Build versioned transport route graphs and search them",
		Long: `transitgraph loads stops and routes from an upstream provider, falling
back to cached or synthetic data when quality drops, builds an immutable
versioned route graph and answers route searches over it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logs != nil {
				_ = c.logs.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", os.Getenv("TRANSITGRAPH_CONFIG"), "path to YAML config")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", "", "output style: rich or plain (default: rich on a terminal)")

	root.AddCommand(
		newServeCmd(c),
		newBuildCmd(c),
		newSearchCmd(c),
		newVersionsCmd(c),
		newPruneCmd(c),
		newRollbackCmd(c),
		&cobra.Command{
			Use:   "version",
			Short: "Print the transitgraph version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(c.stdout, version)
			},
		},
	)

	root.SetOut(stdout)
	root.SetErr(stderr)
	return root
}

// init loads config and sets up logging and output.
func (c *cli) init() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return c.fail(err)
	}
	c.cfg = cfg
	c.cfg.Telemetry.ServiceVersion = version

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return c.fail(err)
	}
	c.logs = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "transitgraph",
		JSON:    cfg.Logging.JSON,
		Output:  c.stderr,
	})
	c.logger = c.logs.Slog()

	mode := ux.ModePlain
	if f, ok := c.stdout.(*os.File); ok {
		mode = ux.DetectMode(f)
	}
	if c.output != "" {
		mode = ux.ParseMode(c.output)
	}
	c.printer = ux.NewPrinter(c.stdout, mode)
	return nil
}

// fail prints err and returns it so cobra exits non-zero.
func (c *cli) fail(err error) error {
	if c.printer != nil {
		c.printer.Error(err.Error())
	} else {
		fmt.Fprintf(c.stderr, "ERROR: %v\n", err)
	}
	return err
}
