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
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newVersionsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List stored graph versions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c.cfg, c.logger, appOptions{})
			if err != nil {
				return c.fail(err)
			}
			defer a.Close()

			metas, err := a.versions.Versions(cmd.Context())
			if err != nil {
				return c.fail(err)
			}
			if len(metas) == 0 {
				c.printer.Warning("no graph versions stored; run `transitgraph build`")
				return nil
			}

			current := a.versions.CurrentVersion()
			rows := make([][]string, 0, len(metas))
			for _, m := range metas {
				marker := ""
				if m.Version == current {
					marker = "*"
				}
				rows = append(rows, []string{
					marker,
					strconv.FormatUint(m.Version, 10),
					strconv.Itoa(m.NodeCount),
					strconv.Itoa(m.EdgeCount),
					string(m.Mode),
					fmt.Sprintf("%.0f", float64(m.Quality)),
					m.BuiltAt.Local().Format(time.DateTime),
				})
			}
			c.printer.Table([]string{"", "VERSION", "NODES", "EDGES", "MODE", "QUALITY", "BUILT"}, rows)
			return nil
		},
	}
}

func newPruneCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete graph versions outside the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c.cfg, c.logger, appOptions{})
			if err != nil {
				return c.fail(err)
			}
			defer a.Close()

			pruned, err := a.versions.Prune(cmd.Context())
			if err != nil {
				return c.fail(err)
			}
			if len(pruned) == 0 {
				c.printer.Success("nothing to prune")
				return nil
			}
			c.printer.Success(fmt.Sprintf("pruned %d version(s): %v", len(pruned), pruned))
			return nil
		},
	}
}

func newRollbackCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback VERSION",
		Short: "Make a retained older graph version current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || v == 0 {
				return c.fail(fmt.Errorf("version must be a positive integer, got %q", args[0]))
			}

			a, err := newApp(cmd.Context(), c.cfg, c.logger, appOptions{})
			if err != nil {
				return c.fail(err)
			}
			defer a.Close()

			from := a.versions.CurrentVersion()
			if err := a.versions.Rollback(cmd.Context(), v); err != nil {
				return c.fail(err)
			}
			c.printer.Success(fmt.Sprintf("current graph version %d -> %d", from, v))
			return nil
		},
	}
}
