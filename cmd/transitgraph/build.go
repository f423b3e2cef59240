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
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
	"github.com/AleutianAI/TransitGraph/services/transit/pipeline"
)

func newBuildCmd(c *cli) *cobra.Command {
	var fromFile string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run the graph build pipeline once and publish a new version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromFile != "" {
				c.cfg.Provider.FixturePath = fromFile
			}
			report, err := c.build(cmd.Context())
			if err != nil {
				return c.fail(err)
			}
			if report.Status != pipeline.StateSuccess {
				return fmt.Errorf("pipeline run %s ended %s", report.RunID, report.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fromFile, "from-file", "", "build from a JSON fixture instead of the configured provider")
	return cmd
}

// build runs one pipeline pass and prints its report.
func (c *cli) build(ctx context.Context) (pipeline.RunReport, error) {
	a, err := newApp(ctx, c.cfg, c.logger, appOptions{})
	if err != nil {
		return pipeline.RunReport{}, err
	}
	defer a.Close()

	report, err := a.orchestrator.Trigger(ctx)
	if err != nil {
		return report, err
	}
	c.printReport(report)
	return report, nil
}

func (c *cli) printReport(report pipeline.RunReport) {
	rows := make([][]string, 0, len(report.Stages))
	for _, s := range report.Stages {
		status := "ok"
		if !s.Success {
			status = "failed"
		}
		rows = append(rows, []string{s.Name, status, fmt.Sprintf("%dms", s.DurationMs), s.Message})
	}
	c.printer.Title("Pipeline run " + report.RunID)
	c.printer.Table([]string{"STAGE", "STATUS", "DURATION", "MESSAGE"}, rows)

	var summary strings.Builder
	fmt.Fprintf(&summary, "data mode %s, quality %.0f", report.Mode, float64(report.Quality))
	if report.Version != nil {
		fmt.Fprintf(&summary, ", version %d (%d nodes, %d edges)",
			report.Version.Version, report.Version.NodeCount, report.Version.EdgeCount)
	}

	switch {
	case report.Status != pipeline.StateSuccess:
		msg := "pipeline " + string(report.Status)
		if report.Error != "" {
			msg += ": " + report.Error
		}
		c.printer.Error(msg)
	case report.Mode != "" && report.Mode != datatypes.ModeReal:
		c.printer.Warning(summary.String())
	default:
		c.printer.Success(summary.String())
	}
}
