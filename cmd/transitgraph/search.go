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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/TransitGraph/pkg/ux"
	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
	"github.com/AleutianAI/TransitGraph/services/transit/faults"
	"github.com/AleutianAI/TransitGraph/services/transit/search"
)

type searchFlags struct {
	date           string
	passengers     int
	buildIfMissing bool
}

func newSearchCmd(c *cli) *cobra.Command {
	var f searchFlags
	cmd := &cobra.Command{
		Use:   "search FROM TO",
		Short: "Search routes between two cities in the current graph",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := c.search(cmd.Context(), args[0], args[1], f)
			if err != nil {
				c.printer.Error(userError(err))
				return err
			}
			c.printSearch(args[0], args[1], resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.date, "date", "", "travel date YYYY-MM-DD (default today)")
	cmd.Flags().IntVarP(&f.passengers, "passengers", "p", 1, "number of passengers")
	cmd.Flags().BoolVar(&f.buildIfMissing, "build-if-missing", true, "run the pipeline first when no graph version exists")
	return cmd
}

func (c *cli) search(ctx context.Context, from, to string, f searchFlags) (*search.Response, error) {
	date := strfmt.Date(time.Now().UTC())
	if f.date != "" {
		if err := date.UnmarshalText([]byte(f.date)); err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", search.ErrInvalidQuery)
		}
	}

	a, err := newApp(ctx, c.cfg, c.logger, appOptions{})
	if err != nil {
		return nil, err
	}
	defer a.Close()

	if f.buildIfMissing && a.versions.CurrentVersion() == 0 {
		report, err := a.orchestrator.Trigger(ctx)
		if err != nil {
			return nil, err
		}
		c.logger.Info("built graph for search", "version", a.versions.CurrentVersion(), "mode", report.Mode)
	}

	return a.engine.SearchWithRetry(ctx, search.Query{
		From:       from,
		To:         to,
		Date:       date.String(),
		Passengers: f.passengers,
	}, faults.DefaultBackoffConfig())
}

// userError keeps internals out of CLI output for boundary errors.
func userError(err error) string {
	if errors.Is(err, search.ErrInvalidQuery) {
		return err.Error()
	}
	if faults.CrossesBoundary(err) {
		return faults.UserMessage(err)
	}
	return err.Error()
}

func (c *cli) printSearch(from, to string, resp *search.Response) {
	c.printer.Title(fmt.Sprintf("%s %s %s", from, ux.IconArrow, to))
	if resp.Code == faults.KindRoutesNotFound || len(resp.Routes) == 0 {
		c.printer.Warning(faults.UserMessage(faults.RoutesNotFound(from, to)))
		return
	}

	all := append(append([]datatypes.RouteResult{}, resp.Routes...), resp.Alternatives...)
	rows := make([][]string, 0, len(all))
	for _, r := range all {
		rows = append(rows, routeRow(r))
	}
	c.printer.Table([]string{"OPTION", "DURATION", "PRICE", "TRANSFERS", "LEGS", "RISK"}, rows)

	status := fmt.Sprintf("graph v%d, data %s (quality %.0f)", resp.GraphVersion, resp.DataMode, float64(resp.DataQuality))
	if resp.DataMode == datatypes.ModeReal {
		c.printer.Info(status)
	} else {
		c.printer.Warning(status)
	}
}

// routeRow renders one result. LEGS lists the route ids in travel order,
// with transfers omitted.
func routeRow(r datatypes.RouteResult) []string {
	var legs []string
	for _, seg := range r.Segments {
		if seg.Transfer {
			continue
		}
		if n := len(legs); n > 0 && legs[n-1] == seg.RouteID {
			continue
		}
		legs = append(legs, seg.RouteID)
	}
	riskCol := "-"
	if r.Risk != nil {
		riskCol = fmt.Sprintf("%.1f %s", r.Risk.Score, r.Risk.Level)
	}
	return []string{
		r.Label,
		formatMinutes(r.TotalDurationMin),
		fmt.Sprintf("%.2f", r.TotalPrice),
		fmt.Sprintf("%d", r.TransferCount),
		strings.Join(legs, " > "),
		riskCol,
	}
}

func formatMinutes(m int) string {
	if m < 60 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh%02dm", m/60, m%60)
}
