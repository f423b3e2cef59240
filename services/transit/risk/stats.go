// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package risk

import (
	"context"
	"sort"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
)

// StatsSource supplies historical stats for a route.
type StatsSource interface {
	Stats(ctx context.Context, route datatypes.RouteResult) (HistoricalStats, error)
}

// StaticStats serves fixed per-route-id stats. Route ids without an entry
// use Default. The multipliers of Default apply to every route.
type StaticStats struct {
	ByRoute map[string]HistoricalStats
	Default HistoricalStats
}

// NationalAverages returns the fallback stats used when no historical
// store is configured: 12 min average delay, one trip in five delayed,
// 2% cancellations, 65% occupancy.
func NationalAverages() *StaticStats {
	return &StaticStats{Default: HistoricalStats{
		AvgDelayMin:      12,
		DelayFrequency:   0.2,
		CancellationRate: 0.02,
		AvgOccupancy:     0.65,
	}}
}

func (s *StaticStats) Stats(ctx context.Context, route datatypes.RouteResult) (HistoricalStats, error) {
	ids := routeIDs(route)
	per := make([]HistoricalStats, 0, len(ids))
	for _, id := range ids {
		st, ok := s.ByRoute[id]
		if !ok {
			st = s.Default
		}
		per = append(per, st)
	}
	out := combine(per)
	out.WeatherFactor = s.Default.WeatherFactor
	out.SeasonalityFactor = s.Default.SeasonalityFactor
	return out, nil
}

// routeIDs returns the distinct non-transfer route ids of a route, sorted.
func routeIDs(route datatypes.RouteResult) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, seg := range route.Segments {
		if seg.Transfer || seen[seg.RouteID] {
			continue
		}
		seen[seg.RouteID] = true
		ids = append(ids, seg.RouteID)
	}
	sort.Strings(ids)
	return ids
}

// combine merges per-leg stats into whole-route stats.
//
// Delays add up along the route. A route is delayed or cancelled if any
// leg is, assuming independent legs. Occupancy is the fullest leg.
func combine(legs []HistoricalStats) HistoricalStats {
	var out HistoricalStats
	onTime, running := 1.0, 1.0
	for _, l := range legs {
		out.AvgDelayMin += l.AvgDelayMin
		onTime *= 1 - clamp01(l.DelayFrequency)
		running *= 1 - clamp01(l.CancellationRate)
		if l.AvgOccupancy > out.AvgOccupancy {
			out.AvgOccupancy = l.AvgOccupancy
		}
	}
	if len(legs) > 0 {
		out.DelayFrequency = 1 - onTime
		out.CancellationRate = 1 - running
	}
	return out
}

var _ StatsSource = (*StaticStats)(nil)
