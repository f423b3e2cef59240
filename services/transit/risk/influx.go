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
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/TransitGraph/pkg/validation"
	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
)

// Departure fields stored per observation in the "departures" measurement,
// tagged by route_id. delayed and cancelled are 0/1, so their mean is a rate.
const (
	FieldDelayMin  = "delay_min"
	FieldDelayed   = "delayed"
	FieldCancelled = "cancelled"
	FieldOccupancy = "occupancy"
)

// FluxQuerier runs a Flux query. api.QueryAPI implements it.
type FluxQuerier interface {
	Query(ctx context.Context, query string) (*api.QueryTableResult, error)
}

// InfluxStats reads historical departure stats from InfluxDB.
//
// # Description
//
// One Flux query per route computes the mean of each departure field per
// route id over Window. Legs are combined the same way StaticStats does.
// Route ids with no observations fall back to Fallback.
//
// # Thread Safety
//
// Safe for concurrent use.
type InfluxStats struct {
	querier  FluxQuerier
	bucket   string
	window   time.Duration
	Fallback HistoricalStats

	client influxdb2.Client
}

// NewInfluxStats connects to InfluxDB at url.
func NewInfluxStats(url, token, org, bucket string, window time.Duration) *InfluxStats {
	client := influxdb2.NewClient(url, token)
	s := NewInfluxStatsWithQuerier(client.QueryAPI(org), bucket, window)
	s.client = client
	return s
}

// NewInfluxStatsWithQuerier creates an InfluxStats over an existing querier.
func NewInfluxStatsWithQuerier(q FluxQuerier, bucket string, window time.Duration) *InfluxStats {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &InfluxStats{querier: q, bucket: bucket, window: window}
}

// Close releases the underlying client, if this InfluxStats owns one.
func (s *InfluxStats) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

func (s *InfluxStats) Stats(ctx context.Context, route datatypes.RouteResult) (HistoricalStats, error) {
	all := routeIDs(route)
	if len(all) == 0 {
		return s.Fallback, nil
	}

	// Ids that could break out of the Flux string set are never queried;
	// their legs use Fallback.
	ids, _ := validation.SplitIdentifiers(all)
	byRoute := make(map[string]*HistoricalStats, len(ids))
	if len(ids) > 0 {
		if err := s.query(ctx, ids, byRoute); err != nil {
			return HistoricalStats{}, err
		}
	}

	legs := make([]HistoricalStats, 0, len(all))
	for _, id := range all {
		if st, ok := byRoute[id]; ok {
			legs = append(legs, *st)
		} else {
			legs = append(legs, s.Fallback)
		}
	}
	out := combine(legs)
	out.WeatherFactor = s.Fallback.WeatherFactor
	out.SeasonalityFactor = s.Fallback.SeasonalityFactor
	return out, nil
}

func (s *InfluxStats) query(ctx context.Context, ids []string, byRoute map[string]*HistoricalStats) error {
	result, err := s.querier.Query(ctx, s.flux(ids))
	if err != nil {
		return fmt.Errorf("query departure stats: %w", err)
	}
	defer result.Close()

	for result.Next() {
		rec := result.Record()
		id, _ := rec.ValueByKey("route_id").(string)
		v, ok := toFloat(rec.Value())
		if id == "" || !ok {
			continue
		}
		st := byRoute[id]
		if st == nil {
			st = &HistoricalStats{}
			byRoute[id] = st
		}
		switch rec.Field() {
		case FieldDelayMin:
			st.AvgDelayMin = v
		case FieldDelayed:
			st.DelayFrequency = v
		case FieldCancelled:
			st.CancellationRate = v
		case FieldOccupancy:
			st.AvgOccupancy = v
		}
	}
	if err := result.Err(); err != nil {
		return fmt.Errorf("read departure stats: %w", err)
	}
	return nil
}

func (s *InfluxStats) flux(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: -%s)
  |> filter(fn: (r) => r._measurement == "departures")
  |> filter(fn: (r) => contains(value: r.route_id, set: [%s]))
  |> filter(fn: (r) => r._field == %q or r._field == %q or r._field == %q or r._field == %q)
  |> group(columns: ["route_id", "_field"])
  |> mean()`,
		strconv.Quote(s.bucket), fluxDuration(s.window), strings.Join(quoted, ", "),
		FieldDelayMin, FieldDelayed, FieldCancelled, FieldOccupancy)
}

// fluxDuration renders d as a Flux duration literal in whole seconds.
func fluxDuration(d time.Duration) string {
	return strconv.FormatInt(int64(d/time.Second), 10) + "s"
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

var (
	_ StatsSource = (*InfluxStats)(nil)
	_ FluxQuerier = (api.QueryAPI)(nil)
)
