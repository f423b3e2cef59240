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
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
)

func ptr(f float64) *float64 { return &f }

func twoLegRoute() datatypes.RouteResult {
	return datatypes.RouteResult{
		Segments: []datatypes.Edge{
			{RouteID: "R1", FromStopID: "A1", ToStopID: "B1", Transport: datatypes.TransportBus, DurationMin: 60, Price: 10},
			{RouteID: "transfer", FromStopID: "B1", ToStopID: "hub", Transfer: true},
			{RouteID: "R2", FromStopID: "B2", ToStopID: "C1", Transport: datatypes.TransportRail, DurationMin: 90, Price: 20},
		},
		TransferCount: 1,
	}
}

func typicalStats() HistoricalStats {
	return HistoricalStats{AvgDelayMin: 12, DelayFrequency: 0.25, CancellationRate: 0.02, AvgOccupancy: 0.6}
}

// TestLevel_Exceeds tests risk level comparison.
func TestLevel_Exceeds(t *testing.T) {
	tests := []struct {
		level     Level
		threshold Level
		want      bool
	}{
		{LevelLow, LevelLow, false},
		{LevelMedium, LevelLow, true},
		{LevelHigh, LevelMedium, true},
		{LevelCritical, LevelHigh, true},
		{LevelLow, LevelHigh, false},
		{LevelMedium, LevelCritical, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.level)+"_exceeds_"+string(tt.threshold), func(t *testing.T) {
			if got := tt.level.Exceeds(tt.threshold); got != tt.want {
				t.Errorf("Level(%s).Exceeds(%s) = %v, want %v",
					tt.level, tt.threshold, got, tt.want)
			}
		})
	}
}

// TestParseLevel tests level parsing.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"low", LevelLow},
		{"MEDIUM", LevelMedium},
		{"High", LevelHigh},
		{"critical", LevelCritical},
		{"invalid", LevelHigh},
		{"", LevelHigh},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{0, LevelLow},
		{2.9, LevelLow},
		{3.0, LevelMedium},
		{5.4, LevelMedium},
		{5.5, LevelHigh},
		{7.9, LevelHigh},
		{8.0, LevelCritical},
		{10, LevelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, levelFor(tt.score), "score %.1f", tt.score)
	}
}

// =============================================================================
// Assess
// =============================================================================

func TestAssess_Typical(t *testing.T) {
	a := Assess(twoLegRoute(), typicalStats(), DefaultConfig())

	assert.InDelta(t, 2.7, a.Score, 1e-9)
	assert.Equal(t, string(LevelLow), a.Level)
	assert.Equal(t, Descriptions[LevelLow], a.Description)
	assert.Equal(t, AlgorithmVersion, a.AlgorithmVersion)
	assert.Equal(t, 1, a.Factors.TransferCount)
	assert.Equal(t, []string{"No special precautions needed."}, a.Recommendations)
}

func TestAssess_Deterministic(t *testing.T) {
	stats := typicalStats()
	stats.WeatherFactor = ptr(1.2)
	first := Assess(twoLegRoute(), stats, DefaultConfig())
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Assess(twoLegRoute(), stats, DefaultConfig()))
	}
}

func TestAssess_Bounds(t *testing.T) {
	worst := HistoricalStats{
		AvgDelayMin: 500, DelayFrequency: 3, CancellationRate: 1, AvgOccupancy: 2,
		WeatherFactor: ptr(9), SeasonalityFactor: ptr(9),
	}
	route := twoLegRoute()
	route.TransferCount = 12

	a := Assess(route, worst, DefaultConfig())
	assert.Equal(t, MaxScore, a.Score)
	assert.Equal(t, string(LevelCritical), a.Level)
	assert.Contains(t, a.Recommendations, "Consider an alternative route.")

	best := HistoricalStats{AvgDelayMin: -5, DelayFrequency: -1, WeatherFactor: ptr(0.2)}
	route.TransferCount = 0
	a = Assess(route, best, DefaultConfig())
	assert.Equal(t, 0.0, a.Score)
	assert.Equal(t, string(LevelLow), a.Level)
}

func TestAssess_MultipliersCappedAndNeverReduce(t *testing.T) {
	cfg := DefaultConfig()
	base := Assess(twoLegRoute(), typicalStats(), cfg).Score

	stats := typicalStats()
	stats.WeatherFactor = ptr(0.5)
	assert.Equal(t, base, Assess(twoLegRoute(), stats, cfg).Score, "multiplier below 1 is ignored")

	stats.WeatherFactor = ptr(cfg.MaxWeatherFactor)
	capped := Assess(twoLegRoute(), stats, cfg).Score
	stats.WeatherFactor = ptr(cfg.MaxWeatherFactor * 4)
	assert.Equal(t, capped, Assess(twoLegRoute(), stats, cfg).Score)
	assert.Greater(t, capped, base)
}

func TestAssess_MonotoneInEachFactor(t *testing.T) {
	cfg := DefaultConfig()
	steps := []float64{0, 0.05, 0.1, 0.2, 0.35, 0.5, 0.75, 1, 1.5}

	bump := map[string]func(s *HistoricalStats, r *datatypes.RouteResult, v float64){
		"transfers":     func(s *HistoricalStats, r *datatypes.RouteResult, v float64) { r.TransferCount = int(v * 4) },
		"delay_avg":     func(s *HistoricalStats, r *datatypes.RouteResult, v float64) { s.AvgDelayMin = v * 80 },
		"delay_freq":    func(s *HistoricalStats, r *datatypes.RouteResult, v float64) { s.DelayFrequency = v },
		"cancellations": func(s *HistoricalStats, r *datatypes.RouteResult, v float64) { s.CancellationRate = v / 4 },
		"occupancy":     func(s *HistoricalStats, r *datatypes.RouteResult, v float64) { s.AvgOccupancy = v },
		"weather":       func(s *HistoricalStats, r *datatypes.RouteResult, v float64) { s.WeatherFactor = ptr(1 + v) },
		"seasonality":   func(s *HistoricalStats, r *datatypes.RouteResult, v float64) { s.SeasonalityFactor = ptr(1 + v) },
	}

	for name, apply := range bump {
		t.Run(name, func(t *testing.T) {
			prev := -1.0
			for _, v := range steps {
				stats := typicalStats()
				route := twoLegRoute()
				apply(&stats, &route, v)
				score := Assess(route, stats, cfg).Score
				assert.GreaterOrEqual(t, score, prev, "%s=%v lowered the score", name, v)
				assert.GreaterOrEqual(t, score, 0.0)
				assert.LessOrEqual(t, score, MaxScore)
				prev = score
			}
		})
	}
}

func TestAssess_ZeroConfigUsesDefaults(t *testing.T) {
	assert.Equal(t,
		Assess(twoLegRoute(), typicalStats(), DefaultConfig()),
		Assess(twoLegRoute(), typicalStats(), Config{}))
}

func TestRecommend(t *testing.T) {
	route := twoLegRoute()
	route.TransferCount = 2
	stats := HistoricalStats{AvgDelayMin: 20, DelayFrequency: 0.4, CancellationRate: 0.1, AvgOccupancy: 0.9, WeatherFactor: ptr(1.1)}

	recs := recommend(route, stats, LevelMedium)
	assert.Len(t, recs, 6)
	assert.Equal(t, "Allow at least 45 minutes for each connection.", recs[0])
	assert.Equal(t, "Expect delays averaging 20 minutes.", recs[1])
}

// =============================================================================
// CacheKey
// =============================================================================

func TestCacheKey(t *testing.T) {
	route, stats := twoLegRoute(), typicalStats()
	key := CacheKey(route, stats)
	assert.Len(t, key, 64)
	assert.Equal(t, key, CacheKey(twoLegRoute(), typicalStats()))

	other := typicalStats()
	other.AvgOccupancy = 0.61
	assert.NotEqual(t, key, CacheKey(route, other))

	other = typicalStats()
	other.WeatherFactor = ptr(1)
	assert.NotEqual(t, key, CacheKey(route, other), "nil and 1.0 multipliers are distinct inputs")

	shorter := twoLegRoute()
	shorter.Segments = shorter.Segments[:1]
	assert.NotEqual(t, key, CacheKey(shorter, stats))
}

// =============================================================================
// Stats sources
// =============================================================================

func TestStaticStats_CombinesLegs(t *testing.T) {
	src := &StaticStats{
		ByRoute: map[string]HistoricalStats{
			"R1": {AvgDelayMin: 10, DelayFrequency: 0.5, CancellationRate: 0.1, AvgOccupancy: 0.4},
			"R2": {AvgDelayMin: 5, DelayFrequency: 0.5, CancellationRate: 0.1, AvgOccupancy: 0.9},
		},
		Default: HistoricalStats{SeasonalityFactor: ptr(1.1)},
	}

	st, err := src.Stats(context.Background(), twoLegRoute())
	require.NoError(t, err)
	assert.InDelta(t, 15, st.AvgDelayMin, 1e-9)
	assert.InDelta(t, 0.75, st.DelayFrequency, 1e-9)
	assert.InDelta(t, 0.19, st.CancellationRate, 1e-9)
	assert.InDelta(t, 0.9, st.AvgOccupancy, 1e-9)
	require.NotNil(t, st.SeasonalityFactor)
	assert.Equal(t, 1.1, *st.SeasonalityFactor)
}

func TestStaticStats_UnknownRouteUsesDefault(t *testing.T) {
	src := &StaticStats{Default: HistoricalStats{AvgDelayMin: 3}}
	st, err := src.Stats(context.Background(), twoLegRoute())
	require.NoError(t, err)
	assert.InDelta(t, 6, st.AvgDelayMin, 1e-9)
}

func TestNationalAverages_CombinesLegs(t *testing.T) {
	st, err := NationalAverages().Stats(context.Background(), twoLegRoute())
	require.NoError(t, err)
	assert.InDelta(t, 24, st.AvgDelayMin, 1e-9)
	assert.InDelta(t, 0.36, st.DelayFrequency, 1e-9)

	a := Assess(twoLegRoute(), st, DefaultConfig())
	assert.True(t, a.Score > 0 && a.Score < 10)
}

const departuresCSV = `#datatype,string,long,string,string,double
#group,false,false,true,true,false
#default,_result,,,,
,result,table,route_id,_field,_value
,,0,R1,delay_min,8
,,1,R1,delayed,0.2
,,2,R1,cancelled,0.01
,,3,R1,occupancy,0.7
,,4,R2,delay_min,4

`

type fakeQuerier struct {
	csv   string
	err   error
	query string
}

func (f *fakeQuerier) Query(ctx context.Context, q string) (*api.QueryTableResult, error) {
	f.query = q
	if f.err != nil {
		return nil, f.err
	}
	return api.NewQueryTableResult(io.NopCloser(strings.NewReader(f.csv))), nil
}

func TestInfluxStats(t *testing.T) {
	q := &fakeQuerier{csv: departuresCSV}
	src := NewInfluxStatsWithQuerier(q, "transit", 0)

	st, err := src.Stats(context.Background(), twoLegRoute())
	require.NoError(t, err)
	assert.InDelta(t, 12, st.AvgDelayMin, 1e-9)
	assert.InDelta(t, 0.2, st.DelayFrequency, 1e-9)
	assert.InDelta(t, 0.01, st.CancellationRate, 1e-9)
	assert.InDelta(t, 0.7, st.AvgOccupancy, 1e-9)

	assert.Contains(t, q.query, `from(bucket: "transit")`)
	assert.Contains(t, q.query, `set: ["R1", "R2"]`)
	assert.Contains(t, q.query, "range(start: -2592000s)")
	assert.NotContains(t, q.query, `"transfer"`)
}

func TestInfluxStats_QueryError(t *testing.T) {
	src := NewInfluxStatsWithQuerier(&fakeQuerier{err: errors.New("401 unauthorized")}, "transit", 0)
	_, err := src.Stats(context.Background(), twoLegRoute())
	assert.ErrorContains(t, err, "unauthorized")
}

func TestInfluxStats_NoLegsUsesFallback(t *testing.T) {
	q := &fakeQuerier{csv: departuresCSV}
	src := NewInfluxStatsWithQuerier(q, "transit", 0)
	src.Fallback = HistoricalStats{AvgDelayMin: 1}

	st, err := src.Stats(context.Background(), datatypes.RouteResult{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, st.AvgDelayMin)
	assert.Empty(t, q.query, "no query without route ids")
}

func TestInfluxStats_UnsafeRouteIDNeverQueried(t *testing.T) {
	q := &fakeQuerier{csv: departuresCSV}
	src := NewInfluxStatsWithQuerier(q, "transit", 0)
	src.Fallback = HistoricalStats{AvgDelayMin: 100}

	route := twoLegRoute()
	route.Segments[2].RouteID = `R2"]) |> drop(columns: ["_value"]) //`

	st, err := src.Stats(context.Background(), route)
	require.NoError(t, err)
	assert.Contains(t, q.query, `set: ["R1"]`)
	assert.NotContains(t, q.query, "drop(")
	assert.InDelta(t, 108, st.AvgDelayMin, 1e-9)

	q.query = ""
	route.Segments[0].RouteID = "R 1"
	st, err = src.Stats(context.Background(), route)
	require.NoError(t, err)
	assert.Empty(t, q.query, "no query when every id is rejected")
	assert.InDelta(t, 200, st.AvgDelayMin, 1e-9)
}

// =============================================================================
// Assessor
// =============================================================================

type countingSource struct {
	inner StatsSource
	calls atomic.Int32
	err   error
}

func (c *countingSource) Stats(ctx context.Context, r datatypes.RouteResult) (HistoricalStats, error) {
	c.calls.Add(1)
	if c.err != nil {
		return HistoricalStats{}, c.err
	}
	return c.inner.Stats(ctx, r)
}

func TestAssessor_Caches(t *testing.T) {
	src := &countingSource{inner: &StaticStats{Default: typicalStats()}}
	a, err := NewAssessor(src, DefaultConfig(), 100)
	require.NoError(t, err)
	defer a.Close()

	first, err := a.Assess(context.Background(), twoLegRoute())
	require.NoError(t, err)
	a.Wait()
	second, err := a.Assess(context.Background(), twoLegRoute())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	hits, misses := a.CacheStats()
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int32(2), src.calls.Load(), "stats are part of the key, so they are always read")
}

func TestAssessor_SourceError(t *testing.T) {
	a, err := NewAssessor(&countingSource{err: errors.New("influx down")}, DefaultConfig(), 0)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Assess(context.Background(), twoLegRoute())
	assert.Error(t, err)
}

func TestNewAssessor_RequiresSource(t *testing.T) {
	_, err := NewAssessor(nil, DefaultConfig(), 0)
	assert.ErrorIs(t, err, ErrNoStatsSource)
}
