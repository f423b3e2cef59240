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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
)

// Assess scores a route against its historical stats.
//
// # Description
//
// Each factor is normalized to [0,1], the weighted mean is multiplied by
// the weather and seasonality multipliers (each clamped to [1, cap]) and
// scaled to [0,10]. The score is rounded to one decimal.
//
// Assess is pure: equal inputs give equal outputs, and raising any single
// input never lowers the score.
//
// # Inputs
//
//   - route: The itinerary; only TransferCount is read.
//   - stats: Historical reliability for the route.
//   - cfg: Scoring parameters.
//
// # Outputs
//
//   - datatypes.RiskAssessment: Score, level, description, factors and
//     recommendations.
func Assess(route datatypes.RouteResult, stats HistoricalStats, cfg Config) datatypes.RiskAssessment {
	cfg = withDefaults(cfg)
	w := cfg.Weights

	transfers := clamp01(float64(route.TransferCount) / cfg.SaturationTransfers)
	delayAvg := clamp01(stats.AvgDelayMin / cfg.SaturationDelayMin)
	delayFreq := clamp01(stats.DelayFrequency)
	cancellations := clamp01(stats.CancellationRate / cfg.SaturationCancellation)
	occupancy := clamp01(stats.AvgOccupancy)

	base := (w.Transfers*transfers +
		w.DelayAvg*delayAvg +
		w.DelayFrequency*delayFreq +
		w.Cancellations*cancellations +
		w.Occupancy*occupancy) / w.Total()

	mult := multiplier(stats.WeatherFactor, cfg.MaxWeatherFactor) *
		multiplier(stats.SeasonalityFactor, cfg.MaxSeasonalityFactor)

	score := math.Round(clamp(base*mult*MaxScore, 0, MaxScore)*10) / 10
	level := levelFor(score)

	return datatypes.RiskAssessment{
		Score:       score,
		Level:       string(level),
		Description: Descriptions[level],
		Factors: datatypes.RiskFactors{
			TransferCount:     route.TransferCount,
			AvgDelayMin:       stats.AvgDelayMin,
			DelayFrequency:    stats.DelayFrequency,
			CancellationRate:  stats.CancellationRate,
			AvgOccupancy:      stats.AvgOccupancy,
			WeatherFactor:     stats.WeatherFactor,
			SeasonalityFactor: stats.SeasonalityFactor,
		},
		Recommendations:  recommend(route, stats, level),
		AlgorithmVersion: AlgorithmVersion,
	}
}

func withDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.Weights.Total() <= 0 {
		cfg.Weights = d.Weights
	}
	if cfg.SaturationTransfers <= 0 {
		cfg.SaturationTransfers = d.SaturationTransfers
	}
	if cfg.SaturationDelayMin <= 0 {
		cfg.SaturationDelayMin = d.SaturationDelayMin
	}
	if cfg.SaturationCancellation <= 0 {
		cfg.SaturationCancellation = d.SaturationCancellation
	}
	if cfg.MaxWeatherFactor < 1 {
		cfg.MaxWeatherFactor = d.MaxWeatherFactor
	}
	if cfg.MaxSeasonalityFactor < 1 {
		cfg.MaxSeasonalityFactor = d.MaxSeasonalityFactor
	}
	return cfg
}

func multiplier(f *float64, limit float64) float64 {
	if f == nil || math.IsNaN(*f) {
		return 1
	}
	return clamp(*f, 1, limit)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

// recommend applies threshold rules in a fixed order.
func recommend(route datatypes.RouteResult, stats HistoricalStats, level Level) []string {
	var recs []string
	if route.TransferCount >= 2 {
		recs = append(recs, "Allow at least 45 minutes for each connection.")
	}
	if stats.AvgDelayMin >= 15 {
		recs = append(recs, fmt.Sprintf("Expect delays averaging %.0f minutes.", stats.AvgDelayMin))
	}
	if stats.DelayFrequency >= 0.3 {
		recs = append(recs, "Departures on this route are often late; avoid tight onward plans.")
	}
	if stats.CancellationRate >= 0.05 {
		recs = append(recs, "Check for cancellations before departure and prefer a flexible ticket.")
	}
	if stats.AvgOccupancy >= 0.85 {
		recs = append(recs, "Book seats in advance; this route is usually full.")
	}
	if stats.WeatherFactor != nil && *stats.WeatherFactor > 1 {
		recs = append(recs, "Weather may disrupt service; check conditions before travelling.")
	}
	if level.Order() >= LevelHigh.Order() {
		recs = append(recs, "Consider an alternative route.")
	}
	if len(recs) == 0 {
		recs = append(recs, "No special precautions needed.")
	}
	return recs
}

// CacheKey returns a stable key for (route, stats): a sha256 over the
// algorithm version, the route signature, the transfer count and every
// stats field. Equal inputs give equal keys across processes.
func CacheKey(route datatypes.RouteResult, stats HistoricalStats) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	opt := func(p *float64) string {
		if p == nil {
			return "-"
		}
		return f(*p)
	}

	write(AlgorithmVersion)
	write(route.Signature())
	write(strconv.Itoa(route.TransferCount))
	write(f(stats.AvgDelayMin))
	write(f(stats.DelayFrequency))
	write(f(stats.CancellationRate))
	write(f(stats.AvgOccupancy))
	write(opt(stats.WeatherFactor))
	write(opt(stats.SeasonalityFactor))
	return hex.EncodeToString(h.Sum(nil))
}
