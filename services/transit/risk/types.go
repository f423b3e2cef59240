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

import "strings"

// AlgorithmVersion is the version of the risk scoring algorithm.
// Increment when making changes that affect scores; it is part of CacheKey.
const AlgorithmVersion = "1.0"

// MaxScore is the top of the risk scale.
const MaxScore = 10.0

// Default weights for risk factors.
const (
	DefaultWeightTransfers      = 0.30
	DefaultWeightDelayAvg       = 0.20
	DefaultWeightDelayFrequency = 0.20
	DefaultWeightCancellations  = 0.20
	DefaultWeightOccupancy      = 0.10
)

// Risk level thresholds on the 0-10 scale.
const (
	ThresholdMedium   = 3.0
	ThresholdHigh     = 5.5
	ThresholdCritical = 8.0
)

// Level represents the severity of travel risk.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// ParseLevel parses a string to Level. Unknown input maps to LevelHigh.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "low":
		return LevelLow
	case "medium":
		return LevelMedium
	case "high":
		return LevelHigh
	case "critical":
		return LevelCritical
	default:
		return LevelHigh
	}
}

// Order returns the numeric order of this level.
func (l Level) Order() int {
	switch l {
	case LevelLow:
		return 0
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	case LevelCritical:
		return 3
	default:
		return -1
	}
}

// Exceeds returns true if this level is above threshold.
func (l Level) Exceeds(threshold Level) bool {
	return l.Order() > threshold.Order()
}

// levelFor maps a score to its level.
func levelFor(score float64) Level {
	switch {
	case score >= ThresholdCritical:
		return LevelCritical
	case score >= ThresholdHigh:
		return LevelHigh
	case score >= ThresholdMedium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Descriptions per level.
var Descriptions = map[Level]string{
	LevelLow:      "Low risk: this route is usually reliable.",
	LevelMedium:   "Moderate risk: minor delays are common on this route.",
	LevelHigh:     "High risk: significant delays or disruptions are likely.",
	LevelCritical: "Critical risk: this route is frequently disrupted.",
}

// Weights holds the weight of each risk factor.
type Weights struct {
	Transfers      float64 `json:"transfers" yaml:"transfers" validate:"gte=0"`
	DelayAvg       float64 `json:"delay_avg" yaml:"delay_avg" validate:"gte=0"`
	DelayFrequency float64 `json:"delay_frequency" yaml:"delay_frequency" validate:"gte=0"`
	Cancellations  float64 `json:"cancellations" yaml:"cancellations" validate:"gte=0"`
	Occupancy      float64 `json:"occupancy" yaml:"occupancy" validate:"gte=0"`
}

// DefaultWeights returns default weights for risk factors.
func DefaultWeights() Weights {
	return Weights{
		Transfers:      DefaultWeightTransfers,
		DelayAvg:       DefaultWeightDelayAvg,
		DelayFrequency: DefaultWeightDelayFrequency,
		Cancellations:  DefaultWeightCancellations,
		Occupancy:      DefaultWeightOccupancy,
	}
}

// Total returns the sum of all weights.
func (w Weights) Total() float64 {
	return w.Transfers + w.DelayAvg + w.DelayFrequency + w.Cancellations + w.Occupancy
}

// Config holds scoring parameters.
//
// # Fields
//
//   - Weights: Factor weights. A zero total falls back to DefaultWeights.
//   - SaturationTransfers: Transfer count that scores as maximum risk.
//   - SaturationDelayMin: Average delay (minutes) that scores as maximum.
//   - SaturationCancellation: Cancellation rate that scores as maximum.
//   - MaxWeatherFactor, MaxSeasonalityFactor: Caps on the multipliers.
type Config struct {
	Weights                Weights `yaml:"weights"`
	SaturationTransfers    float64 `yaml:"saturation_transfers" validate:"gt=0"`
	SaturationDelayMin     float64 `yaml:"saturation_delay_min" validate:"gt=0"`
	SaturationCancellation float64 `yaml:"saturation_cancellation" validate:"gt=0,lte=1"`
	MaxWeatherFactor       float64 `yaml:"max_weather_factor" validate:"gte=1"`
	MaxSeasonalityFactor   float64 `yaml:"max_seasonality_factor" validate:"gte=1"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Weights:                DefaultWeights(),
		SaturationTransfers:    3,
		SaturationDelayMin:     60,
		SaturationCancellation: 0.2,
		MaxWeatherFactor:       1.5,
		MaxSeasonalityFactor:   1.3,
	}
}

// HistoricalStats are the observed reliability figures for a route.
//
// Rates are fractions in [0,1]. The two multipliers are optional and
// only ever raise risk.
type HistoricalStats struct {
	AvgDelayMin       float64  `json:"avg_delay_min"`
	DelayFrequency    float64  `json:"delay_frequency"`
	CancellationRate  float64  `json:"cancellation_rate"`
	AvgOccupancy      float64  `json:"avg_occupancy"`
	WeatherFactor     *float64 `json:"weather_factor,omitempty"`
	SeasonalityFactor *float64 `json:"seasonality_factor,omitempty"`
}
