// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package datatypes

// RouteResult is one complete itinerary returned by search.
type RouteResult struct {
	Segments         []Edge          `json:"segments"`
	TotalDistanceKm  float64         `json:"total_distance_km"`
	TotalDurationMin int             `json:"total_duration_min"`
	TotalPrice       float64         `json:"total_price"` // for all passengers
	TransferCount    int             `json:"transfer_count"`
	FromCity         string          `json:"from_city"`
	ToCity           string          `json:"to_city"`
	Date             string          `json:"date"`
	Passengers       int             `json:"passengers"`
	Label            string          `json:"label,omitempty"` // "primary", "fastest", "cheapest"
	Risk             *RiskAssessment `json:"risk,omitempty"`
}

// Signature identifies a route by its ordered non-transfer segments.
// Two results with the same signature are the same itinerary.
func (r RouteResult) Signature() string {
	sig := make([]byte, 0, len(r.Segments)*24)
	for _, s := range r.Segments {
		if s.Transfer {
			continue
		}
		sig = append(sig, s.RouteID...)
		sig = append(sig, ':')
		sig = append(sig, s.FromStopID...)
		sig = append(sig, '>')
		sig = append(sig, s.ToStopID...)
		sig = append(sig, '|')
	}
	return string(sig)
}

// RiskFactors is the breakdown behind a risk score.
type RiskFactors struct {
	TransferCount     int      `json:"transfer_count"`
	AvgDelayMin       float64  `json:"avg_delay_min"`
	DelayFrequency    float64  `json:"delay_frequency"`   // fraction of departures delayed, 0-1
	CancellationRate  float64  `json:"cancellation_rate"` // 0-1
	AvgOccupancy      float64  `json:"avg_occupancy"`     // 0-1
	WeatherFactor     *float64 `json:"weather_factor,omitempty"`
	SeasonalityFactor *float64 `json:"seasonality_factor,omitempty"`
}

// RiskAssessment is the deterministic risk verdict for a route.
type RiskAssessment struct {
	Score            float64     `json:"score"`
	Level            string      `json:"level"`
	Description      string      `json:"description"`
	Factors          RiskFactors `json:"factors"`
	Recommendations  []string    `json:"recommendations"`
	AlgorithmVersion string      `json:"algorithm_version"`
}
