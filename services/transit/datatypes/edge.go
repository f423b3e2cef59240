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

// TransportType is the mode of a route segment.
type TransportType string

const (
	TransportAir      TransportType = "air"
	TransportBus      TransportType = "bus"
	TransportRail     TransportType = "rail"
	TransportFerry    TransportType = "ferry"
	TransportTransfer TransportType = "transfer"
)

// Edge is a directed route segment between two stops.
//
// Transfer edges link a virtual stop to its members and carry zero cost.
type Edge struct {
	RouteID     string        `json:"route_id"`
	FromStopID  string        `json:"from_stop_id"`
	ToStopID    string        `json:"to_stop_id"`
	Transport   TransportType `json:"transport"`
	DistanceKm  float64       `json:"distance_km"`
	DurationMin int           `json:"duration_min"`
	Price       float64       `json:"price"`
	Transfer    bool          `json:"transfer,omitempty"`
}

// EdgeFieldCount is the number of required fields checked on an Edge.
const EdgeFieldCount = 5

func (e Edge) fieldsPresent() int {
	n := 0
	for _, ok := range []bool{
		e.RouteID != "",
		e.FromStopID != "",
		e.ToStopID != "",
		e.Transport != "",
		e.DurationMin > 0 || e.Transfer,
	} {
		if ok {
			n++
		}
	}
	return n
}

// Complete reports whether every field required for routing is present.
func (e Edge) Complete() bool {
	return e.fieldsPresent() == EdgeFieldCount
}

// Completeness returns the fraction of required fields present across
// all stops and edges, in [0,1]. An empty input has completeness 0.
func Completeness(stops []Stop, edges []Edge) float64 {
	total := len(stops)*StopFieldCount + len(edges)*EdgeFieldCount
	if total == 0 {
		return 0
	}
	present := 0
	for _, s := range stops {
		present += s.fieldsPresent()
	}
	for _, e := range edges {
		present += e.fieldsPresent()
	}
	return float64(present) / float64(total)
}
