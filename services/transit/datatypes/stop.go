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

import "strings"

// StopKind classifies a physical or synthetic stop.
type StopKind string

const (
	StopKindAirport     StopKind = "airport"
	StopKindBusStation  StopKind = "bus_station"
	StopKindPort        StopKind = "port"
	StopKindRailStation StopKind = "rail_station"
	StopKindGeneric     StopKind = "generic"

	// StopKindVirtual marks a synthesized city hub.
	StopKindVirtual StopKind = "virtual"
)

// Stop is a transport location. Stops are immutable once a graph version
// referencing them has been published.
type Stop struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	City string   `json:"city"`
	Kind StopKind `json:"kind"`
	Lat  float64  `json:"lat"`
	Lon  float64  `json:"lon"`

	// Members lists the real stop ids merged into a virtual stop, sorted.
	// Empty for physical stops.
	Members []string `json:"members,omitempty"`
}

// IsVirtual reports whether the stop is a synthesized city hub.
func (s Stop) IsVirtual() bool {
	return s.Kind == StopKindVirtual
}

// CityKey normalizes a city name for grouping and lookup: trimmed,
// lower-cased, inner whitespace collapsed to a single space.
func CityKey(city string) string {
	return strings.Join(strings.Fields(strings.ToLower(city)), " ")
}

// Complete reports whether every field required for routing is present.
// Coordinates are optional because some upstream feeds omit them for ports.
func (s Stop) Complete() bool {
	return s.ID != "" && s.Name != "" && s.City != "" && s.Kind != ""
}

// fieldsPresent returns how many of the four required stop fields are set.
func (s Stop) fieldsPresent() int {
	n := 0
	for _, ok := range []bool{s.ID != "", s.Name != "", s.City != "", s.Kind != ""} {
		if ok {
			n++
		}
	}
	return n
}

// StopFieldCount is the number of required fields checked on a Stop.
const StopFieldCount = 4
