// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
	"github.com/AleutianAI/TransitGraph/services/transit/provider"
)

// MockProvider produces deterministic synthetic data, the last link of the
// fallback chain.
type MockProvider interface {
	Generate(ctx context.Context, req provider.Request) (*provider.Payload, error)
}

// SyntheticProvider builds a small ring network over a fixed city list.
//
// Every city gets a central bus station and an airport. Consecutive cities
// (in sorted order, wrapping around) are linked by a bus route in both
// directions; every third pair also gets a faster, pricier flight.
// Durations and prices are derived from an FNV hash of the city pair, so
// output depends only on the city list.
type SyntheticProvider struct {
	Cities []string
}

// ErrNoSyntheticCities is returned when there is nothing to synthesize.
var ErrNoSyntheticCities = errors.New("synthetic provider has no cities")

// Generate returns stops for a stops request and edges for a routes
// request, filtered by req.Cities when set.
func (m *SyntheticProvider) Generate(ctx context.Context, req provider.Request) (*provider.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cities := m.cityList(req.Cities)
	if len(cities) == 0 {
		return nil, ErrNoSyntheticCities
	}

	p := &provider.Payload{GeneratedAt: time.Unix(0, 0).UTC()}
	switch req.Kind {
	case provider.KindStops:
		for _, c := range cities {
			p.Stops = append(p.Stops, syntheticStops(c)...)
		}
	case provider.KindRoutes:
		p.Edges = syntheticEdges(cities)
	default:
		return nil, fmt.Errorf("unknown request kind %q", req.Kind)
	}
	return p, nil
}

func (m *SyntheticProvider) cityList(filter []string) []string {
	all := make(map[string]string, len(m.Cities))
	for _, c := range m.Cities {
		if k := datatypes.CityKey(c); k != "" {
			all[k] = c
		}
	}
	var out []string
	if len(filter) == 0 {
		for _, c := range all {
			out = append(out, c)
		}
	} else {
		for _, f := range filter {
			if c, ok := all[datatypes.CityKey(f)]; ok {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return datatypes.CityKey(out[i]) < datatypes.CityKey(out[j]) })
	return out
}

func slug(city string) string {
	return strings.ReplaceAll(datatypes.CityKey(city), " ", "-")
}

func syntheticStops(city string) []datatypes.Stop {
	s := slug(city)
	return []datatypes.Stop{
		{ID: "mock-" + s + "-bus", Name: city + " Bus Station", City: city, Kind: datatypes.StopKindBusStation},
		{ID: "mock-" + s + "-air", Name: city + " Airport", City: city, Kind: datatypes.StopKindAirport},
	}
}

func pairHash(a, b string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(a + "|" + b))
	return h.Sum32()
}

func syntheticEdges(cities []string) []datatypes.Edge {
	if len(cities) < 2 {
		return nil
	}
	var edges []datatypes.Edge
	for i := range cities {
		a, b := cities[i], cities[(i+1)%len(cities)]
		if len(cities) == 2 && i == 1 {
			break
		}
		sa, sb := slug(a), slug(b)
		h := pairHash(sa, sb)
		dist := 100 + float64(h%900)
		busMin := int(dist * 1.1)
		busPrice := float64(int(dist*8) / 10 * 10)
		edges = append(edges,
			datatypes.Edge{RouteID: "mock-bus-" + sa + "-" + sb, FromStopID: "mock-" + sa + "-bus", ToStopID: "mock-" + sb + "-bus",
				Transport: datatypes.TransportBus, DistanceKm: dist, DurationMin: busMin, Price: busPrice},
			datatypes.Edge{RouteID: "mock-bus-" + sb + "-" + sa, FromStopID: "mock-" + sb + "-bus", ToStopID: "mock-" + sa + "-bus",
				Transport: datatypes.TransportBus, DistanceKm: dist, DurationMin: busMin, Price: busPrice},
		)
		if i%3 == 0 {
			airMin := 60 + int(dist/12)
			airPrice := busPrice * 3
			edges = append(edges,
				datatypes.Edge{RouteID: "mock-air-" + sa + "-" + sb, FromStopID: "mock-" + sa + "-air", ToStopID: "mock-" + sb + "-air",
					Transport: datatypes.TransportAir, DistanceKm: dist, DurationMin: airMin, Price: airPrice},
				datatypes.Edge{RouteID: "mock-air-" + sb + "-" + sa, FromStopID: "mock-" + sb + "-air", ToStopID: "mock-" + sa + "-air",
					Transport: datatypes.TransportAir, DistanceKm: dist, DurationMin: airMin, Price: airPrice},
			)
		}
	}
	return edges
}

var _ MockProvider = (*SyntheticProvider)(nil)
