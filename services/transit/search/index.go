// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"sort"
	"sync/atomic"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
)

// tables are the lookup tables for one graph version. Never mutated after
// Populate builds them.
type tables struct {
	version uint64
	meta    datatypes.VersionMeta

	// cityStops maps a city key to its physical stop ids, sorted.
	cityStops map[string][]string

	// out maps a stop id to its outgoing edges, in snapshot order.
	out map[string][]datatypes.Edge
}

// CityIndex is the keyed lookup table search runs against: city to stops,
// and stop to outgoing edges.
//
// # Description
//
// Populate rebuilds every table from a snapshot and swaps them in as one
// unit, so a reader sees either the old version's tables or the new
// one's. Clear drops them. Lookups before Populate, or after Clear, find
// nothing.
//
// # Thread Safety
//
// Safe for concurrent use.
type CityIndex struct {
	t atomic.Pointer[tables]
}

// NewCityIndex returns an empty index.
func NewCityIndex() *CityIndex {
	return &CityIndex{}
}

// Populate replaces the tables with ones built from g. Virtual stops are
// reachable through edges but are never origins or destinations.
func (c *CityIndex) Populate(g *datatypes.GraphVersion) {
	t := &tables{
		version:   g.ID(),
		meta:      g.Meta,
		cityStops: make(map[string][]string),
		out:       make(map[string][]datatypes.Edge, len(g.Nodes)),
	}
	for _, n := range g.Nodes {
		if n.IsVirtual() {
			continue
		}
		if key := datatypes.CityKey(n.City); key != "" {
			t.cityStops[key] = append(t.cityStops[key], n.ID)
		}
	}
	for _, ids := range t.cityStops {
		sort.Strings(ids)
	}
	for _, e := range g.Edges {
		t.out[e.FromStopID] = append(t.out[e.FromStopID], e)
	}
	c.t.Store(t)
}

// Clear drops all tables.
func (c *CityIndex) Clear() {
	c.t.Store(nil)
}

// Version returns the graph version the tables were built from, or 0.
func (c *CityIndex) Version() uint64 {
	if t := c.t.Load(); t != nil {
		return t.version
	}
	return 0
}

// Stops returns the physical stop ids of a city.
func (c *CityIndex) Stops(city string) ([]string, bool) {
	t := c.t.Load()
	if t == nil {
		return nil, false
	}
	return t.stops(city)
}

func (t *tables) stops(city string) ([]string, bool) {
	ids, ok := t.cityStops[datatypes.CityKey(city)]
	return ids, ok && len(ids) > 0
}

// Cities returns the number of indexed cities.
func (c *CityIndex) Cities() int {
	if t := c.t.Load(); t != nil {
		return len(t.cityStops)
	}
	return 0
}

func (c *CityIndex) tables() *tables {
	return c.t.Load()
}
