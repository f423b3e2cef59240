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
	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
	"github.com/AleutianAI/TransitGraph/services/transit/provider"
)

// repair fills gaps in fresh from cached.
//
// Missing fields of a fresh record are copied from the cached record with
// the same identity (stop id, or route/from/to for edges). Cached records
// absent from fresh are appended. Fresh values always win where present.
// A nil fresh payload yields a copy of cached.
func repair(fresh, cached *provider.Payload) *provider.Payload {
	if fresh == nil {
		out := *cached
		return &out
	}

	out := &provider.Payload{GeneratedAt: fresh.GeneratedAt, FetchedAt: fresh.FetchedAt}

	cachedStops := make(map[string]datatypes.Stop, len(cached.Stops))
	for _, s := range cached.Stops {
		cachedStops[s.ID] = s
	}
	seenStops := make(map[string]bool, len(fresh.Stops))
	for _, s := range fresh.Stops {
		if c, ok := cachedStops[s.ID]; ok {
			s = mergeStop(s, c)
		}
		seenStops[s.ID] = true
		out.Stops = append(out.Stops, s)
	}
	for _, c := range cached.Stops {
		if !seenStops[c.ID] {
			out.Stops = append(out.Stops, c)
		}
	}

	type edgeKey struct{ route, from, to string }
	cachedEdges := make(map[edgeKey]datatypes.Edge, len(cached.Edges))
	for _, e := range cached.Edges {
		cachedEdges[edgeKey{e.RouteID, e.FromStopID, e.ToStopID}] = e
	}
	seenEdges := make(map[edgeKey]bool, len(fresh.Edges))
	for _, e := range fresh.Edges {
		k := edgeKey{e.RouteID, e.FromStopID, e.ToStopID}
		if c, ok := cachedEdges[k]; ok {
			e = mergeEdge(e, c)
		}
		seenEdges[k] = true
		out.Edges = append(out.Edges, e)
	}
	for _, c := range cached.Edges {
		if !seenEdges[edgeKey{c.RouteID, c.FromStopID, c.ToStopID}] {
			out.Edges = append(out.Edges, c)
		}
	}
	return out
}

func mergeStop(s, c datatypes.Stop) datatypes.Stop {
	if s.Name == "" {
		s.Name = c.Name
	}
	if s.City == "" {
		s.City = c.City
	}
	if s.Kind == "" {
		s.Kind = c.Kind
	}
	if s.Lat == 0 && s.Lon == 0 {
		s.Lat, s.Lon = c.Lat, c.Lon
	}
	return s
}

func mergeEdge(e, c datatypes.Edge) datatypes.Edge {
	if e.Transport == "" {
		e.Transport = c.Transport
	}
	if e.DurationMin <= 0 {
		e.DurationMin = c.DurationMin
	}
	if e.DistanceKm <= 0 {
		e.DistanceKm = c.DistanceKm
	}
	if e.Price <= 0 {
		e.Price = c.Price
	}
	return e
}

// improved reports whether repaired carries strictly more information than
// fresh: a higher field completeness or more records.
func improved(fresh, repaired *provider.Payload) bool {
	if repaired.Empty() {
		return false
	}
	if fresh == nil {
		return true
	}
	if repaired.Completeness() > fresh.Completeness() {
		return true
	}
	return len(repaired.Stops)+len(repaired.Edges) > len(fresh.Stops)+len(fresh.Edges)
}
