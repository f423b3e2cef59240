// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package virtualstop synthesizes city hub nodes that merge all physical
// stops of one city into a single transfer point.
package virtualstop

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
)

// TransferRouteID is the route id carried by every hub transfer edge.
const TransferRouteID = "transfer"

// Result is the output of Generate.
type Result struct {
	VirtualStops []datatypes.Stop
	Edges        []datatypes.Edge
}

// ID returns the deterministic virtual stop id for a set of member stop ids.
// Order and duplicates in memberIDs do not matter.
func ID(memberIDs []string) string {
	ids := append([]string(nil), memberIDs...)
	sort.Strings(ids)
	ids = dedupeSorted(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "\x00")))
	return "vs-" + hex.EncodeToString(sum[:])[:16]
}

// Generate groups stops by city and emits one hub per city that has more
// than one stop, plus a zero-cost transfer edge in each direction between
// the hub and every member.
//
// # Description
//
// Cities are independent, so each is processed in its own goroutine
// (bounded by GOMAXPROCS). Per-city results are written to a
// pre-allocated slot and concatenated in sorted city order, so output is
// byte-identical for identical input regardless of scheduling.
//
// # Inputs
//
//   - ctx: Cancels outstanding per-city work.
//   - stops: Physical stops. Virtual stops in the input are ignored.
//
// # Outputs
//
//   - Result: Hubs sorted by id and transfer edges sorted by (from, to).
//   - error: Only ctx.Err().
func Generate(ctx context.Context, stops []datatypes.Stop) (Result, error) {
	byCity := make(map[string][]datatypes.Stop)
	for _, s := range stops {
		if s.IsVirtual() || s.ID == "" {
			continue
		}
		key := datatypes.CityKey(s.City)
		if key == "" {
			continue
		}
		byCity[key] = append(byCity[key], s)
	}

	cities := make([]string, 0, len(byCity))
	for city, members := range byCity {
		if len(members) > 1 {
			cities = append(cities, city)
		}
	}
	sort.Strings(cities)

	hubs := make([]datatypes.Stop, len(cities))
	edges := make([][]datatypes.Edge, len(cities))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, city := range cities {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hubs[i], edges[i] = hubFor(byCity[city])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var out Result
	out.VirtualStops = hubs
	for _, e := range edges {
		out.Edges = append(out.Edges, e...)
	}
	sort.Slice(out.VirtualStops, func(i, j int) bool { return out.VirtualStops[i].ID < out.VirtualStops[j].ID })
	sort.Slice(out.Edges, func(i, j int) bool {
		if out.Edges[i].FromStopID != out.Edges[j].FromStopID {
			return out.Edges[i].FromStopID < out.Edges[j].FromStopID
		}
		return out.Edges[i].ToStopID < out.Edges[j].ToStopID
	})
	return out, nil
}

// hubFor builds one city hub and its transfer edges. members must share a city.
func hubFor(members []datatypes.Stop) (datatypes.Stop, []datatypes.Edge) {
	ids := make([]string, 0, len(members))
	var lat, lon float64
	for _, m := range members {
		ids = append(ids, m.ID)
		lat += m.Lat
		lon += m.Lon
	}
	sort.Strings(ids)
	ids = dedupeSorted(ids)

	// Display city taken from the lowest member id so it is stable.
	city := members[0].City
	for _, m := range members {
		if m.ID == ids[0] {
			city = m.City
			break
		}
	}

	hub := datatypes.Stop{
		ID:      ID(ids),
		Name:    city + " (all stops)",
		City:    city,
		Kind:    datatypes.StopKindVirtual,
		Lat:     lat / float64(len(members)),
		Lon:     lon / float64(len(members)),
		Members: ids,
	}

	edges := make([]datatypes.Edge, 0, 2*len(ids))
	for _, id := range ids {
		edges = append(edges,
			transferEdge(hub.ID, id),
			transferEdge(id, hub.ID),
		)
	}
	return hub, edges
}

func transferEdge(from, to string) datatypes.Edge {
	return datatypes.Edge{
		RouteID:    TransferRouteID,
		FromStopID: from,
		ToStopID:   to,
		Transport:  datatypes.TransportTransfer,
		Transfer:   true,
	}
}

func dedupeSorted(ids []string) []string {
	out := ids[:0]
	for i, id := range ids {
		if i > 0 && id == ids[i-1] {
			continue
		}
		out = append(out, id)
	}
	return out
}
