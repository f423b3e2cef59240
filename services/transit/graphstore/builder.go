// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graphstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
	"github.com/AleutianAI/TransitGraph/services/transit/faults"
)

// Builder assembles, validates and publishes graph versions.
//
// Thread Safety: safe for concurrent use, though the pipeline only ever
// runs one build at a time.
type Builder struct {
	versions *VersionStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewBuilder creates a Builder publishing into versions.
func NewBuilder(versions *VersionStore, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{versions: versions, logger: logger, now: time.Now}
}

// BuildOption annotates a build.
type BuildOption func(*datatypes.VersionMeta)

// WithSource records the data source mode and quality the build was fed from.
func WithSource(mode datatypes.DataSourceMode, quality datatypes.QualityScore) BuildOption {
	return func(m *datatypes.VersionMeta) {
		m.Mode = mode
		m.Quality = quality
	}
}

// Build assembles a new GraphVersion and publishes it.
//
// # Description
//
// Nodes are the union of stops and virtual stops, deduplicated by id.
// Edges are deduplicated by (route, from, to). Both are sorted so the
// stored snapshot is deterministic for identical input. The graph is then
// validated; a validation failure returns a VALIDATION fault and leaves
// the current version untouched.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - stops: Physical stops.
//   - virtualStops: City hubs from the virtual stop generator.
//   - edges: Route edges plus transfer edges.
//
// # Outputs
//
//   - *datatypes.GraphVersion: The published snapshot.
//   - error: VALIDATION fault wrapping ErrEmptyGraph, ErrDanglingEdge or
//     ErrUnreachableCity; or a store/publish error.
func (b *Builder) Build(ctx context.Context, stops, virtualStops []datatypes.Stop, edges []datatypes.Edge, opts ...BuildOption) (*datatypes.GraphVersion, error) {
	start := b.now()
	ctx, span := startBuildSpan(ctx, len(stops), len(virtualStops), len(edges))
	defer span.End()

	nodes := assembleNodes(stops, virtualStops)
	dedupedEdges := assembleEdges(edges)

	if err := Validate(nodes, dedupedEdges); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		recordBuildMetrics(ctx, time.Since(start), 0, 0, false)
		b.logger.Warn("graph validation failed, keeping current version",
			slog.Uint64("current", b.versions.CurrentVersion()),
			slog.String("error", err.Error()))
		return nil, faults.Validation(err, "nodes", fmt.Sprint(len(nodes)), "edges", fmt.Sprint(len(dedupedEdges)))
	}

	id, err := b.versions.Store().NextVersion(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordBuildMetrics(ctx, time.Since(start), 0, 0, false)
		return nil, err
	}

	g := &datatypes.GraphVersion{
		Meta: datatypes.VersionMeta{
			Version:   id,
			NodeCount: len(nodes),
			EdgeCount: len(dedupedEdges),
			BuiltAt:   b.now().UTC(),
		},
		Nodes: nodes,
		Edges: dedupedEdges,
	}
	for _, opt := range opts {
		opt(&g.Meta)
	}

	if err := b.versions.Publish(ctx, g); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordBuildMetrics(ctx, time.Since(start), 0, 0, false)
		return nil, fmt.Errorf("publish version %d: %w", id, err)
	}

	setBuildSpanResult(span, g)
	recordBuildMetrics(ctx, time.Since(start), g.Meta.NodeCount, g.Meta.EdgeCount, true)
	return g, nil
}

func assembleNodes(stops, virtualStops []datatypes.Stop) []datatypes.Stop {
	seen := make(map[string]struct{}, len(stops)+len(virtualStops))
	nodes := make([]datatypes.Stop, 0, len(stops)+len(virtualStops))
	for _, group := range [][]datatypes.Stop{stops, virtualStops} {
		for _, s := range group {
			if s.ID == "" {
				continue
			}
			if _, dup := seen[s.ID]; dup {
				continue
			}
			seen[s.ID] = struct{}{}
			nodes = append(nodes, s)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

func assembleEdges(edges []datatypes.Edge) []datatypes.Edge {
	type edgeKey struct{ route, from, to string }
	seen := make(map[edgeKey]struct{}, len(edges))
	out := make([]datatypes.Edge, 0, len(edges))
	for _, e := range edges {
		k := edgeKey{e.RouteID, e.FromStopID, e.ToStopID}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FromStopID != out[j].FromStopID {
			return out[i].FromStopID < out[j].FromStopID
		}
		if out[i].ToStopID != out[j].ToStopID {
			return out[i].ToStopID < out[j].ToStopID
		}
		return out[i].RouteID < out[j].RouteID
	})
	return out
}

// Validate checks a node/edge set is a minimum viable graph.
//
// Rules:
//   - at least one node and at least one non-transfer edge
//   - every edge endpoint is a known node
//   - no edge has a negative duration, price or distance
//   - every city touched by a non-transfer edge is connected, in either
//     direction, to at least one other city
func Validate(nodes []datatypes.Stop, edges []datatypes.Edge) error {
	if len(nodes) == 0 || len(edges) == 0 {
		return ErrEmptyGraph
	}

	cityOf := make(map[string]string, len(nodes))
	for _, n := range nodes {
		cityOf[n.ID] = datatypes.CityKey(n.City)
	}

	neighbours := make(map[string]map[string]struct{})
	routeEdges := 0
	for _, e := range edges {
		from, okFrom := cityOf[e.FromStopID]
		to, okTo := cityOf[e.ToStopID]
		if !okFrom || !okTo {
			return fmt.Errorf("%w: %s (%s -> %s)", ErrDanglingEdge, e.RouteID, e.FromStopID, e.ToStopID)
		}
		if e.DurationMin < 0 || e.Price < 0 || e.DistanceKm < 0 {
			return fmt.Errorf("%w: %s (%s -> %s) has a negative cost", ErrInvalidEdge, e.RouteID, e.FromStopID, e.ToStopID)
		}
		if e.Transfer {
			continue
		}
		routeEdges++
		if neighbours[from] == nil {
			neighbours[from] = make(map[string]struct{})
		}
		if neighbours[to] == nil {
			neighbours[to] = make(map[string]struct{})
		}
		if from != to {
			neighbours[from][to] = struct{}{}
			neighbours[to][from] = struct{}{}
		}
	}
	if routeEdges == 0 {
		return ErrEmptyGraph
	}

	cities := make([]string, 0, len(neighbours))
	for c := range neighbours {
		cities = append(cities, c)
	}
	sort.Strings(cities)
	for _, c := range cities {
		if len(neighbours[c]) == 0 {
			return fmt.Errorf("%w: %q", ErrUnreachableCity, c)
		}
	}
	return nil
}
