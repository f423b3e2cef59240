// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
	"github.com/AleutianAI/TransitGraph/services/transit/graphstore"
	"github.com/AleutianAI/TransitGraph/services/transit/provider"
	"github.com/AleutianAI/TransitGraph/services/transit/source"
	"github.com/AleutianAI/TransitGraph/services/transit/virtualstop"
)

// Stage names.
const (
	StageFetchStops   = "fetch_stops"
	StageVirtualStops = "virtual_stops"
	StageFetchEdges   = "fetch_edges"
	StagePublish      = "publish"
)

// DefaultEdgeBatchSize is the number of cities per routes request.
const DefaultEdgeBatchSize = 25

var (
	// ErrNoStops is returned when the stops load produced nothing.
	ErrNoStops = errors.New("no stops loaded")

	// ErrNoEdges is returned when the routes load produced nothing.
	ErrNoEdges = errors.New("no route edges loaded")
)

// Loader loads provider data through the fallback chain.
// *source.Selector implements it.
type Loader interface {
	Load(ctx context.Context, req provider.Request) (source.Result, error)
}

// =============================================================================
// Fetch Stops
// =============================================================================

// FetchStopsStage loads every stop of the region.
type FetchStopsStage struct {
	Loader Loader
	Region string
}

func (s *FetchStopsStage) Name() string { return StageFetchStops }

func (s *FetchStopsStage) CanRun(*RunState) bool { return s.Loader != nil }

func (s *FetchStopsStage) Execute(ctx context.Context, state *RunState) error {
	res, err := s.Loader.Load(ctx, provider.Request{Kind: provider.KindStops, Region: s.Region})
	if err != nil {
		return err
	}
	if res.Payload == nil || len(res.Payload.Stops) == 0 {
		return ErrNoStops
	}
	state.Stops = res.Payload.Stops
	state.observeSource(res.Mode, res.Quality)
	state.SetMessage(fmt.Sprintf("%d stops (%s, quality %.1f)", len(state.Stops), res.Mode, res.Quality))
	return nil
}

// =============================================================================
// Virtual Stops
// =============================================================================

// VirtualStopsStage synthesizes one hub per multi-stop city.
type VirtualStopsStage struct{}

func (s *VirtualStopsStage) Name() string { return StageVirtualStops }

func (s *VirtualStopsStage) CanRun(*RunState) bool { return true }

func (s *VirtualStopsStage) Execute(ctx context.Context, state *RunState) error {
	res, err := virtualstop.Generate(ctx, state.Stops)
	if err != nil {
		return err
	}
	state.VirtualStops = res.VirtualStops
	state.TransferEdges = res.Edges
	state.SetMessage(fmt.Sprintf("%d hubs, %d transfer edges", len(res.VirtualStops), len(res.Edges)))
	return nil
}

// =============================================================================
// Fetch Edges
// =============================================================================

// FetchEdgesStage loads route edges for the cities found by FetchStopsStage.
//
// Cities are requested in batches of BatchSize; batches load concurrently
// and are merged in batch order.
type FetchEdgesStage struct {
	Loader    Loader
	Region    string
	BatchSize int
}

func (s *FetchEdgesStage) Name() string { return StageFetchEdges }

func (s *FetchEdgesStage) CanRun(*RunState) bool { return s.Loader != nil }

func (s *FetchEdgesStage) Execute(ctx context.Context, state *RunState) error {
	batches := batchCities(state.Cities(), s.BatchSize)
	if len(batches) == 0 {
		return ErrNoStops
	}

	results := make([]source.Result, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	for i, cities := range batches {
		g.Go(func() error {
			res, err := s.Loader.Load(gctx, provider.Request{Kind: provider.KindRoutes, Region: s.Region, Cities: cities})
			if err != nil {
				return fmt.Errorf("routes batch %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var edges []datatypes.Edge
	for _, res := range results {
		if res.Payload != nil {
			edges = append(edges, res.Payload.Edges...)
		}
		state.observeSource(res.Mode, res.Quality)
	}
	if len(edges) == 0 {
		return ErrNoEdges
	}
	state.Edges = edges
	state.SetMessage(fmt.Sprintf("%d edges in %d batches (%s)", len(edges), len(batches), state.Mode))
	return nil
}

func batchCities(cities []string, size int) [][]string {
	if size <= 0 {
		size = DefaultEdgeBatchSize
	}
	var out [][]string
	for start := 0; start < len(cities); start += size {
		end := min(start+size, len(cities))
		out = append(out, cities[start:end])
	}
	return out
}

// =============================================================================
// Publish
// =============================================================================

// PublishStage assembles, validates and publishes the graph.
type PublishStage struct {
	Builder *graphstore.Builder

	// Prune removes versions outside the retention window after publishing.
	// Nil disables pruning.
	Prune func(ctx context.Context) ([]uint64, error)
}

func (s *PublishStage) Name() string { return StagePublish }

func (s *PublishStage) CanRun(*RunState) bool { return s.Builder != nil }

func (s *PublishStage) Execute(ctx context.Context, state *RunState) error {
	edges := make([]datatypes.Edge, 0, len(state.Edges)+len(state.TransferEdges))
	edges = append(edges, state.Edges...)
	edges = append(edges, state.TransferEdges...)

	g, err := s.Builder.Build(ctx, state.Stops, state.VirtualStops, edges,
		graphstore.WithSource(state.Mode, state.Quality))
	if err != nil {
		return err
	}
	meta := g.Meta
	state.Published = &meta

	msg := fmt.Sprintf("published version %d (%d nodes, %d edges)", meta.Version, meta.NodeCount, meta.EdgeCount)
	if s.Prune != nil {
		pruned, err := s.Prune(ctx)
		if err != nil {
			// The new version is live; a failed prune only delays cleanup.
			msg += fmt.Sprintf("; prune failed: %v", err)
		} else if len(pruned) > 0 {
			msg += fmt.Sprintf("; pruned %d", len(pruned))
		}
	}
	state.SetMessage(msg)
	return nil
}

// DefaultStages returns the four build stages in run order. An
// edgeBatchSize of zero or less uses DefaultEdgeBatchSize.
func DefaultStages(loader Loader, region string, edgeBatchSize int, versions *graphstore.VersionStore, builder *graphstore.Builder) []Stage {
	if edgeBatchSize <= 0 {
		edgeBatchSize = DefaultEdgeBatchSize
	}
	publish := &PublishStage{Builder: builder}
	if versions != nil {
		publish.Prune = versions.Prune
	}
	return []Stage{
		&FetchStopsStage{Loader: loader, Region: region},
		&VirtualStopsStage{},
		&FetchEdgesStage{Loader: loader, Region: region, BatchSize: edgeBatchSize},
		publish,
	}
}

var (
	_ Stage  = (*FetchStopsStage)(nil)
	_ Stage  = (*VirtualStopsStage)(nil)
	_ Stage  = (*FetchEdgesStage)(nil)
	_ Stage  = (*PublishStage)(nil)
	_ Loader = (*source.Selector)(nil)
)
