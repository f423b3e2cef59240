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
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TransitGraph/pkg/logging"
	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
	"github.com/AleutianAI/TransitGraph/services/transit/faults"
	"github.com/AleutianAI/TransitGraph/services/transit/graphstore"
	"github.com/AleutianAI/TransitGraph/services/transit/virtualstop"
)

// =============================================================================
// Helpers
// =============================================================================

type fixedSnapshots struct {
	mu  sync.Mutex
	g   *datatypes.GraphVersion
	err error
}

func (f *fixedSnapshots) Snapshot() (*datatypes.GraphVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.g, nil
}

func (f *fixedSnapshots) set(g *datatypes.GraphVersion) {
	f.mu.Lock()
	f.g = g
	f.mu.Unlock()
}

func stop(id, city string) datatypes.Stop {
	return datatypes.Stop{ID: id, Name: id, City: city, Kind: datatypes.StopKindBusStation}
}

func route(id, from, to string, minutes int, price float64) datatypes.Edge {
	return datatypes.Edge{
		RouteID:     id,
		FromStopID:  from,
		ToStopID:    to,
		Transport:   datatypes.TransportBus,
		DurationMin: minutes,
		Price:       price,
		DistanceKm:  float64(minutes),
	}
}

func graph(version uint64, nodes []datatypes.Stop, edges []datatypes.Edge) *datatypes.GraphVersion {
	return &datatypes.GraphVersion{
		Meta: datatypes.VersionMeta{
			Version:   version,
			NodeCount: len(nodes),
			EdgeCount: len(edges),
			Mode:      datatypes.ModeReal,
			Quality:   97,
		},
		Nodes: nodes,
		Edges: edges,
	}
}

// transferScenario: a direct slow route X->Y and a faster two-leg route
// through Z with a change of route.
func transferScenario() *datatypes.GraphVersion {
	return graph(1,
		[]datatypes.Stop{stop("A1", "X"), stop("B1", "Y"), stop("C1", "Z")},
		[]datatypes.Edge{
			route("R1", "A1", "B1", 180, 2000),
			route("R2", "A1", "C1", 60, 100),
			route("R3", "C1", "B1", 60, 100),
		})
}

func newEngine(g *datatypes.GraphVersion, opts ...Option) *Engine {
	opts = append([]Option{WithLogger(logging.Nop())}, opts...)
	return NewEngine(&fixedSnapshots{g: g}, opts...)
}

type fakeRisk struct {
	err   error
	calls atomic.Int32
}

func (f *fakeRisk) Assess(ctx context.Context, r datatypes.RouteResult) (datatypes.RiskAssessment, error) {
	f.calls.Add(1)
	if f.err != nil {
		return datatypes.RiskAssessment{}, f.err
	}
	return datatypes.RiskAssessment{Score: float64(r.TransferCount), Level: "LOW"}, nil
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *outcomeRecorder) ObserveSearch(outcome string, d time.Duration) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()
}

// =============================================================================
// Engine
// =============================================================================

func TestEngine_EndToEndThroughBuilder(t *testing.T) {
	ctx := context.Background()
	stops := []datatypes.Stop{stop("A1", "X"), stop("A2", "X"), stop("B1", "Y")}
	edges := []datatypes.Edge{
		route("R1", "A1", "B1", 180, 2000),
		route("R1", "B1", "A1", 180, 2000),
	}

	vs, err := virtualstop.Generate(ctx, stops)
	require.NoError(t, err)
	require.Len(t, vs.VirtualStops, 1)

	versions := graphstore.NewVersionStore(graphstore.NewMemoryStore(), graphstore.WithLogger(logging.Nop()))
	builder := graphstore.NewBuilder(versions, logging.Nop())
	_, err = builder.Build(ctx, stops, vs.VirtualStops, append(edges, vs.Edges...),
		graphstore.WithSource(datatypes.ModeReal, 96))
	require.NoError(t, err)

	e := NewEngine(versions, WithLogger(logging.Nop()))
	resp, err := e.Search(ctx, Query{From: "X", To: "Y", Date: "2026-01-10", Passengers: 1})
	require.NoError(t, err)

	require.Len(t, resp.Routes, 1)
	r := resp.Routes[0]
	assert.Equal(t, 180, r.TotalDurationMin)
	assert.Equal(t, 2000.0, r.TotalPrice)
	assert.Equal(t, 0, r.TransferCount)
	assert.Equal(t, LabelPrimary, r.Label)
	assert.Equal(t, "2026-01-10", r.Date)
	assert.Empty(t, resp.Alternatives)
	assert.Empty(t, resp.Code)
	assert.Equal(t, uint64(1), resp.GraphVersion)
	assert.Equal(t, datatypes.ModeReal, resp.DataMode)
	assert.Equal(t, datatypes.QualityScore(96), resp.DataQuality)

	back, err := e.Search(ctx, Query{From: "y", To: "x"})
	require.NoError(t, err)
	require.Len(t, back.Routes, 1)
	assert.Equal(t, "A1", back.Routes[0].Segments[0].ToStopID)
}

func TestEngine_TransfersAndLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("faster path with one transfer wins", func(t *testing.T) {
		resp, err := newEngine(transferScenario()).Search(ctx, Query{From: "X", To: "Y"})
		require.NoError(t, err)
		require.Len(t, resp.Routes, 1)
		r := resp.Routes[0]
		assert.Equal(t, 120, r.TotalDurationMin)
		assert.Equal(t, 200.0, r.TotalPrice)
		assert.Equal(t, 1, r.TransferCount)
		assert.Equal(t, "R2:A1>C1|R3:C1>B1|", r.Signature())
	})

	t.Run("max transfers zero forces the direct route", func(t *testing.T) {
		e := newEngine(transferScenario(), WithConfig(Config{MaxTransfers: 0, MaxAlternatives: 2}))
		resp, err := e.Search(ctx, Query{From: "X", To: "Y"})
		require.NoError(t, err)
		require.Len(t, resp.Routes, 1)
		assert.Equal(t, 0, resp.Routes[0].TransferCount)
		assert.Equal(t, 180, resp.Routes[0].TotalDurationMin)
	})

	t.Run("same route through an intermediate stop is not a transfer", func(t *testing.T) {
		g := graph(1,
			[]datatypes.Stop{stop("A1", "X"), stop("B1", "Y"), stop("C1", "Z")},
			[]datatypes.Edge{
				route("R5", "A1", "C1", 30, 10),
				route("R5", "C1", "B1", 30, 10),
			})
		resp, err := newEngine(g).Search(ctx, Query{From: "X", To: "Y"})
		require.NoError(t, err)
		require.Len(t, resp.Routes, 1)
		assert.Equal(t, 0, resp.Routes[0].TransferCount)
		assert.Equal(t, 60, resp.Routes[0].TotalDurationMin)
	})

	t.Run("change of stop through a city hub", func(t *testing.T) {
		stops := []datatypes.Stop{stop("A1", "X"), stop("B1", "Y"), stop("C1", "Z"), stop("C2", "Z")}
		vs, err := virtualstop.Generate(ctx, stops)
		require.NoError(t, err)
		edges := append([]datatypes.Edge{
			route("R2", "A1", "C1", 60, 100),
			route("R3", "C2", "B1", 60, 100),
		}, vs.Edges...)
		g := graph(1, append(stops, vs.VirtualStops...), edges)

		resp, err := newEngine(g).Search(ctx, Query{From: "X", To: "Y"})
		require.NoError(t, err)
		require.Len(t, resp.Routes, 1)
		r := resp.Routes[0]
		assert.Equal(t, 1, r.TransferCount)
		assert.Equal(t, 120, r.TotalDurationMin)
		require.Len(t, r.Segments, 4)
		assert.True(t, r.Segments[1].Transfer)
		assert.True(t, r.Segments[2].Transfer)
		assert.Equal(t, "B1", r.Segments[3].ToStopID)
	})
}

func TestEngine_Alternatives(t *testing.T) {
	g := transferScenario()
	g.Edges = append(g.Edges, route("R4", "A1", "B1", 90, 5000))
	g.Meta.EdgeCount = len(g.Edges)

	resp, err := newEngine(g).Search(context.Background(), Query{From: "X", To: "Y", Passengers: 2})
	require.NoError(t, err)

	require.Len(t, resp.Routes, 1)
	assert.Equal(t, "R4:A1>B1|", resp.Routes[0].Signature())
	assert.Equal(t, 10000.0, resp.Routes[0].TotalPrice)

	// fastest duplicates the primary and is dropped.
	require.Len(t, resp.Alternatives, 1)
	alt := resp.Alternatives[0]
	assert.Equal(t, LabelCheapest, alt.Label)
	assert.Equal(t, 400.0, alt.TotalPrice)
	assert.Equal(t, 2, alt.Passengers)

	t.Run("max alternatives zero", func(t *testing.T) {
		resp, err := newEngine(g, WithConfig(Config{MaxTransfers: 3})).Search(context.Background(), Query{From: "X", To: "Y"})
		require.NoError(t, err)
		assert.Empty(t, resp.Alternatives)
	})
}

func TestEngine_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown city", func(t *testing.T) {
		_, err := newEngine(transferScenario()).Search(ctx, Query{From: "X", To: "Atlantis"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, faults.ErrStopsNotFound))
	})

	t.Run("disconnected cities", func(t *testing.T) {
		g := transferScenario()
		g.Nodes = append(g.Nodes, stop("D1", "W"))
		g.Meta.NodeCount = len(g.Nodes)
		rec := &outcomeRecorder{}
		resp, err := newEngine(g, WithRecorder(rec)).Search(ctx, Query{From: "X", To: "W"})
		require.NoError(t, err)
		assert.Empty(t, resp.Routes)
		assert.NotNil(t, resp.Routes)
		assert.Equal(t, faults.KindRoutesNotFound, resp.Code)
		assert.Equal(t, []string{string(faults.KindRoutesNotFound)}, rec.outcomes)
	})

	t.Run("nothing published", func(t *testing.T) {
		versions := graphstore.NewVersionStore(graphstore.NewMemoryStore(), graphstore.WithLogger(logging.Nop()))
		_, err := NewEngine(versions, WithLogger(logging.Nop())).Search(ctx, Query{From: "X", To: "Y"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, faults.ErrGraphOutOfSync))
		assert.True(t, faults.Retryable(err))
	})

	t.Run("invalid queries", func(t *testing.T) {
		e := newEngine(transferScenario())
		for _, q := range []Query{
			{From: "", To: "Y"},
			{From: "X", To: " x "},
			{From: "X", To: "Y", Passengers: -1},
			{From: "X", To: "Y", Passengers: MaxPassengers + 1},
		} {
			_, err := e.Search(ctx, q)
			assert.ErrorIs(t, err, ErrInvalidQuery, "query %+v", q)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := newEngine(transferScenario()).Search(cctx, Query{From: "X", To: "Y"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestEngine_SearchWithRetry(t *testing.T) {
	snaps := &fixedSnapshots{err: faults.GraphOutOfSync("not yet")}
	e := NewEngine(snaps, WithLogger(logging.Nop()))

	go func() {
		time.Sleep(30 * time.Millisecond)
		snaps.mu.Lock()
		snaps.err = nil
		snaps.g = transferScenario()
		snaps.mu.Unlock()
	}()

	resp, err := e.SearchWithRetry(context.Background(), Query{From: "X", To: "Y"}, faults.BackoffConfig{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Multiplier:      2,
		MaxTries:        20,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Routes, 1)
}

func TestEngine_Risk(t *testing.T) {
	t.Run("attached to every route", func(t *testing.T) {
		fr := &fakeRisk{}
		resp, err := newEngine(transferScenario(), WithRisk(fr)).Search(context.Background(), Query{From: "X", To: "Y"})
		require.NoError(t, err)
		require.NotNil(t, resp.Routes[0].Risk)
		assert.Equal(t, 1.0, resp.Routes[0].Risk.Score)
		for _, alt := range resp.Alternatives {
			assert.NotNil(t, alt.Risk)
		}
		assert.Equal(t, int32(1+len(resp.Alternatives)), fr.calls.Load())
	})

	t.Run("failure omits the assessment", func(t *testing.T) {
		fr := &fakeRisk{err: errors.New("influx down")}
		resp, err := newEngine(transferScenario(), WithRisk(fr)).Search(context.Background(), Query{From: "X", To: "Y"})
		require.NoError(t, err)
		assert.Nil(t, resp.Routes[0].Risk)
	})
}

func TestEngine_IndexFollowsVersion(t *testing.T) {
	snaps := &fixedSnapshots{g: transferScenario()}
	e := NewEngine(snaps, WithLogger(logging.Nop()))
	ctx := context.Background()

	_, err := e.Search(ctx, Query{From: "X", To: "Y"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.Index().Version())

	next := graph(2,
		[]datatypes.Stop{stop("A1", "X"), stop("Q1", "Q")},
		[]datatypes.Edge{route("R9", "A1", "Q1", 10, 1)})
	snaps.set(next)

	resp, err := e.Search(ctx, Query{From: "X", To: "Q"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e.Index().Version())
	assert.Equal(t, uint64(2), resp.GraphVersion)

	_, err = e.Search(ctx, Query{From: "X", To: "Y"})
	assert.True(t, errors.Is(err, faults.ErrStopsNotFound))
}

func TestEngine_Deterministic(t *testing.T) {
	g := graph(1,
		[]datatypes.Stop{stop("A1", "X"), stop("B1", "Y"), stop("C1", "Z"), stop("C2", "W")},
		[]datatypes.Edge{
			route("R1", "A1", "C1", 50, 50),
			route("R2", "C1", "B1", 50, 50),
			route("R3", "A1", "C2", 50, 50),
			route("R4", "C2", "B1", 50, 50),
		})
	e := newEngine(g)

	first, err := e.Search(context.Background(), Query{From: "X", To: "Y"})
	require.NoError(t, err)
	for range 20 {
		again, err := newEngine(g).Search(context.Background(), Query{From: "X", To: "Y"})
		require.NoError(t, err)
		assert.Equal(t, first.Routes[0].Signature(), again.Routes[0].Signature())
	}
	assert.Equal(t, "R1:A1>C1|R2:C1>B1|", first.Routes[0].Signature())
}

func TestEngine_ConcurrentSearches(t *testing.T) {
	e := newEngine(transferScenario())
	var wg sync.WaitGroup
	var failures atomic.Int32
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := e.Search(context.Background(), Query{From: "X", To: "Y"})
			if err != nil || len(resp.Routes) != 1 {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, failures.Load())
}

// =============================================================================
// CityIndex
// =============================================================================

func TestCityIndex(t *testing.T) {
	idx := NewCityIndex()
	_, ok := idx.Stops("X")
	assert.False(t, ok)
	assert.Zero(t, idx.Version())

	stops := []datatypes.Stop{stop("A2", "X"), stop("A1", "x "), stop("B1", "Y")}
	vs, err := virtualstop.Generate(context.Background(), stops)
	require.NoError(t, err)
	idx.Populate(graph(4, append(stops, vs.VirtualStops...), vs.Edges))

	ids, ok := idx.Stops(" X")
	require.True(t, ok)
	assert.Equal(t, []string{"A1", "A2"}, ids, "virtual hub excluded, ids sorted")
	assert.Equal(t, 2, idx.Cities())
	assert.Equal(t, uint64(4), idx.Version())

	idx.Clear()
	_, ok = idx.Stops("X")
	assert.False(t, ok)
	assert.Zero(t, idx.Cities())
}
