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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TransitGraph/pkg/logging"
	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
	"github.com/AleutianAI/TransitGraph/services/transit/faults"
	"github.com/AleutianAI/TransitGraph/services/transit/provider"
	kv "github.com/AleutianAI/TransitGraph/services/transit/storage/badger"
)

// =============================================================================
// Test Doubles
// =============================================================================

type fakeClient struct {
	payload *provider.Payload
	score   datatypes.QualityScore
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (f *fakeClient) Fetch(ctx context.Context, req provider.Request) (*provider.Payload, datatypes.QualityScore, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.payload, f.score, nil
}

type failingMock struct{}

func (failingMock) Generate(ctx context.Context, req provider.Request) (*provider.Payload, error) {
	return nil, errors.New("seed data corrupt")
}

type failingCache struct{}

func (failingCache) Get(ctx context.Context, key string) (*provider.Payload, error) {
	return nil, errors.New("disk on fire")
}

func (failingCache) Put(ctx context.Context, key string, p *provider.Payload) error {
	return errors.New("disk on fire")
}

type recordingRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingRecorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

var stopsReq = provider.Request{Kind: provider.KindStops, Region: "test"}

func completeStops() *provider.Payload {
	return &provider.Payload{Stops: []datatypes.Stop{
		{ID: "A1", Name: "X Central", City: "X", Kind: datatypes.StopKindBusStation},
		{ID: "B1", Name: "Y Central", City: "Y", Kind: datatypes.StopKindBusStation},
	}}
}

func newTestSelector(t *testing.T, client provider.Client, cache PayloadCache, mock MockProvider, rec Recorder) *Selector {
	t.Helper()
	if cache == nil {
		cache = NewMemoryCache()
	}
	if mock == nil {
		mock = &SyntheticProvider{Cities: []string{"X", "Y", "Z"}}
	}
	s, err := NewSelector(client, cache, mock, DefaultConfig(), WithLogger(logging.Nop()), WithRecorder(rec))
	require.NoError(t, err)
	return s
}

// =============================================================================
// Mode Selection
// =============================================================================

func TestSelector_ModeForScore(t *testing.T) {
	s := newTestSelector(t, &fakeClient{}, nil, nil, nil)

	assert.Equal(t, datatypes.ModeReal, s.ModeForScore(95))
	assert.Equal(t, datatypes.ModeRecovery, s.ModeForScore(70))
	assert.Equal(t, datatypes.ModeMock, s.ModeForScore(30))

	prev := datatypes.ModeReal.Trust()
	for q := 100.0; q >= 0; q-- {
		trust := s.ModeForScore(datatypes.QualityScore(q)).Trust()
		assert.LessOrEqual(t, trust, prev)
		prev = trust
	}
}

func TestNewSelector_RejectsInvertedThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Thresholds = faults.Thresholds{Real: 50, Recovery: 50}
	_, err := NewSelector(&fakeClient{}, NewMemoryCache(), &SyntheticProvider{}, cfg)
	assert.ErrorIs(t, err, ErrInvalidThresholds)
}

func TestSelector_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("high quality is real and cached", func(t *testing.T) {
		cache := NewMemoryCache()
		rec := &recordingRecorder{}
		s := newTestSelector(t, &fakeClient{payload: completeStops(), score: 95}, cache, nil, rec)

		res, err := s.Load(ctx, stopsReq)
		require.NoError(t, err)
		assert.Equal(t, datatypes.ModeReal, res.Mode)
		assert.Equal(t, datatypes.QualityScore(95), res.Quality)

		cached, err := cache.Get(ctx, stopsReq.Key())
		require.NoError(t, err)
		assert.Len(t, cached.Stops, 2)

		events := rec.all()
		require.Len(t, events, 1)
		assert.Equal(t, datatypes.ModeReal, events[0].Mode)
		assert.False(t, events[0].CacheHit)
	})

	t.Run("mid quality repairs from cache", func(t *testing.T) {
		cache := NewMemoryCache()
		require.NoError(t, cache.Put(ctx, stopsReq.Key(), completeStops()))
		partial := &provider.Payload{Stops: []datatypes.Stop{{ID: "A1", City: "X"}}}
		s := newTestSelector(t, &fakeClient{payload: partial, score: 70}, cache, nil, nil)

		res, err := s.Load(ctx, stopsReq)
		require.NoError(t, err)
		assert.Equal(t, datatypes.ModeRecovery, res.Mode)
		assert.True(t, res.CacheHit)
		require.Len(t, res.Payload.Stops, 2)
		assert.Equal(t, "X Central", res.Payload.Stops[0].Name)
	})

	t.Run("upstream error repairs from cache", func(t *testing.T) {
		cache := NewMemoryCache()
		require.NoError(t, cache.Put(ctx, stopsReq.Key(), completeStops()))
		s := newTestSelector(t, &fakeClient{err: faults.Upstream(context.DeadlineExceeded)}, cache, nil, nil)

		res, err := s.Load(ctx, stopsReq)
		require.NoError(t, err)
		assert.Equal(t, datatypes.ModeRecovery, res.Mode)
		assert.Len(t, res.Payload.Stops, 2)
	})

	t.Run("mid quality without cache falls to mock", func(t *testing.T) {
		s := newTestSelector(t, &fakeClient{payload: completeStops(), score: 70}, nil, nil, nil)

		res, err := s.Load(ctx, stopsReq)
		require.NoError(t, err)
		assert.Equal(t, datatypes.ModeMock, res.Mode)
		assert.Equal(t, MockQuality, res.Quality)
		assert.Len(t, res.Payload.Stops, 6)
	})

	t.Run("repair that adds nothing falls to mock", func(t *testing.T) {
		cache := NewMemoryCache()
		require.NoError(t, cache.Put(ctx, stopsReq.Key(), completeStops()))
		s := newTestSelector(t, &fakeClient{payload: completeStops(), score: 70}, cache, nil, nil)

		res, err := s.Load(ctx, stopsReq)
		require.NoError(t, err)
		assert.Equal(t, datatypes.ModeMock, res.Mode)
	})

	t.Run("low quality is mock", func(t *testing.T) {
		s := newTestSelector(t, &fakeClient{payload: completeStops(), score: 30}, nil, nil, nil)

		res, err := s.Load(ctx, stopsReq)
		require.NoError(t, err)
		assert.Equal(t, datatypes.ModeMock, res.Mode)
	})

	t.Run("cache failure is a warning", func(t *testing.T) {
		s := newTestSelector(t, &fakeClient{err: errors.New("connection reset")}, failingCache{}, nil, nil)

		res, err := s.Load(ctx, stopsReq)
		require.NoError(t, err)
		assert.Equal(t, datatypes.ModeMock, res.Mode)
	})

	t.Run("cache write failure does not affect real", func(t *testing.T) {
		s := newTestSelector(t, &fakeClient{payload: completeStops(), score: 99}, failingCache{}, nil, nil)

		res, err := s.Load(ctx, stopsReq)
		require.NoError(t, err)
		assert.Equal(t, datatypes.ModeReal, res.Mode)
	})

	t.Run("mock failure is critical", func(t *testing.T) {
		rec := &recordingRecorder{}
		s := newTestSelector(t, &fakeClient{err: errors.New("down")}, nil, failingMock{}, rec)

		_, err := s.Load(ctx, stopsReq)
		require.Error(t, err)
		assert.ErrorIs(t, err, faults.ErrMockProvider)
		assert.Equal(t, faults.SeverityCritical, faults.SeverityOf(err))
		assert.Equal(t, datatypes.ModeUnknown, rec.all()[0].Mode)
	})
}

func TestSelector_CoalescesConcurrentLoads(t *testing.T) {
	client := &fakeClient{payload: completeStops(), score: 95, delay: 100 * time.Millisecond}
	rec := &recordingRecorder{}
	s := newTestSelector(t, client, nil, nil, rec)

	const callers = 10
	var wg sync.WaitGroup
	var shared atomic.Int32
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := s.Load(context.Background(), stopsReq)
			assert.NoError(t, err)
			assert.Equal(t, datatypes.ModeReal, res.Mode)
			if res.Shared {
				shared.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), client.calls.Load())
	assert.Equal(t, int32(callers), shared.Load())
	assert.Equal(t, int64(callers), s.ModeDistribution()[datatypes.ModeReal])

	events := rec.all()
	require.Len(t, events, callers, "one record per Load call")
	for _, e := range events {
		assert.Equal(t, datatypes.ModeReal, e.Mode)
		assert.True(t, e.Shared)
		assert.Greater(t, e.Latency, 50*time.Millisecond)
	}
}

// =============================================================================
// Repair
// =============================================================================

func TestRepair(t *testing.T) {
	cached := &provider.Payload{
		Stops: []datatypes.Stop{{ID: "A1", Name: "Old Name", City: "X", Kind: datatypes.StopKindAirport, Lat: 1, Lon: 2}},
		Edges: []datatypes.Edge{{RouteID: "r", FromStopID: "A1", ToStopID: "B1", Transport: datatypes.TransportBus, DurationMin: 60, Price: 10}},
	}
	fresh := &provider.Payload{
		Stops: []datatypes.Stop{{ID: "A1", Name: "New Name"}},
		Edges: []datatypes.Edge{{RouteID: "r", FromStopID: "A1", ToStopID: "B1", Price: 12}},
	}

	out := repair(fresh, cached)
	require.Len(t, out.Stops, 1)
	assert.Equal(t, "New Name", out.Stops[0].Name, "fresh values win")
	assert.Equal(t, "X", out.Stops[0].City)
	assert.Equal(t, 1.0, out.Stops[0].Lat)
	require.Len(t, out.Edges, 1)
	assert.Equal(t, 60, out.Edges[0].DurationMin)
	assert.Equal(t, 12.0, out.Edges[0].Price)
	assert.True(t, improved(fresh, out))

	copyOfCached := repair(nil, cached)
	assert.Equal(t, cached.Stops, copyOfCached.Stops)
}

// =============================================================================
// Caches and Mock
// =============================================================================

func TestBadgerCache(t *testing.T) {
	db, err := kv.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	c := NewBadgerCache(db, time.Hour)
	ctx := context.Background()

	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Put(ctx, "k", completeStops()))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, completeStops().Stops, got.Stops)
}

func TestSyntheticProvider_Deterministic(t *testing.T) {
	m := &SyntheticProvider{Cities: []string{"Zurich", "Amsterdam", "Berlin", "Copenhagen"}}
	ctx := context.Background()
	req := provider.Request{Kind: provider.KindRoutes}

	a, err := m.Generate(ctx, req)
	require.NoError(t, err)
	b, err := m.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, a.Edges, b.Edges)
	assert.NotEmpty(t, a.Edges)
	for _, e := range a.Edges {
		assert.True(t, e.Complete(), "synthetic edge %s incomplete", e.RouteID)
	}

	two, err := m.Generate(ctx, provider.Request{Kind: provider.KindRoutes, Cities: []string{"berlin", "Zurich"}})
	require.NoError(t, err)
	assert.Len(t, two.Edges, 4, "two cities: one bus pair and one flight pair")

	_, err = (&SyntheticProvider{}).Generate(ctx, req)
	assert.ErrorIs(t, err, ErrNoSyntheticCities)
}
