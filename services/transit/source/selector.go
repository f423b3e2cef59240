// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package source implements the adaptive data source selector: it decides
// between REAL, RECOVERY and MOCK data for every load and walks the
// fallback chain upstream -> cache -> synthetic.
//
// # Description
//
// Each Load makes one provider call, then asks faults.Decide what to do
// with the outcome. RECOVERY repairs the fresh payload from the last good
// cached payload for the same request key; if that does not add
// information the chain falls through to MOCK. A failing mock provider is
// CRITICAL and is the only error Load returns.
//
// Concurrent Loads with the same request key share one in-flight fetch.
//
// # Thread Safety
//
// Selector is safe for concurrent use.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
	"github.com/AleutianAI/TransitGraph/services/transit/faults"
	"github.com/AleutianAI/TransitGraph/services/transit/provider"
)

// MockQuality is the quality reported for synthetic data.
const MockQuality datatypes.QualityScore = 0

// ErrInvalidThresholds is returned when Real <= Recovery.
var ErrInvalidThresholds = errors.New("real threshold must exceed recovery threshold")

// Result is the outcome of one Load.
type Result struct {
	Payload  *provider.Payload
	Mode     datatypes.DataSourceMode
	Quality  datatypes.QualityScore
	CacheHit bool
	Latency  time.Duration

	// Shared is true when this caller received another caller's in-flight result.
	Shared bool
}

// Event is emitted once per Load for metrics.
type Event struct {
	RequestKind string
	Mode        datatypes.DataSourceMode
	Quality     datatypes.QualityScore
	Latency     time.Duration
	CacheHit    bool

	// Shared is true when the caller joined another caller's fetch.
	Shared bool

	// ErrorKind is the kind of the upstream error, if the fetch failed.
	ErrorKind faults.Kind
}

// Recorder receives one Event per Load call, coalesced callers included.
type Recorder interface {
	Record(Event)
}

// NopRecorder discards events.
type NopRecorder struct{}

func (NopRecorder) Record(Event) {}

// Config configures a Selector.
type Config struct {
	Thresholds faults.Thresholds

	// RefreshInterval is used to score repaired payloads.
	RefreshInterval time.Duration
}

// DefaultConfig returns thresholds 90/50 and a 6h refresh interval.
func DefaultConfig() Config {
	return Config{Thresholds: faults.DefaultThresholds(), RefreshInterval: 6 * time.Hour}
}

// Selector is the adaptive data source selector.
type Selector struct {
	client   provider.Client
	cache    PayloadCache
	mock     MockProvider
	recorder Recorder
	config   Config
	logger   *slog.Logger
	now      func() time.Time

	flight singleflight.Group

	statsMu sync.Mutex
	stats   map[datatypes.DataSourceMode]int64
}

// Option configures a Selector.
type Option func(*Selector)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Selector) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Selector) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSelector creates a Selector.
//
// # Inputs
//
//   - client: Upstream provider.
//   - cache: Last-good payload cache.
//   - mock: Synthetic data provider.
//   - config: Thresholds must satisfy Real > Recovery.
func NewSelector(client provider.Client, cache PayloadCache, mock MockProvider, config Config, opts ...Option) (*Selector, error) {
	if client == nil || cache == nil || mock == nil {
		return nil, errors.New("selector requires client, cache and mock provider")
	}
	if config.Thresholds.Real <= config.Thresholds.Recovery {
		return nil, ErrInvalidThresholds
	}
	s := &Selector{
		client:   client,
		cache:    cache,
		mock:     mock,
		recorder: NopRecorder{},
		config:   config,
		logger:   slog.Default(),
		now:      time.Now,
		stats:    make(map[datatypes.DataSourceMode]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ModeForScore maps a quality score to the mode it earns on its own.
func (s *Selector) ModeForScore(score datatypes.QualityScore) datatypes.DataSourceMode {
	switch faults.Decide(float64(score), nil, s.config.Thresholds) {
	case faults.DecisionReal:
		return datatypes.ModeReal
	case faults.DecisionRecovery:
		return datatypes.ModeRecovery
	default:
		return datatypes.ModeMock
	}
}

// ModeDistribution returns how many loads ended in each mode.
func (s *Selector) ModeDistribution() map[datatypes.DataSourceMode]int64 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	out := make(map[datatypes.DataSourceMode]int64, len(s.stats))
	for k, v := range s.stats {
		out[k] = v
	}
	return out
}

// Load returns data for req, choosing the most trusted mode available.
//
// # Outputs
//
//   - Result: Data with its mode and quality.
//   - error: CRITICAL MOCK_PROVIDER fault only. All other failures are
//     absorbed by the fallback chain.
func (s *Selector) Load(ctx context.Context, req provider.Request) (Result, error) {
	// The shared fetch is detached from the first caller's cancellation so a
	// departing caller cannot fail the others; the provider timeout bounds it.
	start := s.now()
	v, err, shared := s.flight.Do(req.Key(), func() (any, error) {
		return s.load(context.WithoutCancel(ctx), req)
	})
	out, _ := v.(loadOutcome)
	res := out.result
	res.Latency = s.now().Sub(start)
	res.Shared = shared
	s.emit(req, res, out.fetchErr)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// loadOutcome is what one shared fetch hands to every waiting caller.
type loadOutcome struct {
	result   Result
	fetchErr error
}

func (s *Selector) load(ctx context.Context, req provider.Request) (loadOutcome, error) {
	key := req.Key()

	payload, score, fetchErr := s.client.Fetch(ctx, req)
	score = score.Clamp()

	res := Result{}
	decision := faults.Decide(float64(score), fetchErr, s.config.Thresholds)
	stepErr := fetchErr

	for {
		switch decision {
		case faults.DecisionReal:
			s.store(ctx, key, payload)
			res = Result{Payload: payload, Mode: datatypes.ModeReal, Quality: score}

		case faults.DecisionRecovery:
			repaired, q, err := s.recover(ctx, key, payload)
			if err != nil {
				s.logger.Warn("recovery failed, falling back",
					slog.String("request", key),
					slog.String("error", err.Error()))
				stepErr = err
				decision = faults.Decide(0, err, s.config.Thresholds)
				continue
			}
			s.store(ctx, key, repaired)
			res = Result{Payload: repaired, Mode: datatypes.ModeRecovery, Quality: q, CacheHit: true}

		case faults.DecisionMock:
			mp, err := s.mock.Generate(ctx, req)
			if err != nil {
				stepErr = faults.MockFailed(err)
				decision = faults.Decide(0, stepErr, s.config.Thresholds)
				continue
			}
			s.logger.Warn("serving synthetic data", slog.String("request", key))
			res = Result{Payload: mp, Mode: datatypes.ModeMock, Quality: MockQuality}

		default:
			s.logger.Error("all data sources failed",
				slog.String("request", key),
				slog.String("error", stepErr.Error()))
			return loadOutcome{result: Result{Mode: datatypes.ModeUnknown}, fetchErr: fetchErr}, stepErr
		}
		break
	}

	return loadOutcome{result: res, fetchErr: fetchErr}, nil
}

// recover repairs payload from the cached entry for key.
func (s *Selector) recover(ctx context.Context, key string, payload *provider.Payload) (*provider.Payload, datatypes.QualityScore, error) {
	cached, err := s.cache.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return nil, 0, faults.RecoveryFailed("no cached payload", "request", key)
	}
	if err != nil {
		return nil, 0, faults.Cache(err, "request", key, "op", "get")
	}

	repaired := repair(payload, cached)
	if !improved(payload, repaired) {
		return nil, 0, faults.RecoveryFailed("cached payload adds nothing", "request", key)
	}
	q := provider.Score(repaired, s.now(), s.config.RefreshInterval)
	return repaired, q, nil
}

// store writes a payload to the cache. Failures are WARNING: logged only.
func (s *Selector) store(ctx context.Context, key string, p *provider.Payload) {
	if p.Empty() {
		return
	}
	if err := s.cache.Put(ctx, key, p); err != nil {
		werr := faults.Cache(err, "request", key, "op", "put")
		s.logger.Warn("cache write failed", slog.String("error", werr.Error()))
	}
}

func (s *Selector) emit(req provider.Request, res Result, fetchErr error) {
	s.statsMu.Lock()
	s.stats[res.Mode]++
	s.statsMu.Unlock()

	s.recorder.Record(Event{
		RequestKind: string(req.Kind),
		Mode:        res.Mode,
		Quality:     res.Quality,
		Latency:     res.Latency,
		CacheHit:    res.CacheHit,
		Shared:      res.Shared,
		ErrorKind:   faults.KindOf(fetchErr),
	})
	if res.Mode == datatypes.ModeReal {
		return
	}
	s.logger.Info("data source degraded",
		slog.String("request", string(req.Kind)),
		slog.String("mode", string(res.Mode)),
		slog.Float64("quality", float64(res.Quality)),
		slog.String("upstream_error", fmt.Sprint(faults.KindOf(fetchErr))))
}
