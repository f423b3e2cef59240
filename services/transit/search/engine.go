// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search answers route queries against the current graph version.
//
// # Description
//
// Search reads one immutable snapshot per query and never locks the graph.
// Cities resolve to stops through a CityIndex that is rebuilt whenever the
// published version changes. The primary route is the best path under
// (duration, price, transfers); up to two alternatives are the fastest
// under (duration, transfers, price) and the cheapest under (price,
// duration, transfers), each dropped if it duplicates a route already
// returned.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
	"github.com/AleutianAI/TransitGraph/services/transit/faults"
)

var tracer = otel.Tracer("transitgraph.search")

// Route labels.
const (
	LabelPrimary  = "primary"
	LabelFastest  = "fastest"
	LabelCheapest = "cheapest"
)

// Defaults.
const (
	DefaultMaxTransfers    = 3
	DefaultMaxAlternatives = 2
	MaxPassengers          = 9
)

// ErrInvalidQuery is returned for queries that cannot be searched.
var ErrInvalidQuery = errors.New("invalid query")

// SnapshotSource returns the current graph version.
// *graphstore.VersionStore implements it.
type SnapshotSource interface {
	Snapshot() (*datatypes.GraphVersion, error)
}

// RiskAssessor scores a route. *risk.Assessor implements it.
type RiskAssessor interface {
	Assess(ctx context.Context, route datatypes.RouteResult) (datatypes.RiskAssessment, error)
}

// Recorder observes search outcomes for metrics.
type Recorder interface {
	ObserveSearch(outcome string, d time.Duration)
}

// Query is one route search.
type Query struct {
	From       string
	To         string
	Date       string
	Passengers int
}

// Response is the result of a search. Code is set to ROUTES_NOT_FOUND when
// Routes is empty.
type Response struct {
	Routes       []datatypes.RouteResult
	Alternatives []datatypes.RouteResult
	Code         faults.Kind
	GraphVersion uint64
	DataMode     datatypes.DataSourceMode
	DataQuality  datatypes.QualityScore
}

// Config bounds a search.
type Config struct {
	MaxTransfers    int
	MaxAlternatives int
}

// DefaultConfig returns MaxTransfers 3 and MaxAlternatives 2.
func DefaultConfig() Config {
	return Config{MaxTransfers: DefaultMaxTransfers, MaxAlternatives: DefaultMaxAlternatives}
}

// Engine is the route search engine.
//
// # Thread Safety
//
// Safe for concurrent use. Searches share only the CityIndex, which is
// replaced atomically.
type Engine struct {
	snapshots SnapshotSource
	index     *CityIndex
	risk      RiskAssessor
	recorder  Recorder
	config    Config
	logger    *slog.Logger

	rebuildMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithRisk attaches a risk assessment to every returned route.
func WithRisk(r RiskAssessor) Option {
	return func(e *Engine) { e.risk = r }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithConfig sets search bounds.
func WithConfig(c Config) Option {
	return func(e *Engine) { e.config = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an Engine reading from snapshots.
func NewEngine(snapshots SnapshotSource, opts ...Option) *Engine {
	e := &Engine{
		snapshots: snapshots,
		index:     NewCityIndex(),
		config:    DefaultConfig(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.config.MaxTransfers < 0 {
		e.config.MaxTransfers = 0
	}
	if e.config.MaxAlternatives < 0 {
		e.config.MaxAlternatives = 0
	}
	return e
}

// Index returns the engine's city index.
func (e *Engine) Index() *CityIndex {
	return e.index
}

// Search finds routes between two cities.
//
// # Outputs
//
//   - *Response: Routes and alternatives. Empty Routes with Code
//     ROUTES_NOT_FOUND when the cities are not connected.
//   - error: GRAPH_OUT_OF_SYNC when no complete snapshot is published
//     (retry with backoff), STOPS_NOT_FOUND for an unknown city, or
//     ErrInvalidQuery.
func (e *Engine) Search(ctx context.Context, q Query) (*Response, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "search.Engine.Search",
		trace.WithAttributes(
			attribute.String("search.from", q.From),
			attribute.String("search.to", q.To),
			attribute.Int("search.passengers", q.Passengers),
		),
	)
	defer span.End()

	resp, err := e.search(ctx, q)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = string(faults.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	case resp.Code != "":
		outcome = string(resp.Code)
	default:
		span.SetAttributes(attribute.Int64("graph.version", int64(resp.GraphVersion)))
		span.SetStatus(codes.Ok, "")
	}
	if e.recorder != nil {
		e.recorder.ObserveSearch(outcome, time.Since(start))
	}
	return resp, err
}

// SearchWithRetry is Search with GRAPH_OUT_OF_SYNC retried by backoff.
func (e *Engine) SearchWithRetry(ctx context.Context, q Query, cfg faults.BackoffConfig) (*Response, error) {
	return faults.RetryWithBackoff(ctx, cfg, func(ctx context.Context) (*Response, error) {
		return e.Search(ctx, q)
	})
}

func (e *Engine) search(ctx context.Context, q Query) (*Response, error) {
	from, to := strings.TrimSpace(q.From), strings.TrimSpace(q.To)
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: from and to are required", ErrInvalidQuery)
	}
	if datatypes.CityKey(from) == datatypes.CityKey(to) {
		return nil, fmt.Errorf("%w: from and to are the same city", ErrInvalidQuery)
	}
	passengers := q.Passengers
	if passengers == 0 {
		passengers = 1
	}
	if passengers < 1 || passengers > MaxPassengers {
		return nil, fmt.Errorf("%w: passengers must be between 1 and %d", ErrInvalidQuery, MaxPassengers)
	}

	snap, err := e.snapshots.Snapshot()
	if err != nil {
		return nil, err
	}
	t := e.tablesFor(snap)

	origins, ok := t.stops(from)
	if !ok {
		return nil, faults.StopsNotFound(from)
	}
	destinations, ok := t.stops(to)
	if !ok {
		return nil, faults.StopsNotFound(to)
	}

	resp := &Response{
		Routes:       []datatypes.RouteResult{},
		Alternatives: []datatypes.RouteResult{},
		GraphVersion: snap.ID(),
		DataMode:     snap.Meta.Mode,
		DataQuality:  snap.Meta.Quality,
	}
	build := func(path []datatypes.Edge, label string) datatypes.RouteResult {
		return newRouteResult(path, from, to, q.Date, passengers, label)
	}

	primary, err := shortestPath(ctx, t, origins, destinations, byBest, e.config.MaxTransfers)
	if err != nil {
		return nil, err
	}
	if primary == nil {
		resp.Code = faults.KindRoutesNotFound
		e.logger.Debug("no route found", slog.String("from", from), slog.String("to", to))
		return resp, nil
	}
	resp.Routes = append(resp.Routes, build(primary, LabelPrimary))

	seen := map[string]bool{resp.Routes[0].Signature(): true}
	for _, alt := range []struct {
		crit  criterion
		label string
	}{{byFastest, LabelFastest}, {byCheapest, LabelCheapest}} {
		if len(resp.Alternatives) >= e.config.MaxAlternatives {
			break
		}
		path, err := shortestPath(ctx, t, origins, destinations, alt.crit, e.config.MaxTransfers)
		if err != nil {
			return nil, err
		}
		if path == nil {
			continue
		}
		r := build(path, alt.label)
		if seen[r.Signature()] {
			continue
		}
		seen[r.Signature()] = true
		resp.Alternatives = append(resp.Alternatives, r)
	}

	e.attachRisk(ctx, resp.Routes)
	e.attachRisk(ctx, resp.Alternatives)
	return resp, nil
}

// tablesFor returns index tables for snap, repopulating when the
// published version moved.
func (e *Engine) tablesFor(snap *datatypes.GraphVersion) *tables {
	if t := e.index.tables(); t != nil && t.version == snap.ID() {
		return t
	}
	e.rebuildMu.Lock()
	defer e.rebuildMu.Unlock()
	if t := e.index.tables(); t != nil && t.version == snap.ID() {
		return t
	}
	e.index.Populate(snap)
	e.logger.Info("city index rebuilt",
		slog.Uint64("version", snap.ID()),
		slog.Int("cities", e.index.Cities()))
	return e.index.tables()
}

func (e *Engine) attachRisk(ctx context.Context, routes []datatypes.RouteResult) {
	if e.risk == nil {
		return
	}
	for i := range routes {
		a, err := e.risk.Assess(ctx, routes[i])
		if err != nil {
			e.logger.Warn("risk assessment unavailable", slog.String("error", err.Error()))
			continue
		}
		routes[i].Risk = &a
	}
}

func newRouteResult(path []datatypes.Edge, from, to, date string, passengers int, label string) datatypes.RouteResult {
	r := datatypes.RouteResult{
		Segments:   path,
		FromCity:   from,
		ToCity:     to,
		Date:       date,
		Passengers: passengers,
		Label:      label,
	}
	lastRoute := ""
	var price float64
	for _, s := range path {
		if s.Transfer {
			continue
		}
		if lastRoute != "" && s.RouteID != lastRoute {
			r.TransferCount++
		}
		lastRoute = s.RouteID
		r.TotalDistanceKm += s.DistanceKm
		r.TotalDurationMin += s.DurationMin
		price += s.Price
	}
	r.TotalPrice = price * float64(passengers)
	return r
}
