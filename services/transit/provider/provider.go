// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package provider fetches stop and route data from the upstream source
// and scores each fetch for quality.
//
// # Description
//
// A Client performs exactly one upstream call per Fetch and returns the
// payload together with a 0-100 QualityScore computed from completeness
// (fraction of required fields present) and freshness (age relative to
// the expected refresh interval). Clients never cache; that is the
// selector's job. Every failure is a RECOVERABLE faults.Error of kind
// UPSTREAM so the selector can fall back.
package provider

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
	"github.com/AleutianAI/TransitGraph/services/transit/faults"
)

// RequestKind selects which dataset to fetch.
type RequestKind string

const (
	KindStops  RequestKind = "stops"
	KindRoutes RequestKind = "routes"
)

// Request identifies one upstream fetch.
type Request struct {
	Kind   RequestKind `json:"kind"`
	Region string      `json:"region"`

	// Cities narrows a routes fetch. Order does not affect Key.
	Cities []string `json:"cities,omitempty"`
}

// Key returns a stable cache/coalescing key for the request.
func (r Request) Key() string {
	cities := make([]string, 0, len(r.Cities))
	for _, c := range r.Cities {
		cities = append(cities, datatypes.CityKey(c))
	}
	sort.Strings(cities)
	return string(r.Kind) + "|" + strings.ToLower(r.Region) + "|" + strings.Join(cities, ",")
}

// Payload is the data returned by one fetch.
type Payload struct {
	Stops []datatypes.Stop `json:"stops,omitempty"`
	Edges []datatypes.Edge `json:"edges,omitempty"`

	// GeneratedAt is when the upstream produced the data. Zero if unknown.
	GeneratedAt time.Time `json:"generated_at"`

	// FetchedAt is when this process received it.
	FetchedAt time.Time `json:"fetched_at"`
}

// Empty reports whether the payload carries no records.
func (p *Payload) Empty() bool {
	return p == nil || (len(p.Stops) == 0 && len(p.Edges) == 0)
}

// Completeness is the fraction of required fields present, in [0,1].
func (p *Payload) Completeness() float64 {
	if p == nil {
		return 0
	}
	return datatypes.Completeness(p.Stops, p.Edges)
}

// Client is a quality-scored upstream data source.
type Client interface {
	Fetch(ctx context.Context, req Request) (*Payload, datatypes.QualityScore, error)
}

// ErrNotConfigured is the cause reported by Unconfigured.
var ErrNotConfigured = errors.New("no upstream provider configured")

// Unconfigured is the Client used when neither an upstream URL nor a
// fixture is set. Every fetch fails RECOVERABLE, so loads fall through to
// the cache and then to synthetic data.
type Unconfigured struct{}

// Fetch always fails.
func (Unconfigured) Fetch(ctx context.Context, req Request) (*Payload, datatypes.QualityScore, error) {
	return nil, 0, faults.Upstream(ErrNotConfigured, "request", string(req.Kind))
}

// Weights of the quality score components.
const (
	completenessWeight = 0.7
	freshnessWeight    = 0.3
)

// Freshness scores data age against the refresh interval: 1 for data no
// older than one interval, falling linearly to 0 at two intervals. Unknown
// age (zero generatedAt) scores 0.5.
func Freshness(generatedAt, now time.Time, refresh time.Duration) float64 {
	if generatedAt.IsZero() || refresh <= 0 {
		return 0.5
	}
	age := now.Sub(generatedAt)
	if age <= refresh {
		return 1
	}
	over := float64(age-refresh) / float64(refresh)
	if over >= 1 {
		return 0
	}
	return 1 - over
}

// Score computes the QualityScore of a payload. An empty payload scores 0.
func Score(p *Payload, now time.Time, refresh time.Duration) datatypes.QualityScore {
	if p.Empty() {
		return 0
	}
	q := 100 * (completenessWeight*p.Completeness() + freshnessWeight*Freshness(p.GeneratedAt, now, refresh))
	return datatypes.QualityScore(q).Clamp()
}
