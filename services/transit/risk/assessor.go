// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package risk

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
)

// DefaultCacheSize is the default number of cached assessments.
const DefaultCacheSize = 10_000

// ErrNoStatsSource is returned by NewAssessor when source is nil.
var ErrNoStatsSource = errors.New("risk assessor requires a stats source")

// Assessor looks up stats for a route and scores it, caching results by
// CacheKey.
//
// # Thread Safety
//
// Safe for concurrent use.
type Assessor struct {
	source StatsSource
	config Config
	cache  *ristretto.Cache[string, datatypes.RiskAssessment]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewAssessor creates an Assessor holding at most cacheSize assessments.
// cacheSize <= 0 uses DefaultCacheSize.
func NewAssessor(source StatsSource, cfg Config, cacheSize int64) (*Assessor, error) {
	if source == nil {
		return nil, ErrNoStatsSource
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, datatypes.RiskAssessment]{
		NumCounters: cacheSize * 10,
		MaxCost:     cacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create risk cache: %w", err)
	}
	return &Assessor{source: source, config: cfg, cache: cache}, nil
}

// Assess returns the risk assessment for route.
//
// # Outputs
//
//   - datatypes.RiskAssessment: The assessment.
//   - error: Non-nil only if the stats source failed.
func (a *Assessor) Assess(ctx context.Context, route datatypes.RouteResult) (datatypes.RiskAssessment, error) {
	stats, err := a.source.Stats(ctx, route)
	if err != nil {
		return datatypes.RiskAssessment{}, err
	}
	key := CacheKey(route, stats)
	if cached, ok := a.cache.Get(key); ok {
		a.hits.Add(1)
		return cached, nil
	}
	a.misses.Add(1)
	out := Assess(route, stats, a.config)
	a.cache.Set(key, out, 1)
	return out, nil
}

// CacheStats returns cache hit and miss counts.
func (a *Assessor) CacheStats() (hits, misses int64) {
	return a.hits.Load(), a.misses.Load()
}

// Wait blocks until pending cache writes are applied.
func (a *Assessor) Wait() {
	a.cache.Wait()
}

// Close releases the cache.
func (a *Assessor) Close() {
	a.cache.Close()
}
