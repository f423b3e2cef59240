// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
	"github.com/AleutianAI/TransitGraph/services/transit/faults"
)

// FileClient serves payloads from a JSON fixture on disk. The file holds
// one Payload with both stops and edges; a stops request returns only the
// stops and a routes request only the edges (filtered by Cities when set).
//
// When the fixture has no generated_at, the file's modification time is
// used for freshness.
type FileClient struct {
	Path            string
	RefreshInterval time.Duration
	now             func() time.Time
}

// NewFileClient creates a FileClient for path.
func NewFileClient(path string, refresh time.Duration) *FileClient {
	return &FileClient{Path: path, RefreshInterval: refresh, now: time.Now}
}

// Fetch reads and filters the fixture.
func (f *FileClient) Fetch(ctx context.Context, req Request) (*Payload, datatypes.QualityScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, faults.Upstream(err, "request", string(req.Kind), "reason", "cancelled")
	}
	info, err := os.Stat(f.Path)
	if err != nil {
		return nil, 0, faults.Upstream(err, "request", string(req.Kind), "reason", "missing_file")
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, 0, faults.Upstream(err, "request", string(req.Kind))
	}
	var all Payload
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, 0, faults.Upstream(fmt.Errorf("decode %s: %w", f.Path, err), "request", string(req.Kind), "reason", "invalid_response")
	}
	if all.GeneratedAt.IsZero() {
		all.GeneratedAt = info.ModTime()
	}

	out := &Payload{GeneratedAt: all.GeneratedAt, FetchedAt: f.now()}
	switch req.Kind {
	case KindStops:
		out.Stops = all.Stops
	case KindRoutes:
		out.Edges = filterEdges(all, req.Cities)
	default:
		return nil, 0, faults.Upstream(fmt.Errorf("unknown request kind %q", req.Kind))
	}
	return out, Score(out, out.FetchedAt, f.RefreshInterval), nil
}

// filterEdges keeps edges whose endpoints both lie in one of cities.
// An empty city list keeps everything.
func filterEdges(all Payload, cities []string) []datatypes.Edge {
	if len(cities) == 0 {
		return all.Edges
	}
	want := make(map[string]bool, len(cities))
	for _, c := range cities {
		want[datatypes.CityKey(c)] = true
	}
	cityOf := make(map[string]string, len(all.Stops))
	for _, s := range all.Stops {
		cityOf[s.ID] = datatypes.CityKey(s.City)
	}
	var out []datatypes.Edge
	for _, e := range all.Edges {
		if want[cityOf[e.FromStopID]] && want[cityOf[e.ToStopID]] {
			out = append(out, e)
		}
	}
	return out
}

var _ Client = (*FileClient)(nil)
