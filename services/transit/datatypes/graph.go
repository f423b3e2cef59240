// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package datatypes

import "time"

// VersionMeta is the per-version metadata record exposed to health checks.
type VersionMeta struct {
	Version   uint64         `json:"version"`
	NodeCount int            `json:"node_count"`
	EdgeCount int            `json:"edge_count"`
	BuiltAt   time.Time      `json:"built_at"`
	Mode      DataSourceMode `json:"mode,omitempty"`
	Quality   QualityScore   `json:"quality,omitempty"`
}

// GraphVersion is an immutable, validated snapshot of the route graph.
//
// Once published a GraphVersion must not be mutated. Rebuilds produce a new
// value with a higher Version.
type GraphVersion struct {
	Meta  VersionMeta `json:"meta"`
	Nodes []Stop      `json:"nodes"`
	Edges []Edge      `json:"edges"`
}

// ID returns the version id.
func (g *GraphVersion) ID() uint64 {
	return g.Meta.Version
}

// Complete reports whether the node and edge sets match the recorded
// metadata. A snapshot whose storage expired partially fails this check.
func (g *GraphVersion) Complete() bool {
	if g == nil || g.Meta.Version == 0 {
		return false
	}
	return len(g.Nodes) == g.Meta.NodeCount &&
		len(g.Edges) == g.Meta.EdgeCount &&
		g.Meta.NodeCount > 0 && g.Meta.EdgeCount > 0
}
