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

import "errors"

var (
	// ErrVersionConflict is returned when a publish does not start from the
	// expected current version.
	ErrVersionConflict = errors.New("graph version conflict")

	// ErrInvalidSnapshot is returned when publishing a nil or incomplete snapshot.
	ErrInvalidSnapshot = errors.New("snapshot is incomplete")

	// ErrVersionNotFound is returned when a version is not in the store.
	ErrVersionNotFound = errors.New("graph version not found")

	// ErrNoCurrentVersion is returned when no version has been published.
	ErrNoCurrentVersion = errors.New("no current graph version")

	// ErrEmptyGraph is a validation failure: no nodes or no edges.
	ErrEmptyGraph = errors.New("graph has no nodes or no edges")

	// ErrDanglingEdge is a validation failure: an edge references an unknown stop.
	ErrDanglingEdge = errors.New("edge references unknown stop")

	// ErrInvalidEdge is a validation failure: an edge carries a negative cost.
	ErrInvalidEdge = errors.New("edge has invalid cost")

	// ErrUnreachableCity is a validation failure: a city on a route edge is
	// not connected to any other city.
	ErrUnreachableCity = errors.New("city is not connected to any other city")
)
