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

import (
	"fmt"
	"sync/atomic"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
)

// Cell is a versioned reference cell holding the current graph snapshot.
//
// # Description
//
// Cell replaces a global "current graph" variable. Readers call Load and
// get either the previous snapshot or the new one, never a mix, because
// the only mutation is a single atomic pointer swap. Writers must state
// which version they expect to replace; a stale writer gets
// ErrVersionConflict instead of silently overwriting a newer build.
//
// # Thread Safety
//
// All methods are safe for concurrent use and lock-free.
type Cell struct {
	ptr atomic.Pointer[datatypes.GraphVersion]
}

// NewCell returns an empty cell. Load returns nil until the first publish.
func NewCell() *Cell {
	return &Cell{}
}

// Load returns the current snapshot, or nil if none has been published.
// The returned value must be treated as read-only.
func (c *Cell) Load() *datatypes.GraphVersion {
	return c.ptr.Load()
}

// Version returns the current version id, or 0 if empty.
func (c *Cell) Version() uint64 {
	if g := c.ptr.Load(); g != nil {
		return g.ID()
	}
	return 0
}

// CompareAndPublish installs next if the current version id equals
// expected (0 meaning "empty cell").
//
// # Outputs
//
//   - error: ErrVersionConflict if another writer published first, or
//     ErrInvalidSnapshot if next is nil or incomplete.
func (c *Cell) CompareAndPublish(expected uint64, next *datatypes.GraphVersion) error {
	if !next.Complete() {
		return ErrInvalidSnapshot
	}
	for {
		old := c.ptr.Load()
		var oldID uint64
		if old != nil {
			oldID = old.ID()
		}
		if oldID != expected {
			return fmt.Errorf("%w: expected %d, current %d", ErrVersionConflict, expected, oldID)
		}
		if c.ptr.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// Clear empties the cell. Used when the persisted pointer is found missing.
func (c *Cell) Clear() {
	c.ptr.Store(nil)
}
