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
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
)

// Store persists graph snapshots and the current-version pointer.
//
// Implementations must make SetCurrent a single atomic compare-and-set on
// the pointer; it is the only cross-process invariant the system relies on.
type Store interface {
	// NextVersion allocates a fresh, strictly increasing version id.
	NextVersion(ctx context.Context) (uint64, error)

	// Save persists a snapshot's metadata, nodes and edges.
	Save(ctx context.Context, g *datatypes.GraphVersion) error

	// Load returns a stored snapshot or ErrVersionNotFound.
	Load(ctx context.Context, version uint64) (*datatypes.GraphVersion, error)

	// Metadata returns only the metadata record of a version.
	Metadata(ctx context.Context, version uint64) (datatypes.VersionMeta, error)

	// Current returns the persisted pointer or ErrNoCurrentVersion.
	Current(ctx context.Context) (uint64, error)

	// SetCurrent moves the pointer from expected (0 = unset) to next.
	// Returns ErrVersionConflict if the pointer is not at expected.
	SetCurrent(ctx context.Context, expected, next uint64) error

	// Versions lists stored version ids in ascending order.
	Versions(ctx context.Context) ([]uint64, error)

	// Delete removes a stored version. Deleting the current version is an error.
	Delete(ctx context.Context, version uint64) error
}

// MemoryStore is an in-process Store used by tests and the one-shot CLI.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      uint64
	current  uint64
	versions map[uint64]*datatypes.GraphVersion
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[uint64]*datatypes.GraphVersion)}
}

func (m *MemoryStore) NextVersion(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq, nil
}

func (m *MemoryStore) Save(ctx context.Context, g *datatypes.GraphVersion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[g.ID()] = g
	if g.ID() > m.seq {
		m.seq = g.ID()
	}
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, version uint64) (*datatypes.GraphVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrVersionNotFound, version)
	}
	return g, nil
}

func (m *MemoryStore) Metadata(ctx context.Context, version uint64) (datatypes.VersionMeta, error) {
	g, err := m.Load(ctx, version)
	if err != nil {
		return datatypes.VersionMeta{}, err
	}
	return g.Meta, nil
}

func (m *MemoryStore) Current(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == 0 {
		return 0, ErrNoCurrentVersion
	}
	return m.current, nil
}

func (m *MemoryStore) SetCurrent(ctx context.Context, expected, next uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != expected {
		return fmt.Errorf("%w: expected %d, current %d", ErrVersionConflict, expected, m.current)
	}
	if _, ok := m.versions[next]; !ok {
		return fmt.Errorf("%w: %d", ErrVersionNotFound, next)
	}
	m.current = next
	return nil
}

func (m *MemoryStore) Versions(ctx context.Context) ([]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uint64, 0, len(m.versions))
	for id := range m.versions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryStore) Delete(ctx context.Context, version uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if version == m.current {
		return fmt.Errorf("refusing to delete current version %d", version)
	}
	delete(m.versions, version)
	return nil
}

var _ Store = (*MemoryStore)(nil)
