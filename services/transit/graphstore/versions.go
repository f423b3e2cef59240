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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
	"github.com/AleutianAI/TransitGraph/services/transit/faults"
)

// DefaultRetain is how many superseded versions are kept for rollback.
const DefaultRetain = 3

// Archiver receives a version just before it is pruned.
type Archiver interface {
	Archive(ctx context.Context, g *datatypes.GraphVersion) error
}

// VersionStore combines the in-process Cell with a persistent Store.
//
// # Description
//
// Readers go through Snapshot, which is a lock-free load of the Cell.
// Writers (Publish, Rollback, Sync) are serialized by a mutex so the
// persisted pointer and the Cell always move together: the store pointer
// is swapped first, then the Cell, each with the same expected version.
//
// # Thread Safety
//
// Safe for concurrent use.
type VersionStore struct {
	store    Store
	cell     *Cell
	retain   int
	archiver Archiver
	logger   *slog.Logger

	writeMu sync.Mutex
}

// VersionStoreOption configures a VersionStore.
type VersionStoreOption func(*VersionStore)

// WithRetain sets how many superseded versions Prune keeps.
func WithRetain(n int) VersionStoreOption {
	return func(v *VersionStore) {
		if n >= 0 {
			v.retain = n
		}
	}
}

// WithArchiver archives pruned versions before deletion.
func WithArchiver(a Archiver) VersionStoreOption {
	return func(v *VersionStore) {
		v.archiver = a
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) VersionStoreOption {
	return func(v *VersionStore) {
		if l != nil {
			v.logger = l
		}
	}
}

// NewVersionStore creates a VersionStore over store. The Cell starts
// empty; call Restore to load the persisted current version.
func NewVersionStore(store Store, opts ...VersionStoreOption) *VersionStore {
	v := &VersionStore{
		store:  store,
		cell:   NewCell(),
		retain: DefaultRetain,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Store exposes the underlying persistent store.
func (v *VersionStore) Store() Store {
	return v.store
}

// CurrentVersion returns the published version id, or 0 if none.
func (v *VersionStore) CurrentVersion() uint64 {
	return v.cell.Version()
}

// Snapshot returns the current snapshot for reading.
//
// # Outputs
//
//   - *datatypes.GraphVersion: Immutable snapshot. Never partially built.
//   - error: GRAPH_OUT_OF_SYNC (faults) when nothing is published or the
//     snapshot fails its completeness check.
func (v *VersionStore) Snapshot() (*datatypes.GraphVersion, error) {
	g := v.cell.Load()
	if g == nil {
		return nil, faults.GraphOutOfSync("no graph version has been published")
	}
	if !g.Complete() {
		return nil, faults.GraphOutOfSync("current graph version is incomplete")
	}
	return g, nil
}

// Metadata returns {nodeCount, edgeCount, builtAt} for a version. The
// current version is served from memory.
func (v *VersionStore) Metadata(ctx context.Context, version uint64) (datatypes.VersionMeta, error) {
	if g := v.cell.Load(); g != nil && g.ID() == version {
		return g.Meta, nil
	}
	return v.store.Metadata(ctx, version)
}

// Publish persists g and atomically makes it current.
//
// An expired persisted pointer is treated as no current version, so
// publishing resumes after a TTL lapse. Returns ErrVersionConflict if
// another writer moved the pointer since this process last observed it.
func (v *VersionStore) Publish(ctx context.Context, g *datatypes.GraphVersion) error {
	if !g.Complete() {
		return ErrInvalidSnapshot
	}

	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	expected, err := v.expectedLocked(ctx)
	if err != nil {
		return err
	}
	if err := v.store.Save(ctx, g); err != nil {
		return err
	}
	if err := v.store.SetCurrent(ctx, expected, g.ID()); err != nil {
		return err
	}
	if err := v.cell.CompareAndPublish(expected, g); err != nil {
		return err
	}
	v.logger.Info("graph version published",
		slog.Uint64("version", g.ID()),
		slog.Uint64("previous", expected),
		slog.Int("nodes", g.Meta.NodeCount),
		slog.Int("edges", g.Meta.EdgeCount))
	return nil
}

// Restore loads the persisted current version into the Cell. A store
// with no pointer leaves the Cell empty and returns nil.
func (v *VersionStore) Restore(ctx context.Context) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	return v.syncLocked(ctx)
}

// Sync reconciles the Cell with the persisted pointer: it loads a newer
// version published by another process and clears the Cell when the
// pointer has expired.
func (v *VersionStore) Sync(ctx context.Context) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	return v.syncLocked(ctx)
}

// Watch calls Sync every interval until ctx is done, so an expired or
// externally moved pointer reaches readers within one interval. Sync
// failures are logged and retried on the next tick.
func (v *VersionStore) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := v.Sync(ctx); err != nil && ctx.Err() == nil {
				v.logger.Warn("graph version sync failed", slog.String("error", err.Error()))
			}
		}
	}
}

// expectedLocked returns the version a pointer swap should expect. An
// expired pointer clears the Cell first so the swap expects 0; a pointer
// moved by another writer is left for SetCurrent to reject.
func (v *VersionStore) expectedLocked(ctx context.Context) (uint64, error) {
	_, err := v.store.Current(ctx)
	switch {
	case errors.Is(err, ErrNoCurrentVersion):
		if v.cell.Version() != 0 {
			v.logger.Warn("current version pointer missing from store, clearing", slog.Uint64("version", v.cell.Version()))
			v.cell.Clear()
		}
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read current pointer: %w", err)
	}
	return v.cell.Version(), nil
}

func (v *VersionStore) syncLocked(ctx context.Context) error {
	cur, err := v.store.Current(ctx)
	if errors.Is(err, ErrNoCurrentVersion) {
		if v.cell.Version() != 0 {
			v.logger.Warn("current version pointer missing from store, clearing", slog.Uint64("version", v.cell.Version()))
			v.cell.Clear()
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read current pointer: %w", err)
	}
	if cur == v.cell.Version() {
		return nil
	}
	g, err := v.store.Load(ctx, cur)
	if err != nil {
		return err
	}
	if err := v.cell.CompareAndPublish(v.cell.Version(), g); err != nil {
		return err
	}
	v.logger.Info("graph version restored", slog.Uint64("version", cur))
	return nil
}

// Rollback makes a retained older version current again.
func (v *VersionStore) Rollback(ctx context.Context, version uint64) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	g, err := v.store.Load(ctx, version)
	if err != nil {
		return err
	}
	if !g.Complete() {
		return fmt.Errorf("%w: version %d", ErrInvalidSnapshot, version)
	}
	expected, err := v.expectedLocked(ctx)
	if err != nil {
		return err
	}
	if err := v.store.SetCurrent(ctx, expected, version); err != nil {
		return err
	}
	if err := v.cell.CompareAndPublish(expected, g); err != nil {
		return err
	}
	v.logger.Warn("graph version rolled back", slog.Uint64("from", expected), slog.Uint64("to", version))
	return nil
}

// Versions lists stored version metadata, newest first.
func (v *VersionStore) Versions(ctx context.Context) ([]datatypes.VersionMeta, error) {
	ids, err := v.store.Versions(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	metas := make([]datatypes.VersionMeta, 0, len(ids))
	for _, id := range ids {
		meta, err := v.store.Metadata(ctx, id)
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// Prune deletes superseded versions beyond the retention window.
//
// # Description
//
// Keeps the current version plus the newest `retain` others. Each pruned
// version is handed to the Archiver first, if configured; an archive
// failure skips deletion of that version so nothing is lost.
//
// # Outputs
//
//   - []uint64: Version ids deleted.
//   - error: First store error encountered.
func (v *VersionStore) Prune(ctx context.Context) ([]uint64, error) {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	ids, err := v.store.Versions(ctx)
	if err != nil {
		return nil, err
	}
	current := v.cell.Version()
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	var pruned []uint64
	kept := 0
	for _, id := range ids {
		if id == current {
			continue
		}
		if kept < v.retain {
			kept++
			continue
		}
		if v.archiver != nil {
			g, err := v.store.Load(ctx, id)
			if err != nil {
				return pruned, err
			}
			if err := v.archiver.Archive(ctx, g); err != nil {
				v.logger.Warn("archive failed, keeping version", slog.Uint64("version", id), slog.String("error", err.Error()))
				continue
			}
		}
		if err := v.store.Delete(ctx, id); err != nil {
			return pruned, fmt.Errorf("delete version %d: %w", id, err)
		}
		pruned = append(pruned, id)
	}
	if len(pruned) > 0 {
		v.logger.Info("pruned graph versions", slog.Any("versions", pruned), slog.Int("retain", v.retain))
	}
	return pruned, nil
}
