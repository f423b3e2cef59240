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
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
	kv "github.com/AleutianAI/TransitGraph/services/transit/storage/badger"
)

// Key layout:
//
//	graph/current          -> uint64 current version id (optional TTL)
//	graph/seq              -> uint64 last allocated version id
//	graph/v/<id>/meta      -> VersionMeta
//	graph/v/<id>/nodes     -> []Stop
//	graph/v/<id>/edges     -> []Edge
//
// <id> is zero-padded to 20 digits so keys sort numerically.
const (
	keyCurrent       = "graph/current"
	keySeq           = "graph/seq"
	versionKeyPrefix = "graph/v/"
)

func versionKey(version uint64, part string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", versionKeyPrefix, version, part))
}

// BadgerStore is a Store backed by BadgerDB.
type BadgerStore struct {
	db         *kv.DB
	pointerTTL time.Duration
}

// BadgerStoreOption configures a BadgerStore.
type BadgerStoreOption func(*BadgerStore)

// WithPointerTTL makes the current-version pointer expire unless it is
// republished within ttl. An expired pointer reads as ErrNoCurrentVersion,
// which search reports as GRAPH_OUT_OF_SYNC.
func WithPointerTTL(ttl time.Duration) BadgerStoreOption {
	return func(s *BadgerStore) {
		s.pointerTTL = ttl
	}
}

// NewBadgerStore wraps an open database.
func NewBadgerStore(db *kv.DB, opts ...BadgerStoreOption) *BadgerStore {
	s := &BadgerStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BadgerStore) NextVersion(ctx context.Context) (uint64, error) {
	var next uint64
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var seq uint64
		if err := kv.GetJSON(txn, []byte(keySeq), &seq); err != nil && !errors.Is(err, kv.ErrNotFound) {
			return err
		}
		next = seq + 1
		return kv.PutJSON(txn, []byte(keySeq), next, 0)
	})
	if err != nil {
		return 0, fmt.Errorf("allocate version: %w", err)
	}
	return next, nil
}

func (s *BadgerStore) Save(ctx context.Context, g *datatypes.GraphVersion) error {
	id := g.ID()
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := kv.PutJSON(txn, versionKey(id, "nodes"), g.Nodes, 0); err != nil {
			return err
		}
		if err := kv.PutJSON(txn, versionKey(id, "edges"), g.Edges, 0); err != nil {
			return err
		}
		// Meta is written last within the same transaction; Versions keys
		// off it, so a listed version always has its node and edge sets.
		return kv.PutJSON(txn, versionKey(id, "meta"), g.Meta, 0)
	})
	if err != nil {
		return fmt.Errorf("save version %d: %w", id, err)
	}
	return nil
}

func (s *BadgerStore) Load(ctx context.Context, version uint64) (*datatypes.GraphVersion, error) {
	g := &datatypes.GraphVersion{}
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		if err := kv.GetJSON(txn, versionKey(version, "meta"), &g.Meta); err != nil {
			return err
		}
		if err := kv.GetJSON(txn, versionKey(version, "nodes"), &g.Nodes); err != nil {
			return err
		}
		return kv.GetJSON(txn, versionKey(version, "edges"), &g.Edges)
	})
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrVersionNotFound, version)
	}
	if err != nil {
		return nil, fmt.Errorf("load version %d: %w", version, err)
	}
	return g, nil
}

func (s *BadgerStore) Metadata(ctx context.Context, version uint64) (datatypes.VersionMeta, error) {
	var meta datatypes.VersionMeta
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return kv.GetJSON(txn, versionKey(version, "meta"), &meta)
	})
	if errors.Is(err, kv.ErrNotFound) {
		return meta, fmt.Errorf("%w: %d", ErrVersionNotFound, version)
	}
	return meta, err
}

func (s *BadgerStore) Current(ctx context.Context) (uint64, error) {
	var cur uint64
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return kv.GetJSON(txn, []byte(keyCurrent), &cur)
	})
	if errors.Is(err, kv.ErrNotFound) {
		return 0, ErrNoCurrentVersion
	}
	if err != nil {
		return 0, err
	}
	return cur, nil
}

// SetCurrent performs the pointer swap in one transaction. Badger's
// optimistic concurrency turns a racing writer into ErrConflict at commit,
// which is reported as ErrVersionConflict.
func (s *BadgerStore) SetCurrent(ctx context.Context, expected, next uint64) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var cur uint64
		if err := kv.GetJSON(txn, []byte(keyCurrent), &cur); err != nil && !errors.Is(err, kv.ErrNotFound) {
			return err
		}
		if cur != expected {
			return fmt.Errorf("%w: expected %d, current %d", ErrVersionConflict, expected, cur)
		}
		if _, err := txn.Get(versionKey(next, "meta")); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %d", ErrVersionNotFound, next)
			}
			return err
		}
		return kv.PutJSON(txn, []byte(keyCurrent), next, s.pointerTTL)
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: concurrent publish", ErrVersionConflict)
	}
	return err
}

func (s *BadgerStore) Versions(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		for _, key := range kv.Keys(txn, []byte(versionKeyPrefix)) {
			rest := strings.TrimPrefix(string(key), versionKeyPrefix)
			idPart, part, ok := strings.Cut(rest, "/")
			if !ok || part != "meta" {
				continue
			}
			id, err := strconv.ParseUint(idPart, 10, 64)
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

func (s *BadgerStore) Delete(ctx context.Context, version uint64) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var cur uint64
		if err := kv.GetJSON(txn, []byte(keyCurrent), &cur); err != nil && !errors.Is(err, kv.ErrNotFound) {
			return err
		}
		if cur == version {
			return fmt.Errorf("refusing to delete current version %d", version)
		}
		for _, part := range []string{"meta", "nodes", "edges"} {
			if err := txn.Delete(versionKey(version, part)); err != nil {
				return err
			}
		}
		return nil
	})
}

var _ Store = (*BadgerStore)(nil)
