// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/TransitGraph/services/transit/provider"
	kv "github.com/AleutianAI/TransitGraph/services/transit/storage/badger"
)

// ErrCacheMiss is returned by PayloadCache.Get when no entry exists.
var ErrCacheMiss = errors.New("payload cache miss")

// PayloadCache stores the last good payload per request key.
type PayloadCache interface {
	Get(ctx context.Context, key string) (*provider.Payload, error)
	Put(ctx context.Context, key string, p *provider.Payload) error
}

// MemoryCache is an in-process PayloadCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*provider.Payload
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*provider.Payload)}
}

func (m *MemoryCache) Get(ctx context.Context, key string) (*provider.Payload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return p, nil
}

func (m *MemoryCache) Put(ctx context.Context, key string, p *provider.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = p
	return nil
}

// BadgerCache persists payloads in BadgerDB under "cache/payload/<key>".
// Entries expire after TTL so RECOVERY never repairs from arbitrarily old data.
type BadgerCache struct {
	db  *kv.DB
	ttl time.Duration
}

// NewBadgerCache creates a BadgerCache. ttl <= 0 keeps entries forever.
func NewBadgerCache(db *kv.DB, ttl time.Duration) *BadgerCache {
	return &BadgerCache{db: db, ttl: ttl}
}

func cacheKey(key string) []byte {
	return []byte("cache/payload/" + key)
}

func (c *BadgerCache) Get(ctx context.Context, key string) (*provider.Payload, error) {
	var p provider.Payload
	err := c.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return kv.GetJSON(txn, cacheKey(key), &p)
	})
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *BadgerCache) Put(ctx context.Context, key string, p *provider.Payload) error {
	return c.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return kv.PutJSON(txn, cacheKey(key), p, c.ttl)
	})
}

var (
	_ PayloadCache = (*MemoryCache)(nil)
	_ PayloadCache = (*BadgerCache)(nil)
)
