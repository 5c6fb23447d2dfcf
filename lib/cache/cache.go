// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"sync"

	"github.com/bureau-foundation/mx/lib/clock"
)

// Config holds configuration for creating a Cache.
type Config struct {
	// Store holds the entries. If nil, a fresh MemoryStore is used.
	Store Store
	// Clock is used for TTL decisions. If nil, clock.Real() is used.
	Clock clock.Clock
	// Level is the client-wide caching level compared against each
	// policy's requirement.
	Level Level
}

// Cache memoizes computed values under per-entry policies. Reads go
// through [Lookup]; writes through [Cache.Write]. A single mutex
// serializes lookups, so a given key is computed at most once per
// expiry window even under concurrent readers.
type Cache struct {
	store Store
	clock clock.Clock
	level Level

	// mu is held across compute in Lookup.
	mu sync.Mutex
}

// New creates a Cache.
func New(config Config) *Cache {
	store := config.Store
	if store == nil {
		store = NewMemoryStore()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Cache{
		store: store,
		clock: clk,
		level: config.Level,
	}
}

// Level returns the client-wide caching level.
func (c *Cache) Level() Level { return c.level }

// Lookup returns the value for key. A fresh cached value is returned
// without running compute; otherwise compute runs and its result is
// stored under the policy's TTL. When the client level is below the
// policy's requirement the store is never consulted: compute runs on
// every call.
//
// Compute errors are returned unchanged and nothing is stored, so the
// next read retries.
func Lookup[V any](ctx context.Context, c *Cache, key string, policy Policy, compute func(context.Context) (V, error)) (V, error) {
	if !policy.active(c.level) {
		return compute(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if entry, found := c.store.Get(key); found && !entry.Expired(now) {
		if value, ok := entry.Value.(V); ok {
			return value, nil
		}
		// A stored value of the wrong type means two policies share a
		// key; treat it as a miss and overwrite below.
	}

	value, err := compute(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	c.store.Put(key, Entry{Value: value, ExpiresAt: policy.expiry(now)})
	return value, nil
}

// Read returns the value for key when a fresh entry of type V exists.
// It never computes: a missing, expired, or differently-typed entry
// reports a miss. Use Lookup when a miss should trigger a recompute.
func Read[V any](c *Cache, key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, found := c.store.Get(key)
	if !found || entry.Expired(c.clock.Now()) {
		var zero V
		return zero, false
	}
	value, ok := entry.Value.(V)
	return value, ok
}

// Write stores value for key, restarting its TTL window. Writes are
// discarded when the client level is below the policy's requirement
// (reads recompute anyway, so a stored value would never be served).
func (c *Cache) Write(key string, value any, policy Policy) {
	if !policy.active(c.level) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Put(key, Entry{Value: value, ExpiresAt: policy.expiry(c.clock.Now())})
}

// Contains reports whether key holds an unexpired value.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, found := c.store.Get(key)
	return found && !entry.Expired(c.clock.Now())
}

// Remove drops the entry for key, expired or not.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Delete(key)
}

// Clear drops every entry unconditionally.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Clear()
}

// Cleanup drops only expired entries and returns how many were
// removed. The sync loop calls this at the end of every round.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for _, key := range c.store.Keys() {
		if entry, found := c.store.Get(key); found && entry.Expired(now) {
			c.store.Delete(key)
			removed++
		}
	}
	return removed
}
