// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"sync"
	"time"
)

// Entry is a stored value with its expiry. The zero ExpiresAt means
// the value never expires.
type Entry struct {
	Value     any
	ExpiresAt time.Time
}

// Expired reports whether the entry's TTL window has passed at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Store is the storage seam beneath a Cache. Policy logic (TTL,
// level gating, recompute) lives entirely in the Cache; a Store only
// holds entries. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the entry for key, expired or not.
	Get(key string) (Entry, bool)
	// Put stores the entry for key, replacing any existing one.
	Put(key string, entry Entry)
	// Delete removes the entry for key. Missing keys are a no-op.
	Delete(key string)
	// Keys returns a snapshot of all stored keys.
	Keys() []string
	// Clear removes every entry.
	Clear()
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, found := s.entries[key]
	return entry, found
}

func (s *MemoryStore) Put(key string, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	return keys
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
}
