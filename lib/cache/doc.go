// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache provides TTL-based memoization with per-entry policies
// and a client-wide caching level.
//
// Each entry is governed by a [Policy]: how long a computed value stays
// fresh (TTL, or no expiry), and the minimum client [Level] required
// for caching to apply at all. When the client's level is below the
// policy's requirement the cache is bypassed entirely and every read
// recomputes.
//
// [Lookup] is the read path: it returns the cached value when fresh,
// otherwise runs the compute function and stores the result. [Read]
// is the non-computing variant for callers that only want to observe
// a fresh entry. [Cache.Write] installs a value directly (a write
// always restarts the TTL window). [Cache.Cleanup] drops expired
// entries; the sync loop calls it at the end of every round.
//
// Storage is behind the [Store] seam; [MemoryStore] is the default.
// Time is read through lib/clock so tests control expiry
// deterministically.
package cache
