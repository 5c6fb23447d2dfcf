// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"fmt"
	"time"
)

// Level is the client-wide caching level. Policies declare the minimum
// level they need; a client below that level bypasses the cache for
// those entries.
type Level int

const (
	// None disables caching for every policy with a requirement.
	None Level = iota
	// Some enables caching for policies requiring Some or less.
	Some
	// All enables caching for every policy.
	All
)

func (l Level) String() string {
	switch l {
	case None:
		return "none"
	case Some:
		return "some"
	case All:
		return "all"
	default:
		return "invalid"
	}
}

// ParseLevel converts a configuration string into a Level. The empty
// string maps to Some, the default for clients that do not choose.
func ParseLevel(raw string) (Level, error) {
	switch raw {
	case "none":
		return None, nil
	case "some", "":
		return Some, nil
	case "all":
		return All, nil
	default:
		return None, fmt.Errorf("cache: unknown level %q (want none, some, or all)", raw)
	}
}

// Policy governs one cache entry. The two conditions combine: caching
// applies only when the client level meets Requires, and a cached
// value is served only within its TTL window.
type Policy struct {
	// TTL is how long a stored value stays fresh. Ignored when
	// NoExpiry is set.
	TTL time.Duration
	// NoExpiry marks values that stay fresh until overwritten or
	// removed.
	NoExpiry bool
	// Requires is the minimum client level for caching to apply.
	// Below it, reads recompute and writes are discarded.
	Requires Level
}

// active reports whether caching applies under the given client level.
func (p Policy) active(level Level) bool {
	return level >= p.Requires
}

// expiry computes the expiry for a value stored at now. The zero time
// means the value never expires.
func (p Policy) expiry(now time.Time) time.Time {
	if p.NoExpiry {
		return time.Time{}
	}
	return now.Add(p.TTL)
}
