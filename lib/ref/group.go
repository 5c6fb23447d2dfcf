// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// GroupID is a validated Matrix group (community) ID
// (e.g., "+ops:example.com").
//
// Group IDs name server-side collections of rooms and users. They
// always start with '+' and contain a ':' separating the localpart
// from the server name.
//
// GroupID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type GroupID struct {
	id string
}

// ParseGroupID validates and wraps a raw Matrix group ID string.
// Returns an error if the string is empty, doesn't start with '+',
// has an empty localpart, or is missing the ':server' suffix.
func ParseGroupID(raw string) (GroupID, error) {
	_, _, err := parseSigilID(raw, '+', "group ID")
	if err != nil {
		return GroupID{}, err
	}
	return GroupID{id: raw}, nil
}

// MustParseGroupID is like ParseGroupID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseGroupID(raw string) GroupID {
	g, err := ParseGroupID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseGroupID(%q): %v", raw, err))
	}
	return g
}

// String returns the full group ID string (e.g., "+ops:example.com").
func (g GroupID) String() string { return g.id }

// IsZero reports whether the GroupID is the zero value (uninitialized).
func (g GroupID) IsZero() bool { return g.id == "" }

// Localpart returns the group localpart without the '+' prefix or
// ':server' suffix.
func (g GroupID) Localpart() string {
	if g.id == "" {
		return ""
	}
	// Safe: validated at construction to contain '+' prefix and ':server'.
	localpart, _, _ := parseSigilID(g.id, '+', "group ID")
	return localpart
}

// Server returns the server name from the group ID.
func (g GroupID) Server() string {
	if g.id == "" {
		return ""
	}
	_, server, _ := parseSigilID(g.id, '+', "group ID")
	return server
}

// MarshalText implements encoding.TextMarshaler for JSON and other
// text-based serialization formats.
func (g GroupID) MarshalText() ([]byte, error) {
	if g.id == "" {
		return []byte{}, nil
	}
	return []byte(g.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for JSON and other
// text-based serialization formats. Validates the group ID format.
// An empty input produces the zero value (unset group ID).
func (g *GroupID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*g = GroupID{}
		return nil
	}
	parsed, err := ParseGroupID(string(data))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
