// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// Kind classifies a Matrix identifier by its sigil.
type Kind int

const (
	KindUnknown Kind = iota
	KindUser         // '@'
	KindRoom         // '!'
	KindEvent        // '$'
	KindGroup        // '+'
	KindAlias        // '#'
)

// String returns the kind name ("user", "room", ...).
func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindRoom:
		return "room"
	case KindEvent:
		return "event"
	case KindGroup:
		return "group"
	case KindAlias:
		return "alias"
	default:
		return "unknown"
	}
}

// KindOf reports the identifier kind implied by the sigil of raw. It
// classifies only — the identifier is not otherwise validated. Returns
// an error for an empty string or an unrecognized sigil.
func KindOf(raw string) (Kind, error) {
	if raw == "" {
		return KindUnknown, fmt.Errorf("empty identifier")
	}
	switch raw[0] {
	case '@':
		return KindUser, nil
	case '!':
		return KindRoom, nil
	case '$':
		return KindEvent, nil
	case '+':
		return KindGroup, nil
	case '#':
		return KindAlias, nil
	default:
		return KindUnknown, fmt.Errorf("identifier %q has no recognized sigil", raw)
	}
}

// parseSigilID extracts localpart and server from an identifier of the
// form <sigil>localpart:server. The server part may contain further
// colons (IPv6 literals, explicit ports).
func parseSigilID(identifier string, sigil byte, kind string) (localpart, server string, err error) {
	if len(identifier) < 2 || identifier[0] != sigil {
		return "", "", fmt.Errorf("invalid %s %q: must start with %c", kind, identifier, sigil)
	}
	colonIndex := strings.Index(identifier[1:], ":")
	if colonIndex < 0 {
		return "", "", fmt.Errorf("invalid %s %q: missing :server", kind, identifier)
	}
	colonIndex++ // adjust for [1:] offset
	if colonIndex < 2 {
		return "", "", fmt.Errorf("invalid %s %q: empty localpart", kind, identifier)
	}
	localpart = identifier[1:colonIndex]
	server = identifier[colonIndex+1:]
	if err := validateServer(server); err != nil {
		return "", "", fmt.Errorf("invalid %s %q: %w", kind, identifier, err)
	}
	return localpart, server, nil
}

// validateServer checks that a Matrix server name is minimally valid:
// non-empty, no whitespace or control characters, no sigils.
func validateServer(server string) error {
	if server == "" {
		return fmt.Errorf("empty server name")
	}
	for i := 0; i < len(server); i++ {
		c := server[i]
		if c <= ' ' || c == '@' || c == '#' || c == '!' || c == '$' || c == '+' {
			return fmt.Errorf("server name %q: invalid character at position %d", server, i)
		}
	}
	return nil
}
