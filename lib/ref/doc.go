// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable references for Matrix
// protocol identifiers. Every identifier kind the client-server API
// exchanges — user ID, room ID, event ID, group ID, room alias — is
// represented by a validated value type distinguished by its sigil:
//
//	@localpart:server   UserID
//	!opaque:server      RoomID
//	$opaque             EventID (no server part required)
//	+localpart:server   GroupID
//	#localpart:server   RoomAlias
//
// All constructors validate their inputs and return errors for invalid
// identifiers; malformed input is never coerced into a ref. Once
// constructed, a ref is immutable. The zero value of every type is not
// a valid identifier; use IsZero to check.
//
// JSON marshaling uses the full identifier string via
// encoding.TextMarshaler, which also lets RoomID and UserID serve as
// JSON map keys in sync payloads.
package ref
