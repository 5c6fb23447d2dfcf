// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/json"
	"fmt"
)

// Payload is a structural view of a JSON response body. It keeps the
// raw bytes for typed decoding (Decode) and a decoded map for
// field-path access, replacing ad-hoc map assertions at call sites:
//
//	cursor, ok := payload.String("next_batch")
//	join, ok := payload.Map("rooms", "join")
//
// Accessors return (zero, false) when the path is missing or the
// value has a different type — absent fields are an expected part of
// the protocol, not an error. The zero Payload behaves like an empty
// object.
type Payload struct {
	raw   []byte
	value any
}

// NewPayload parses raw JSON into a Payload. An empty body is treated
// as an empty object, matching endpoints that answer with no content.
func NewPayload(raw []byte) (Payload, error) {
	if len(raw) == 0 {
		return Payload{raw: raw, value: map[string]any{}}, nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return Payload{}, fmt.Errorf("transport: parsing response body: %w", err)
	}
	return Payload{raw: raw, value: value}, nil
}

// MustPayload is like NewPayload but panics on error. For tests and
// static fixtures with known-valid JSON.
func MustPayload(raw string) Payload {
	payload, err := NewPayload([]byte(raw))
	if err != nil {
		panic(fmt.Sprintf("transport.MustPayload: %v", err))
	}
	return payload
}

// Raw returns the undecoded response bytes.
func (p Payload) Raw() []byte { return p.raw }

// Decode unmarshals the payload into a typed value.
func (p Payload) Decode(into any) error {
	raw := p.raw
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("transport: decoding response: %w", err)
	}
	return nil
}

// lookup walks the field path through nested JSON objects.
func (p Payload) lookup(path []string) (any, bool) {
	current := p.value
	for _, field := range path {
		object, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = object[field]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// String returns the string at the field path.
func (p Payload) String(path ...string) (string, bool) {
	value, ok := p.lookup(path)
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// Int returns the integer at the field path. JSON numbers decode as
// float64; fractional values report false.
func (p Payload) Int(path ...string) (int64, bool) {
	value, ok := p.lookup(path)
	if !ok {
		return 0, false
	}
	f, ok := value.(float64)
	if !ok || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

// Bool returns the boolean at the field path.
func (p Payload) Bool(path ...string) (bool, bool) {
	value, ok := p.lookup(path)
	if !ok {
		return false, false
	}
	b, ok := value.(bool)
	return b, ok
}

// Map returns the object at the field path.
func (p Payload) Map(path ...string) (map[string]any, bool) {
	value, ok := p.lookup(path)
	if !ok {
		return nil, false
	}
	m, ok := value.(map[string]any)
	return m, ok
}

// Slice returns the array at the field path.
func (p Payload) Slice(path ...string) ([]any, bool) {
	value, ok := p.lookup(path)
	if !ok {
		return nil, false
	}
	s, ok := value.([]any)
	return s, ok
}
