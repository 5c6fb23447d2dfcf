// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"testing"
)

func TestPayloadAccessors(t *testing.T) {
	payload := MustPayload(`{
		"next_batch": "s72595_4483_1934",
		"account_data": {"events": []},
		"rooms": {
			"join": {
				"!room:example.org": {
					"timeline": {"limited": false, "prev_batch": "t44-123"}
				}
			}
		},
		"device_one_time_keys_count": {"signed_curve25519": 50}
	}`)

	t.Run("string", func(t *testing.T) {
		cursor, ok := payload.String("next_batch")
		if !ok || cursor != "s72595_4483_1934" {
			t.Errorf("String(next_batch) = %q, %v", cursor, ok)
		}
	})

	t.Run("nested path", func(t *testing.T) {
		prevBatch, ok := payload.String("rooms", "join", "!room:example.org", "timeline", "prev_batch")
		if !ok || prevBatch != "t44-123" {
			t.Errorf("nested String = %q, %v", prevBatch, ok)
		}
	})

	t.Run("bool", func(t *testing.T) {
		limited, ok := payload.Bool("rooms", "join", "!room:example.org", "timeline", "limited")
		if !ok || limited {
			t.Errorf("Bool(limited) = %v, %v", limited, ok)
		}
	})

	t.Run("int", func(t *testing.T) {
		count, ok := payload.Int("device_one_time_keys_count", "signed_curve25519")
		if !ok || count != 50 {
			t.Errorf("Int = %d, %v", count, ok)
		}
	})

	t.Run("map", func(t *testing.T) {
		join, ok := payload.Map("rooms", "join")
		if !ok {
			t.Fatal("Map(rooms, join) reported missing")
		}
		if _, present := join["!room:example.org"]; !present {
			t.Error("joined room missing from map")
		}
	})

	t.Run("slice", func(t *testing.T) {
		events, ok := payload.Slice("account_data", "events")
		if !ok || len(events) != 0 {
			t.Errorf("Slice = %v, %v", events, ok)
		}
	})

	t.Run("missing field", func(t *testing.T) {
		if _, ok := payload.String("no_such_field"); ok {
			t.Error("missing field should report false")
		}
		if _, ok := payload.String("rooms", "invite", "!x:y"); ok {
			t.Error("missing nested path should report false")
		}
	})

	t.Run("type mismatch", func(t *testing.T) {
		if _, ok := payload.String("rooms"); ok {
			t.Error("object read as string should report false")
		}
		if _, ok := payload.Int("next_batch"); ok {
			t.Error("string read as int should report false")
		}
	})

	t.Run("path through non-object", func(t *testing.T) {
		if _, ok := payload.String("next_batch", "deeper"); ok {
			t.Error("descending through a string should report false")
		}
	})
}

func TestPayloadIntRejectsFractional(t *testing.T) {
	payload := MustPayload(`{"origin_server_ts": 1699999999999, "ratio": 0.5}`)

	ts, ok := payload.Int("origin_server_ts")
	if !ok || ts != 1699999999999 {
		t.Errorf("Int(origin_server_ts) = %d, %v", ts, ok)
	}
	if _, ok := payload.Int("ratio"); ok {
		t.Error("fractional number should report false")
	}
}

func TestPayloadEmptyBody(t *testing.T) {
	payload, err := NewPayload(nil)
	if err != nil {
		t.Fatalf("NewPayload(nil) failed: %v", err)
	}
	if _, ok := payload.String("anything"); ok {
		t.Error("empty payload should have no fields")
	}

	var into map[string]any
	if err := payload.Decode(&into); err != nil {
		t.Fatalf("Decode on empty payload failed: %v", err)
	}
	if len(into) != 0 {
		t.Errorf("expected empty object, got %v", into)
	}
}

func TestPayloadDecode(t *testing.T) {
	payload := MustPayload(`{"user_id": "@alice:example.org", "device_id": "DEV1"}`)

	var whoami struct {
		UserID   string `json:"user_id"`
		DeviceID string `json:"device_id"`
	}
	if err := payload.Decode(&whoami); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if whoami.UserID != "@alice:example.org" {
		t.Errorf("UserID = %q", whoami.UserID)
	}
	if whoami.DeviceID != "DEV1" {
		t.Errorf("DeviceID = %q", whoami.DeviceID)
	}
}

func TestNewPayloadRejectsMalformedJSON(t *testing.T) {
	if _, err := NewPayload([]byte(`{"unterminated`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestPayloadNonObjectRoot(t *testing.T) {
	// Some endpoints return a JSON array at the top level.
	payload := MustPayload(`[{"type": "m.room.create"}]`)

	if _, ok := payload.Map(); ok {
		t.Error("array root should not read as a map")
	}
	if root, ok := payload.Slice(); !ok || len(root) != 1 {
		t.Errorf("Slice() on array root = %v, %v", root, ok)
	}

	var events []map[string]any
	if err := payload.Decode(&events); err != nil {
		t.Fatalf("Decode of array root failed: %v", err)
	}
	if len(events) != 1 || events[0]["type"] != "m.room.create" {
		t.Errorf("unexpected decode result: %v", events)
	}
}
