// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mx

import (
	"github.com/bureau-foundation/mx/lib/ref"
)

// Event represents a Matrix event from the server: a timeline message,
// a state change, or an ephemeral signal, depending on which sync
// section delivered it.
//
// Events are dispatched by pointer so that every handler in the chain
// sees the same value; the handled flag set by one handler is visible
// to the default timeline handler that runs after the chain.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           ref.EventType  `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	RoomID         ref.RoomID     `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty"`

	// handled records that some handler claimed the event. Only the
	// default timeline handler consults it; regular handlers always
	// run. Written and read on the dispatching goroutine.
	handled bool
}

// EventUnsigned holds optional unsigned data attached to events.
type EventUnsigned struct {
	Age           int64          `json:"age,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	PrevContent   map[string]any `json:"prev_content,omitempty"`
}

// IsState reports whether the event is a state event (carries a state
// key, possibly empty).
func (e *Event) IsState() bool {
	return e.StateKey != nil
}

// MarkHandled flags the event as handled. All remaining handlers in
// the chain still run; only the client's default timeline handler is
// skipped for a handled event.
func (e *Event) MarkHandled() {
	e.handled = true
}

// Handled reports whether some handler marked the event handled.
func (e *Event) Handled() bool {
	return e.handled
}

// ContentString returns the named content field when it is a string.
func (e *Event) ContentString(key string) (string, bool) {
	value, ok := e.Content[key].(string)
	return value, ok
}
