// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mx

import (
	"slices"
	"sync"

	"github.com/bureau-foundation/mx/lib/ref"
)

// EventHandler receives a timeline, state, or ephemeral event. Handlers
// run synchronously on the dispatching goroutine and must not block.
type EventHandler func(*Event)

// PresenceHandler receives one user's presence change.
type PresenceHandler func(*PresenceEvent)

// InviteHandler receives an invitation to a room along with the
// stripped state the server shares with invitees.
type InviteHandler func(ref.RoomID, *InvitedRoom)

// LeaveHandler receives notice that the user left (or was removed
// from) a room, along with the final events the server delivered.
type LeaveHandler func(ref.RoomID, *LeftRoom)

// SyncFailure describes why a background sync unit stopped.
type SyncFailure struct {
	// Err is the failure that ended the unit.
	Err error
	// Source identifies the unit that failed: "poll" or "stream".
	Source string
}

// SyncErrorHandler receives the failure that stopped background sync.
type SyncErrorHandler func(SyncFailure)

// Subscription is the handle returned by handler registration. Remove
// unregisters the handler; it is idempotent and safe to call from
// inside a handler.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Remove unregisters the handler.
func (s *Subscription) Remove() {
	s.once.Do(s.cancel)
}

// handlerList is the ordered handler registry for one (scope,
// category) pair. Firing visits handlers most recently registered
// first; override semantics depend on this order, so it is part of
// the public contract, not an implementation detail.
type handlerList[H any] struct {
	mu      sync.Mutex
	lastID  uint64
	entries []handlerEntry[H]
}

type handlerEntry[H any] struct {
	id      uint64
	types   []ref.EventType // empty matches every event type
	handler H
}

func (e *handlerEntry[H]) matches(eventType ref.EventType) bool {
	return len(e.types) == 0 || slices.Contains(e.types, eventType)
}

func (l *handlerList[H]) add(handler H, types ...ref.EventType) *Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastID++
	id := l.lastID
	l.entries = append(l.entries, handlerEntry[H]{id: id, types: types, handler: handler})
	return &Subscription{cancel: func() { l.remove(id) }}
}

func (l *handlerList[H]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, entry := range l.entries {
		if entry.id == id {
			l.entries = slices.Delete(l.entries, i, i+1)
			return
		}
	}
}

// matching snapshots the handlers to fire for an event of the given
// type, newest registration first. The snapshot is taken under the
// lock but handlers run outside it, so a handler may register or
// remove handlers without deadlocking; changes take effect from the
// next firing.
func (l *handlerList[H]) matching(eventType ref.EventType) []H {
	l.mu.Lock()
	defer l.mu.Unlock()
	matched := make([]H, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].matches(eventType) {
			matched = append(matched, l.entries[i].handler)
		}
	}
	return matched
}

// snapshot returns every handler, newest first, for the categories
// that do not match on event type (presence, invite, leave, error).
func (l *handlerList[H]) snapshot() []H {
	return l.matching("")
}

// clientBus holds the client-scope handler lists.
type clientBus struct {
	timeline  handlerList[EventHandler]
	state     handlerList[EventHandler]
	ephemeral handlerList[EventHandler]
	presence  handlerList[PresenceHandler]
	invite    handlerList[InviteHandler]
	leave     handlerList[LeaveHandler]
	syncError handlerList[SyncErrorHandler]

	defaultMu       sync.Mutex
	defaultTimeline EventHandler
}

// roomBus holds one room's handler lists.
type roomBus struct {
	event     handlerList[EventHandler]
	state     handlerList[EventHandler]
	ephemeral handlerList[EventHandler]
}

func fireEvents(list *handlerList[EventHandler], event *Event) {
	for _, handler := range list.matching(event.Type) {
		handler(event)
	}
}

func (c *Client) fireSyncError(failure SyncFailure) {
	for _, handler := range c.bus.syncError.snapshot() {
		handler(failure)
	}
}

// OnTimelineEvent registers a handler for timeline events in any
// joined room. With no types, the handler receives every timeline
// event; otherwise only events whose type is listed.
func (c *Client) OnTimelineEvent(handler EventHandler, types ...ref.EventType) *Subscription {
	return c.bus.timeline.add(handler, types...)
}

// OnStateEvent registers a handler for state changes in any joined
// room.
func (c *Client) OnStateEvent(handler EventHandler, types ...ref.EventType) *Subscription {
	return c.bus.state.add(handler, types...)
}

// OnEphemeralEvent registers a handler for ephemeral events (typing,
// receipts) in any joined room.
func (c *Client) OnEphemeralEvent(handler EventHandler, types ...ref.EventType) *Subscription {
	return c.bus.ephemeral.add(handler, types...)
}

// OnPresence registers a handler for presence changes.
func (c *Client) OnPresence(handler PresenceHandler) *Subscription {
	return c.bus.presence.add(handler)
}

// OnInvite registers a handler for room invitations.
func (c *Client) OnInvite(handler InviteHandler) *Subscription {
	return c.bus.invite.add(handler)
}

// OnLeave registers a handler for rooms the user leaves.
func (c *Client) OnLeave(handler LeaveHandler) *Subscription {
	return c.bus.leave.add(handler)
}

// OnSyncError registers a handler for failures that stop the
// background sync unit. The handler fires once per failure, after
// which Listening reports false.
func (c *Client) OnSyncError(handler SyncErrorHandler) *Subscription {
	return c.bus.syncError.add(handler)
}

// SetDefaultTimelineHandler installs a fallback that runs after the
// timeline handler chain for events no handler marked handled. Pass
// nil to remove it. Only this one category has a fallback; state,
// ephemeral, and presence handlers all always run.
func (c *Client) SetDefaultTimelineHandler(handler EventHandler) {
	c.bus.defaultMu.Lock()
	defer c.bus.defaultMu.Unlock()
	c.bus.defaultTimeline = handler
}

func (c *Client) defaultTimelineHandler() EventHandler {
	c.bus.defaultMu.Lock()
	defer c.bus.defaultMu.Unlock()
	return c.bus.defaultTimeline
}

// OnEvent registers a handler for timeline events in this room.
func (r *Room) OnEvent(handler EventHandler, types ...ref.EventType) *Subscription {
	return r.bus.event.add(handler, types...)
}

// OnStateEvent registers a handler for state changes in this room.
func (r *Room) OnStateEvent(handler EventHandler, types ...ref.EventType) *Subscription {
	return r.bus.state.add(handler, types...)
}

// OnEphemeralEvent registers a handler for ephemeral events in this
// room.
func (r *Room) OnEphemeralEvent(handler EventHandler, types ...ref.EventType) *Subscription {
	return r.bus.ephemeral.add(handler, types...)
}
