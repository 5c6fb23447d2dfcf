// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mx

import (
	"maps"

	"github.com/bureau-foundation/mx/lib/cache"
	"github.com/bureau-foundation/mx/lib/ref"
)

// dispatch applies one decoded sync payload: presence, invitations,
// leaves, then the per-room algorithm for every joined room, and
// finally an expired-entry sweep of the attribute cache. It runs on
// the dispatching goroutine with no suspension points, so a payload
// is always applied in full — cancellation takes effect between
// payloads, never in the middle of one.
func (c *Client) dispatch(response *SyncResponse, lazyMembers bool) {
	for i := range response.Presence.Events {
		event := &response.Presence.Events[i]
		for _, handler := range c.bus.presence.snapshot() {
			handler(event)
		}
	}

	for roomID, invited := range response.Rooms.Invite {
		for _, handler := range c.bus.invite.snapshot() {
			handler(roomID, &invited)
		}
	}

	for roomID, left := range response.Rooms.Leave {
		c.dropRoom(roomID)
		for _, handler := range c.bus.leave.snapshot() {
			handler(roomID, &left)
		}
	}

	for roomID, joined := range response.Rooms.Join {
		c.ensureRoom(roomID).applySync(&joined, lazyMembers)
	}

	if removed := c.cache.Cleanup(); removed > 0 {
		c.logger.Debug("dropped expired room attributes", "count", removed)
	}
}

// applySync applies one joined room's section of a sync payload.
//
// State-section events apply their attribute side effect and fire the
// state callbacks. Timeline-section events append to the bounded
// timeline buffer and fire the timeline callbacks; a timeline event
// that is also a state event gets the side effect and state callbacks
// too, unless the state section already delivered the same event id
// in this round — then both are skipped, so one logical change fires
// exactly once. Ephemeral events only fire callbacks.
func (r *Room) applySync(joined *JoinedRoom, lazyMembers bool) {
	r.mu.Lock()
	if joined.Timeline.PrevBatch != "" {
		r.prevBatch = joined.Timeline.PrevBatch
	}
	// A lazy-member round delivers only the members its timeline
	// references, so the member map can no longer be assumed
	// complete.
	r.membersSynced = !lazyMembers
	r.mu.Unlock()

	processed := make(map[ref.EventID]struct{}, len(joined.State.Events))

	for _, event := range joined.State.Events {
		event.RoomID = r.id
		r.applyStateEffect(event)
		if !event.EventID.IsZero() {
			processed[event.EventID] = struct{}{}
		}
		r.fireState(event)
	}

	for _, event := range joined.Timeline.Events {
		event.RoomID = r.id
		if event.IsState() {
			if _, seen := processed[event.EventID]; !seen {
				r.applyStateEffect(event)
				r.fireState(event)
			}
		}
		r.appendTimeline(event)
		r.fireTimeline(event)
	}

	for _, event := range joined.Ephemeral.Events {
		event.RoomID = r.id
		r.fireEphemeral(event)
	}
}

// applyStateEffect writes a well-known state event's new value
// straight into the attribute cache, so the next read observes it
// without a fetch. State types without a cached attribute have no
// local side effect.
func (r *Room) applyStateEffect(event *Event) {
	switch event.Type {
	case "m.room.name":
		name, _ := event.ContentString("name")
		r.client.cache.Write(r.attributeKey(attrName), name, namePolicy)
	case "m.room.topic":
		topic, _ := event.ContentString("topic")
		r.client.cache.Write(r.attributeKey(attrTopic), topic, topicPolicy)
	case "m.room.canonical_alias":
		r.applyAliasEffect(event)
	case "m.room.join_rules":
		rule, _ := event.ContentString("join_rule")
		r.client.cache.Write(r.attributeKey(attrJoinRule), JoinRule(rule), joinRulePolicy)
	case "m.room.guest_access":
		access, _ := event.ContentString("guest_access")
		r.client.cache.Write(r.attributeKey(attrGuestAccess), GuestAccess(access), guestAccessPolicy)
	case "m.room.member":
		r.applyMemberEffect(event)
	case "m.room.power_levels":
		var levels PowerLevels
		if err := decodeContent(event.Content, &levels); err != nil {
			r.client.logger.Debug("undecodable power levels event",
				"room_id", r.id, "event_id", event.EventID, "error", err)
			return
		}
		r.client.cache.Write(r.attributeKey(attrPowerLevels), &levels, powerLevelsPolicy)
	}
}

// applyAliasEffect updates the canonical alias and the alternative
// alias set from a m.room.canonical_alias event. Alias values that
// fail validation are skipped rather than aborting the round.
func (r *Room) applyAliasEffect(event *Event) {
	raw, _ := event.ContentString("alias")
	var alias ref.RoomAlias
	if raw != "" {
		parsed, err := ref.ParseRoomAlias(raw)
		if err != nil {
			r.client.logger.Debug("invalid canonical alias",
				"room_id", r.id, "alias", raw, "error", err)
			return
		}
		alias = parsed
	}
	r.client.cache.Write(r.attributeKey(attrCanonicalAlias), alias, canonicalAliasPolicy)

	values, _ := event.Content["alt_aliases"].([]any)
	aliases := make([]ref.RoomAlias, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		parsed, err := ref.ParseRoomAlias(raw)
		if err != nil {
			r.client.logger.Debug("invalid alt alias",
				"room_id", r.id, "alias", raw, "error", err)
			continue
		}
		aliases = append(aliases, parsed)
	}
	r.client.cache.Write(r.attributeKey(attrAltAliases), aliases, altAliasesPolicy)
}

// applyMemberEffect folds one membership change into the cached
// member map. Leaving and banned members are removed; everyone else
// is inserted or updated with their current membership. The map is
// copied before mutation so member maps handed to earlier callers
// stay stable.
func (r *Room) applyMemberEffect(event *Event) {
	member, ok := memberFromEvent(event)
	if !ok {
		return
	}
	current, _ := cache.Read[map[ref.UserID]Member](r.client.cache, r.attributeKey(attrMembers))
	updated := maps.Clone(current)
	if updated == nil {
		updated = make(map[ref.UserID]Member, 1)
	}
	switch member.Membership {
	case "leave", "ban":
		delete(updated, member.UserID)
	default:
		updated[member.UserID] = member
	}
	r.client.cache.Write(r.attributeKey(attrMembers), updated, membersPolicy)
}

// fireTimeline runs the room and client timeline handler chains, then
// the client's default timeline handler when no handler in the chain
// marked the event handled.
func (r *Room) fireTimeline(event *Event) {
	fireEvents(&r.bus.event, event)
	fireEvents(&r.client.bus.timeline, event)
	if handler := r.client.defaultTimelineHandler(); handler != nil && !event.Handled() {
		handler(event)
	}
}

func (r *Room) fireState(event *Event) {
	fireEvents(&r.bus.state, event)
	fireEvents(&r.client.bus.state, event)
}

func (r *Room) fireEphemeral(event *Event) {
	fireEvents(&r.bus.ephemeral, event)
	fireEvents(&r.client.bus.ephemeral, event)
}
