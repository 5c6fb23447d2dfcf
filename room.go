// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mx

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/mx/lib/cache"
	"github.com/bureau-foundation/mx/lib/ref"
)

// Attribute cache keys, scoped per room as "<room id>/<attribute>".
const (
	attrName              = "name"
	attrTopic             = "topic"
	attrCanonicalAlias    = "canonical_alias"
	attrAltAliases        = "alt_aliases"
	attrJoinRule          = "join_rule"
	attrGuestAccess       = "guest_access"
	attrHistoryVisibility = "history_visibility"
	attrPowerLevels       = "power_levels"
	attrMembers           = "members"
)

var allAttributes = [...]string{
	attrName, attrTopic, attrCanonicalAlias, attrAltAliases,
	attrJoinRule, attrGuestAccess, attrHistoryVisibility,
	attrPowerLevels, attrMembers,
}

// Per-attribute cache policies. Display attributes cache at level
// Some; governance attributes require All. Power levels and members
// carry a shorter window.
var (
	namePolicy              = cache.Policy{TTL: 15 * time.Minute, Requires: cache.Some}
	topicPolicy             = cache.Policy{TTL: 15 * time.Minute, Requires: cache.Some}
	canonicalAliasPolicy    = cache.Policy{TTL: 15 * time.Minute, Requires: cache.Some}
	altAliasesPolicy        = cache.Policy{TTL: 15 * time.Minute, Requires: cache.Some}
	joinRulePolicy          = cache.Policy{TTL: 15 * time.Minute, Requires: cache.All}
	guestAccessPolicy       = cache.Policy{TTL: 15 * time.Minute, Requires: cache.All}
	historyVisibilityPolicy = cache.Policy{TTL: 15 * time.Minute, Requires: cache.All}
	powerLevelsPolicy       = cache.Policy{TTL: 5 * time.Minute, Requires: cache.All}
	membersPolicy           = cache.Policy{TTL: 5 * time.Minute, Requires: cache.All}
)

// Room is the locally cached snapshot of one room: its TTL-cached
// attributes, a bounded buffer of the most recent timeline events,
// and the room-scope handler lists.
//
// Rooms are created on first reference — a sync join section, a
// joined-rooms listing, or an explicit Client.Room lookup — and
// destroyed when the user leaves or forgets the room. All methods are
// safe for concurrent use; attribute getters may block on a server
// fetch when the cache misses.
type Room struct {
	id     ref.RoomID
	client *Client
	bus    roomBus

	mu            sync.Mutex
	timeline      []*Event
	prevBatch     string
	membersSynced bool
}

func newRoom(client *Client, id ref.RoomID) *Room {
	return &Room{id: id, client: client}
}

// ID returns the room's identifier.
func (r *Room) ID() ref.RoomID { return r.id }

// Events returns a copy of the buffered timeline: the most recent
// events in arrival order, at most the client's timeline limit.
func (r *Room) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.timeline)
}

// PrevBatch returns the pagination token for history older than the
// buffered timeline, suitable for RoomMessagesOptions.From.
func (r *Room) PrevBatch() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prevBatch
}

// MembersSynced reports whether the cached member map is believed
// complete. A full member fetch or a sync round without lazy member
// loading sets it; a lazy round clears it, since such a round only
// delivers the members its timeline references. The flag is
// best-effort — only a full fetch can prove completeness.
func (r *Room) MembersSynced() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membersSynced
}

// appendTimeline adds an event to the bounded timeline buffer,
// evicting the oldest entries beyond the client's limit.
func (r *Room) appendTimeline(event *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeline = append(r.timeline, event)
	if overflow := len(r.timeline) - r.client.timelineLimit; overflow > 0 {
		r.timeline = slices.Delete(r.timeline, 0, overflow)
	}
}

func (r *Room) attributeKey(attribute string) string {
	return r.id.String() + "/" + attribute
}

// forgetAttributes drops every cached attribute for the room. Called
// when the snapshot is destroyed (leave, forget).
func (r *Room) forgetAttributes() {
	for _, attribute := range allAttributes {
		r.client.cache.Remove(r.attributeKey(attribute))
	}
}

// Name returns the room's display name, or "" when the room has none.
// Reads through the attribute cache; a sync-delivered m.room.name
// event updates the cached value without a fetch.
func (r *Room) Name(ctx context.Context) (string, error) {
	return cache.Lookup(ctx, r.client.cache, r.attributeKey(attrName), namePolicy,
		func(ctx context.Context) (string, error) {
			return r.stateField(ctx, "m.room.name", "name")
		})
}

// Topic returns the room's topic, or "" when the room has none.
func (r *Room) Topic(ctx context.Context) (string, error) {
	return cache.Lookup(ctx, r.client.cache, r.attributeKey(attrTopic), topicPolicy,
		func(ctx context.Context) (string, error) {
			return r.stateField(ctx, "m.room.topic", "topic")
		})
}

// CanonicalAlias returns the room's canonical alias. The zero value
// means the room has none.
func (r *Room) CanonicalAlias(ctx context.Context) (ref.RoomAlias, error) {
	return cache.Lookup(ctx, r.client.cache, r.attributeKey(attrCanonicalAlias), canonicalAliasPolicy,
		func(ctx context.Context) (ref.RoomAlias, error) {
			raw, err := r.stateField(ctx, "m.room.canonical_alias", "alias")
			if err != nil || raw == "" {
				return ref.RoomAlias{}, err
			}
			return ref.ParseRoomAlias(raw)
		})
}

// AltAliases returns the room's alternative aliases.
func (r *Room) AltAliases(ctx context.Context) ([]ref.RoomAlias, error) {
	return cache.Lookup(ctx, r.client.cache, r.attributeKey(attrAltAliases), altAliasesPolicy,
		func(ctx context.Context) ([]ref.RoomAlias, error) {
			content, err := r.client.GetStateEvent(ctx, r.id, "m.room.canonical_alias", "")
			if err != nil {
				if isNotFound(err) {
					return nil, nil
				}
				return nil, err
			}
			values, _ := content.Slice("alt_aliases")
			aliases := make([]ref.RoomAlias, 0, len(values))
			for _, value := range values {
				raw, ok := value.(string)
				if !ok {
					continue
				}
				alias, err := ref.ParseRoomAlias(raw)
				if err != nil {
					return nil, fmt.Errorf("mx: alt alias for %s: %w", r.id, err)
				}
				aliases = append(aliases, alias)
			}
			return aliases, nil
		})
}

// JoinRule returns who may join the room without an invite.
func (r *Room) JoinRule(ctx context.Context) (JoinRule, error) {
	return cache.Lookup(ctx, r.client.cache, r.attributeKey(attrJoinRule), joinRulePolicy,
		func(ctx context.Context) (JoinRule, error) {
			value, err := r.stateField(ctx, "m.room.join_rules", "join_rule")
			return JoinRule(value), err
		})
}

// GuestAccess returns whether guest accounts may join the room.
func (r *Room) GuestAccess(ctx context.Context) (GuestAccess, error) {
	return cache.Lookup(ctx, r.client.cache, r.attributeKey(attrGuestAccess), guestAccessPolicy,
		func(ctx context.Context) (GuestAccess, error) {
			value, err := r.stateField(ctx, "m.room.guest_access", "guest_access")
			return GuestAccess(value), err
		})
}

// HistoryVisibility returns which events new members can read.
func (r *Room) HistoryVisibility(ctx context.Context) (HistoryVisibility, error) {
	return cache.Lookup(ctx, r.client.cache, r.attributeKey(attrHistoryVisibility), historyVisibilityPolicy,
		func(ctx context.Context) (HistoryVisibility, error) {
			value, err := r.stateField(ctx, "m.room.history_visibility", "history_visibility")
			return HistoryVisibility(value), err
		})
}

// PowerLevels returns the room's permission thresholds. A room
// without a power levels event reads as the zero PowerLevels.
func (r *Room) PowerLevels(ctx context.Context) (*PowerLevels, error) {
	return cache.Lookup(ctx, r.client.cache, r.attributeKey(attrPowerLevels), powerLevelsPolicy,
		func(ctx context.Context) (*PowerLevels, error) {
			content, err := r.client.GetStateEvent(ctx, r.id, "m.room.power_levels", "")
			if err != nil {
				if isNotFound(err) {
					return &PowerLevels{}, nil
				}
				return nil, err
			}
			var levels PowerLevels
			if err := content.Decode(&levels); err != nil {
				return nil, fmt.Errorf("mx: power levels for %s: %w", r.id, err)
			}
			return &levels, nil
		})
}

// Members returns the room's member map, keyed by user id. The cached
// map is served only while membership is believed complete; otherwise
// the full member list is fetched and re-cached. The returned map is
// a copy.
func (r *Room) Members(ctx context.Context) (map[ref.UserID]Member, error) {
	if !r.MembersSynced() {
		r.client.cache.Remove(r.attributeKey(attrMembers))
	}
	members, err := cache.Lookup(ctx, r.client.cache, r.attributeKey(attrMembers), membersPolicy,
		func(ctx context.Context) (map[ref.UserID]Member, error) {
			return r.fetchMembers(ctx)
		})
	if err != nil {
		return nil, err
	}
	return maps.Clone(members), nil
}

// Member returns one entry of the room's member map. The second
// return is false when the user is not known to the room.
func (r *Room) Member(ctx context.Context, userID ref.UserID) (Member, bool, error) {
	members, err := r.Members(ctx)
	if err != nil {
		return Member{}, false, err
	}
	member, ok := members[userID]
	return member, ok, nil
}

// fetchMembers loads the full member list and marks membership
// complete. The map holds present members only: leave and ban drop
// the entry, the same rule the sync path applies incrementally.
func (r *Room) fetchMembers(ctx context.Context) (map[ref.UserID]Member, error) {
	list, err := r.client.RoomMembers(ctx, r.id)
	if err != nil {
		return nil, err
	}
	members := make(map[ref.UserID]Member, len(list))
	for _, member := range list {
		if member.Membership == "leave" || member.Membership == "ban" {
			continue
		}
		members[member.UserID] = member
	}
	r.mu.Lock()
	r.membersSynced = true
	r.mu.Unlock()
	return members, nil
}

// SetName sets the room's display name and writes the new value
// through the attribute cache.
func (r *Room) SetName(ctx context.Context, name string) error {
	_, err := r.client.SendStateEvent(ctx, r.id, "m.room.name", "", map[string]any{"name": name})
	if err != nil {
		return err
	}
	r.client.cache.Write(r.attributeKey(attrName), name, namePolicy)
	return nil
}

// SetTopic sets the room's topic and writes the new value through the
// attribute cache.
func (r *Room) SetTopic(ctx context.Context, topic string) error {
	_, err := r.client.SendStateEvent(ctx, r.id, "m.room.topic", "", map[string]any{"topic": topic})
	if err != nil {
		return err
	}
	r.client.cache.Write(r.attributeKey(attrTopic), topic, topicPolicy)
	return nil
}

// SetJoinRule sets who may join the room without an invite.
func (r *Room) SetJoinRule(ctx context.Context, rule JoinRule) error {
	_, err := r.client.SendStateEvent(ctx, r.id, "m.room.join_rules", "", map[string]any{"join_rule": rule})
	if err != nil {
		return err
	}
	r.client.cache.Write(r.attributeKey(attrJoinRule), rule, joinRulePolicy)
	return nil
}

// SetGuestAccess sets whether guest accounts may join the room.
func (r *Room) SetGuestAccess(ctx context.Context, access GuestAccess) error {
	_, err := r.client.SendStateEvent(ctx, r.id, "m.room.guest_access", "", map[string]any{"guest_access": access})
	if err != nil {
		return err
	}
	r.client.cache.Write(r.attributeKey(attrGuestAccess), access, guestAccessPolicy)
	return nil
}

// stateField fetches a state event and returns one string field of
// its content. A missing state event reads as "" — rooms without a
// name or topic are normal, not errors.
func (r *Room) stateField(ctx context.Context, eventType ref.EventType, field string) (string, error) {
	content, err := r.client.GetStateEvent(ctx, r.id, eventType, "")
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	value, _ := content.String(field)
	return value, nil
}

// memberFromEvent extracts a Member from a m.room.member event. The
// state key carries the user id; events without a valid user id or a
// membership value are dropped.
func memberFromEvent(event *Event) (Member, bool) {
	if event.StateKey == nil {
		return Member{}, false
	}
	userID, err := ref.ParseUserID(*event.StateKey)
	if err != nil {
		return Member{}, false
	}
	membership, ok := event.ContentString("membership")
	if !ok {
		return Member{}, false
	}
	member := Member{UserID: userID, Membership: membership}
	member.DisplayName, _ = event.ContentString("displayname")
	member.AvatarURL, _ = event.ContentString("avatar_url")
	return member, true
}

// decodeContent round-trips a content map through JSON into a typed
// struct.
func decodeContent(content map[string]any, into any) error {
	data, err := json.Marshal(content)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, into)
}
