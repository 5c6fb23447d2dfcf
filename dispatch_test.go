// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mx

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/bureau-foundation/mx/lib/ref"
)

func stateJSON(eventID string, eventType ref.EventType, content string) string {
	return fmt.Sprintf(`{"event_id": %q, "type": %q, "sender": %q, "state_key": "", "origin_server_ts": 1700000000000, "content": %s}`,
		eventID, string(eventType), aliceID.String(), content)
}

func TestDispatchSectionOrder(t *testing.T) {
	atticID := ref.MustParseRoomID("!attic:bureau.test")
	client, _ := newScriptedClient(t, respond(fmt.Sprintf(
		`{"next_batch": "s1",
		  "presence": {"events": [{"type": "m.presence", "sender": %q, "content": {"presence": "online", "currently_active": true}}]},
		  "rooms": {
		    "join": {%q: {"timeline": {"events": [%s]}}},
		    "invite": {%q: {"invite_state": {"events": [%s]}}},
		    "leave": {%q: {}}
		  }}`,
		aliceID.String(),
		lobbyID.String(), messageJSON("$m1", aliceID, "hi"),
		denID.String(), stateJSON("$inv1", "m.room.name", `{"name": "Den"}`),
		atticID.String(),
	)))

	var order []string
	client.OnPresence(func(event *PresenceEvent) {
		order = append(order, "presence")
		if event.Sender != aliceID || event.Content.Presence != "online" {
			t.Errorf("unexpected presence event: %+v", event)
		}
	})
	client.OnInvite(func(roomID ref.RoomID, invited *InvitedRoom) {
		order = append(order, "invite")
		if roomID != denID {
			t.Errorf("invite room = %s, want %s", roomID, denID)
		}
		if len(invited.InviteState.Events) != 1 {
			t.Errorf("invite carried %d stripped state events, want 1", len(invited.InviteState.Events))
		}
	})
	client.OnLeave(func(roomID ref.RoomID, _ *LeftRoom) {
		order = append(order, "leave")
		if roomID != atticID {
			t.Errorf("leave room = %s, want %s", roomID, atticID)
		}
	})
	client.OnTimelineEvent(func(*Event) {
		order = append(order, "timeline")
	})

	if err := client.Sync(context.Background(), SyncOpts{Timeout: -1}); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	want := []string{"presence", "invite", "leave", "timeline"}
	if !slices.Equal(order, want) {
		t.Errorf("dispatch order = %v, want %v", order, want)
	}
}

func TestDispatchLeaveDropsRoomSnapshot(t *testing.T) {
	client, _ := newScriptedClient(t,
		respond(syncBody("s1", lobbyID, `"state": {"events": [`+nameJSON("$n1", "Lobby")+`]}`)),
		respond(fmt.Sprintf(`{"next_batch": "s2", "rooms": {"leave": {%q: {}}}}`, lobbyID.String())),
	)
	ctx := context.Background()

	if err := client.Sync(ctx, SyncOpts{Timeout: -1}); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	room, err := client.Room(lobbyID)
	if err != nil {
		t.Fatalf("Room failed: %v", err)
	}
	if !client.cache.Contains(room.attributeKey(attrName)) {
		t.Fatal("sync round did not cache the room name")
	}

	roomsDuringLeave := -1
	client.OnLeave(func(ref.RoomID, *LeftRoom) {
		roomsDuringLeave = len(client.Rooms())
	})

	if err := client.Sync(ctx, SyncOpts{Timeout: -1}); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if roomsDuringLeave != 0 {
		t.Errorf("leave handler saw %d rooms, want 0 (snapshot drops before handlers)", roomsDuringLeave)
	}
	if len(client.Rooms()) != 0 {
		t.Errorf("left room still tracked: %d snapshots", len(client.Rooms()))
	}
	if client.cache.Contains(room.attributeKey(attrName)) {
		t.Error("left room's cached attributes were not dropped")
	}
}

func TestDispatchStateWritesAttributes(t *testing.T) {
	events := []string{
		stateJSON("$n1", "m.room.name", `{"name": "Ops"}`),
		stateJSON("$t1", "m.room.topic", `{"topic": "Operations channel"}`),
		stateJSON("$a1", "m.room.canonical_alias", `{"alias": "#ops:bureau.test", "alt_aliases": ["#operations:bureau.test"]}`),
		stateJSON("$j1", "m.room.join_rules", `{"join_rule": "invite"}`),
		stateJSON("$g1", "m.room.guest_access", `{"guest_access": "forbidden"}`),
		stateJSON("$p1", "m.room.power_levels", fmt.Sprintf(`{"users_default": 5, "users": {%q: 100}}`, aliceID.String())),
	}
	payload := `"state": {"events": [`
	for i, event := range events {
		if i > 0 {
			payload += ", "
		}
		payload += event
	}
	payload += `]}`

	client, scripted := newScriptedClient(t, respond(syncBody("s1", lobbyID, payload)))
	ctx := context.Background()
	if err := client.Sync(ctx, SyncOpts{Timeout: -1}); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	room, err := client.Room(lobbyID)
	if err != nil {
		t.Fatalf("Room failed: %v", err)
	}

	if name, err := room.Name(ctx); err != nil || name != "Ops" {
		t.Errorf("Name = %q, %v; want Ops", name, err)
	}
	if topic, err := room.Topic(ctx); err != nil || topic != "Operations channel" {
		t.Errorf("Topic = %q, %v; want Operations channel", topic, err)
	}
	if alias, err := room.CanonicalAlias(ctx); err != nil || alias.String() != "#ops:bureau.test" {
		t.Errorf("CanonicalAlias = %s, %v; want #ops:bureau.test", alias, err)
	}
	if aliases, err := room.AltAliases(ctx); err != nil || len(aliases) != 1 || aliases[0].String() != "#operations:bureau.test" {
		t.Errorf("AltAliases = %v, %v; want [#operations:bureau.test]", aliases, err)
	}
	if rule, err := room.JoinRule(ctx); err != nil || rule != JoinRuleInvite {
		t.Errorf("JoinRule = %q, %v; want invite", rule, err)
	}
	if access, err := room.GuestAccess(ctx); err != nil || access != GuestAccessForbidden {
		t.Errorf("GuestAccess = %q, %v; want forbidden", access, err)
	}
	levels, err := room.PowerLevels(ctx)
	if err != nil {
		t.Fatalf("PowerLevels failed: %v", err)
	}
	if got := levels.UserLevel(aliceID); got != 100 {
		t.Errorf("UserLevel(alice) = %d, want 100", got)
	}
	if got := levels.UserLevel(bobID); got != 5 {
		t.Errorf("UserLevel(bob) = %d, want the 5 default", got)
	}

	// Every getter above was served from the sync round's write-through.
	if scripted.requestCount() != 1 {
		t.Errorf("transport saw %d requests, want 1 (attribute reads must not fetch)", scripted.requestCount())
	}
}

func TestDispatchStateTimelineOverlap(t *testing.T) {
	// The same name change arrives in both the state and timeline
	// sections, as servers do for a state event inside the sync window.
	nameEvent := nameJSON("$n1", "After")
	client, _ := newScriptedClient(t, respond(syncBody("s1", lobbyID,
		`"state": {"events": [`+nameEvent+`]}, "timeline": {"events": [`+nameEvent+`]}`,
	)))

	stateFired := 0
	timelineFired := 0
	client.OnStateEvent(func(*Event) { stateFired++ }, "m.room.name")
	client.OnTimelineEvent(func(*Event) { timelineFired++ }, "m.room.name")

	if err := client.Sync(context.Background(), SyncOpts{Timeout: -1}); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if stateFired != 1 {
		t.Errorf("state handler fired %d times, want 1", stateFired)
	}
	if timelineFired != 1 {
		t.Errorf("timeline handler fired %d times, want 1", timelineFired)
	}

	room, err := client.Room(lobbyID)
	if err != nil {
		t.Fatalf("Room failed: %v", err)
	}
	if events := room.Events(); len(events) != 1 || events[0].EventID.String() != "$n1" {
		t.Errorf("timeline buffer = %v, want the one name event", events)
	}
}

func TestDispatchTimelineOnlyStateEvent(t *testing.T) {
	client, scripted := newScriptedClient(t, respond(syncBody("s1", lobbyID,
		`"timeline": {"events": [`+nameJSON("$n1", "Renamed")+`]}`,
	)))

	stateFired := 0
	client.OnStateEvent(func(event *Event) {
		stateFired++
		if !event.IsState() {
			t.Error("state handler received a non-state event")
		}
		if event.RoomID != lobbyID {
			t.Errorf("event room = %s, want %s", event.RoomID, lobbyID)
		}
	}, "m.room.name")

	ctx := context.Background()
	if err := client.Sync(ctx, SyncOpts{Timeout: -1}); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if stateFired != 1 {
		t.Errorf("state handler fired %d times, want 1", stateFired)
	}

	room, err := client.Room(lobbyID)
	if err != nil {
		t.Fatalf("Room failed: %v", err)
	}
	if name, err := room.Name(ctx); err != nil || name != "Renamed" {
		t.Errorf("Name = %q, %v; want Renamed (timeline state events apply effects)", name, err)
	}
	if scripted.requestCount() != 1 {
		t.Errorf("transport saw %d requests, want 1", scripted.requestCount())
	}
}

func TestDispatchEphemeral(t *testing.T) {
	client, _ := newScriptedClient(t, respond(syncBody("s1", lobbyID, fmt.Sprintf(
		`"ephemeral": {"events": [{"type": "m.typing", "content": {"user_ids": [%q]}}]}`,
		aliceID.String(),
	))))

	var typing *Event
	timelineFired := 0
	client.OnEphemeralEvent(func(event *Event) { typing = event }, "m.typing")
	client.OnTimelineEvent(func(*Event) { timelineFired++ })

	if err := client.Sync(context.Background(), SyncOpts{Timeout: -1}); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if typing == nil {
		t.Fatal("ephemeral handler did not fire")
	}
	if typing.RoomID != lobbyID {
		t.Errorf("typing event room = %s, want %s", typing.RoomID, lobbyID)
	}
	if timelineFired != 0 {
		t.Errorf("ephemeral events reached timeline handlers %d times", timelineFired)
	}

	room, err := client.Room(lobbyID)
	if err != nil {
		t.Fatalf("Room failed: %v", err)
	}
	if events := room.Events(); len(events) != 0 {
		t.Errorf("ephemeral events entered the timeline buffer: %v", events)
	}
}

func TestDispatchMemberCompleteness(t *testing.T) {
	client, _ := newScriptedClient(t,
		respond(syncBody("s1", lobbyID, `"timeline": {"events": []}`)),
		respond(syncBody("s2", lobbyID, `"timeline": {"events": []}`)),
	)
	ctx := context.Background()

	if err := client.Sync(ctx, SyncOpts{Timeout: -1}); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	room, err := client.Room(lobbyID)
	if err != nil {
		t.Fatalf("Room failed: %v", err)
	}
	if !room.MembersSynced() {
		t.Error("full round left MembersSynced false")
	}

	lazy := &Filter{LazyLoadMembers: true}
	if err := client.Sync(ctx, SyncOpts{Timeout: -1, Filter: lazy}); err != nil {
		t.Fatalf("lazy sync failed: %v", err)
	}
	if room.MembersSynced() {
		t.Error("lazy round left MembersSynced true")
	}
}

func TestDispatchPrevBatch(t *testing.T) {
	client, _ := newScriptedClient(t,
		respond(syncBody("s1", lobbyID, `"timeline": {"events": [], "prev_batch": "pb-42"}`)),
		respond(syncBody("s2", lobbyID, `"timeline": {"events": []}`)),
	)
	ctx := context.Background()

	if err := client.Sync(ctx, SyncOpts{Timeout: -1}); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	room, err := client.Room(lobbyID)
	if err != nil {
		t.Fatalf("Room failed: %v", err)
	}
	if room.PrevBatch() != "pb-42" {
		t.Errorf("PrevBatch = %q, want pb-42", room.PrevBatch())
	}

	// A round without a pagination token keeps the last known one.
	if err := client.Sync(ctx, SyncOpts{Timeout: -1}); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if room.PrevBatch() != "pb-42" {
		t.Errorf("PrevBatch = %q after tokenless round, want pb-42", room.PrevBatch())
	}
}
