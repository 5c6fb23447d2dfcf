// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mx

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func TestGetDisplayName(t *testing.T) {
	t.Run("returns the profile name", func(t *testing.T) {
		client, scripted := newScriptedClient(t, respond(`{"displayname": "Pipeline"}`))

		name, err := client.GetDisplayName(context.Background(), aliceID)
		if err != nil || name != "Pipeline" {
			t.Fatalf("GetDisplayName = %q, %v; want Pipeline", name, err)
		}
		wantPath := "/_matrix/client/v3/profile/" + url.PathEscape(aliceID.String()) + "/displayname"
		if sent := scripted.request(0); sent.Method != http.MethodGet || sent.Path != wantPath {
			t.Errorf("unexpected request: %s %s, want GET %s", sent.Method, sent.Path, wantPath)
		}
	})

	t.Run("unset name reads as empty", func(t *testing.T) {
		client, _ := newScriptedClient(t, respondError(notFound()))

		name, err := client.GetDisplayName(context.Background(), aliceID)
		if err != nil || name != "" {
			t.Errorf("GetDisplayName = %q, %v; want empty without error", name, err)
		}
	})
}

func TestSetDisplayName(t *testing.T) {
	t.Run("requires a session", func(t *testing.T) {
		client, scripted := newScriptedClient(t)
		err := client.SetDisplayName(context.Background(), "Pipeline")
		if err == nil || !strings.Contains(err.Error(), "requires a logged-in session") {
			t.Errorf("SetDisplayName without session = %v", err)
		}
		if scripted.requestCount() != 0 {
			t.Errorf("transport saw %d requests, want 0", scripted.requestCount())
		}
	})

	t.Run("writes the profile", func(t *testing.T) {
		client, scripted := newScriptedClient(t, respond(`{}`))
		startSession(t, client)

		if err := client.SetDisplayName(context.Background(), "Pipeline"); err != nil {
			t.Fatalf("SetDisplayName failed: %v", err)
		}
		sent := scripted.request(0)
		wantPath := "/_matrix/client/v3/profile/" + url.PathEscape(selfID.String()) + "/displayname"
		if sent.Method != http.MethodPut || sent.Path != wantPath {
			t.Errorf("unexpected request: %s %s, want PUT %s", sent.Method, sent.Path, wantPath)
		}
		body, ok := sent.Body.(DisplayNameResponse)
		if !ok || body.DisplayName != "Pipeline" {
			t.Errorf("unexpected body: %#v", sent.Body)
		}
	})
}

func TestGetPresence(t *testing.T) {
	client, scripted := newScriptedClient(t,
		respond(`{"presence": "online", "status_msg": "shipping", "currently_active": true}`),
	)

	status, err := client.GetPresence(context.Background(), aliceID)
	if err != nil {
		t.Fatalf("GetPresence failed: %v", err)
	}
	if status.Presence != "online" || status.StatusMsg != "shipping" || !status.CurrentlyActive {
		t.Errorf("presence = %+v", status)
	}
	wantPath := "/_matrix/client/v3/presence/" + url.PathEscape(aliceID.String()) + "/status"
	if sent := scripted.request(0); sent.Path != wantPath {
		t.Errorf("unexpected path %s, want %s", sent.Path, wantPath)
	}
}

func TestSetPresence(t *testing.T) {
	t.Run("requires a session", func(t *testing.T) {
		client, _ := newScriptedClient(t)
		err := client.SetPresence(context.Background(), "online", "")
		if err == nil || !strings.Contains(err.Error(), "requires a logged-in session") {
			t.Errorf("SetPresence without session = %v", err)
		}
	})

	t.Run("publishes the state", func(t *testing.T) {
		client, scripted := newScriptedClient(t, respond(`{}`))
		startSession(t, client)

		if err := client.SetPresence(context.Background(), "unavailable", "in a meeting"); err != nil {
			t.Fatalf("SetPresence failed: %v", err)
		}
		body, ok := scripted.request(0).Body.(SetPresenceRequest)
		if !ok || body.Presence != "unavailable" || body.StatusMsg != "in a meeting" {
			t.Errorf("unexpected body: %#v", scripted.request(0).Body)
		}
	})
}
