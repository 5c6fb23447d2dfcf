// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mx

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/mx/lib/ref"
	"github.com/bureau-foundation/mx/transport"
)

func TestSendMessage(t *testing.T) {
	client, scripted := newScriptedClient(t,
		respond(`{"event_id": "$e1"}`),
		respond(`{"event_id": "$e2"}`),
	)
	ctx := context.Background()

	eventID, err := client.SendMessage(ctx, lobbyID, "first")
	if err != nil || eventID.String() != "$e1" {
		t.Fatalf("SendMessage = %s, %v; want $e1", eventID, err)
	}
	if _, err := client.SendMessage(ctx, lobbyID, "second"); err != nil {
		t.Fatalf("second SendMessage failed: %v", err)
	}

	sent := scripted.request(0)
	wantPrefix := "/_matrix/client/v3/rooms/" + url.PathEscape(lobbyID.String()) + "/send/m.room.message/mx-"
	if sent.Method != http.MethodPut || !strings.HasPrefix(sent.Path, wantPrefix) {
		t.Errorf("unexpected request: %s %s, want PUT %s...", sent.Method, sent.Path, wantPrefix)
	}
	content, ok := sent.Body.(MessageContent)
	if !ok || content.MsgType != "m.text" || content.Body != "first" {
		t.Errorf("unexpected body: %#v", sent.Body)
	}

	// Each send carries a fresh transaction id, so server-side
	// deduplication never collapses distinct messages.
	if scripted.request(0).Path == scripted.request(1).Path {
		t.Errorf("both sends used transaction path %s", sent.Path)
	}
}

func TestSendFormatted(t *testing.T) {
	client, scripted := newScriptedClient(t, respond(`{"event_id": "$e1"}`))

	if _, err := client.SendFormatted(context.Background(), lobbyID, "hello **world**"); err != nil {
		t.Fatalf("SendFormatted failed: %v", err)
	}
	content, ok := scripted.request(0).Body.(MessageContent)
	if !ok {
		t.Fatalf("unexpected body type %T", scripted.request(0).Body)
	}
	if content.Body != "hello **world**" {
		t.Errorf("fallback body = %q, want the raw markdown", content.Body)
	}
	if content.Format != "org.matrix.custom.html" {
		t.Errorf("format = %q", content.Format)
	}
	if !strings.Contains(content.FormattedBody, "<strong>world</strong>") {
		t.Errorf("formatted body %q lacks rendered markdown", content.FormattedBody)
	}
}

func TestNewMarkdownNotice(t *testing.T) {
	content, err := NewMarkdownNotice("*nudge*")
	if err != nil {
		t.Fatalf("NewMarkdownNotice failed: %v", err)
	}
	if content.MsgType != "m.notice" {
		t.Errorf("msgtype = %q, want m.notice", content.MsgType)
	}
	if !strings.Contains(content.FormattedBody, "<em>nudge</em>") {
		t.Errorf("formatted body %q lacks rendered markdown", content.FormattedBody)
	}
}

func TestNewThreadReply(t *testing.T) {
	root := ref.MustParseEventID("$thread-root")
	content := NewThreadReply(root, "follow-up")
	if content.RelatesTo == nil {
		t.Fatal("thread reply carries no relation")
	}
	if content.RelatesTo.RelType != "m.thread" || content.RelatesTo.EventID != root {
		t.Errorf("relation = %+v, want m.thread on %s", content.RelatesTo, root)
	}
	if !content.RelatesTo.IsFallingBack || content.RelatesTo.InReplyTo == nil || content.RelatesTo.InReplyTo.EventID != root {
		t.Errorf("reply fallback = %+v, want in-reply-to %s", content.RelatesTo, root)
	}
}

func TestSendStateEvent(t *testing.T) {
	client, scripted := newScriptedClient(t, respond(`{"event_id": "$s1"}`))

	eventID, err := client.SendStateEvent(context.Background(), lobbyID, "m.room.topic", "", map[string]any{"topic": "north star"})
	if err != nil || eventID.String() != "$s1" {
		t.Fatalf("SendStateEvent = %s, %v; want $s1", eventID, err)
	}
	sent := scripted.request(0)
	if sent.Method != http.MethodPut || !strings.Contains(sent.Path, "/state/m.room.topic/") {
		t.Errorf("unexpected request: %s %s", sent.Method, sent.Path)
	}
	// State PUTs are idempotent by (type, state key): no transaction id
	// segment.
	if strings.Contains(sent.Path, "/send/") {
		t.Errorf("state event used the transactional send path %s", sent.Path)
	}
}

func TestGetStateEventMissing(t *testing.T) {
	client, _ := newScriptedClient(t, respondError(notFound()))

	_, err := client.GetStateEvent(context.Background(), lobbyID, "m.room.name", "")
	if err == nil {
		t.Fatal("expected error for missing state")
	}
	var missing *transport.NotFoundError
	if !errors.As(err, &missing) {
		t.Errorf("error %v does not unwrap to NotFoundError", err)
	}
}

func TestTyping(t *testing.T) {
	t.Run("requires a session", func(t *testing.T) {
		client, scripted := newScriptedClient(t)
		err := client.Typing(context.Background(), lobbyID, true, 30*time.Second)
		if err == nil || !strings.Contains(err.Error(), "requires a logged-in session") {
			t.Errorf("Typing without session = %v", err)
		}
		if scripted.requestCount() != 0 {
			t.Errorf("transport saw %d requests, want 0", scripted.requestCount())
		}
	})

	t.Run("publishes the indicator", func(t *testing.T) {
		client, scripted := newScriptedClient(t, respond(`{}`))
		startSession(t, client)

		if err := client.Typing(context.Background(), lobbyID, true, 30*time.Second); err != nil {
			t.Fatalf("Typing failed: %v", err)
		}
		sent := scripted.request(0)
		wantPath := "/_matrix/client/v3/rooms/" + url.PathEscape(lobbyID.String()) +
			"/typing/" + url.PathEscape(selfID.String())
		if sent.Method != http.MethodPut || sent.Path != wantPath {
			t.Errorf("unexpected request: %s %s, want PUT %s", sent.Method, sent.Path, wantPath)
		}
		body, ok := sent.Body.(TypingRequest)
		if !ok || !body.Typing || body.Timeout != 30000 {
			t.Errorf("unexpected body: %#v", sent.Body)
		}
	})
}

func TestMarkRead(t *testing.T) {
	client, scripted := newScriptedClient(t, respond(`{}`))
	eventID := ref.MustParseEventID("$latest")

	if err := client.MarkRead(context.Background(), lobbyID, eventID); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	sent := scripted.request(0)
	if sent.Method != http.MethodPost || !strings.HasSuffix(sent.Path, "/read_markers") {
		t.Errorf("unexpected request: %s %s", sent.Method, sent.Path)
	}
	body, ok := sent.Body.(ReadMarkersRequest)
	if !ok || body.FullyRead != eventID {
		t.Errorf("unexpected body: %#v", sent.Body)
	}
	if body.Read == nil || *body.Read != eventID {
		t.Errorf("read receipt = %v, want %s", body.Read, eventID)
	}
}
