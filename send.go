// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/bureau-foundation/mx/lib/format"
	"github.com/bureau-foundation/mx/lib/ref"
	"github.com/bureau-foundation/mx/transport"
)

// messageFormatHTML is the only formatted-body format the protocol
// defines.
const messageFormatHTML = "org.matrix.custom.html"

// SendEvent sends a timeline event. The PUT carries a generated
// transaction id, so a retried request (rate limit, timeout) is
// deduplicated server-side rather than delivered twice.
func (c *Client) SendEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content any) (ref.EventID, error) {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) +
		"/send/" + url.PathEscape(string(eventType)) +
		"/" + url.PathEscape(c.nextTransactionID())
	var response SendEventResponse
	err := c.requestJSON(ctx, &transport.Request{
		Method: http.MethodPut,
		Path:   path,
		Body:   content,
	}, &response)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("mx: sending %s to %s: %w", eventType, roomID, err)
	}
	return response.EventID, nil
}

// SendStateEvent sets a state event. State PUTs are idempotent by
// (type, state key), so no transaction id is involved.
func (c *Client) SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (ref.EventID, error) {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) +
		"/state/" + url.PathEscape(string(eventType)) +
		"/" + url.PathEscape(stateKey)
	var response SendEventResponse
	err := c.requestJSON(ctx, &transport.Request{
		Method: http.MethodPut,
		Path:   path,
		Body:   content,
	}, &response)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("mx: setting %s state of %s: %w", eventType, roomID, err)
	}
	return response.EventID, nil
}

// GetStateEvent fetches the content of a state event. The content
// comes back as a raw payload; pick fields with the Payload accessors
// or Decode into a typed struct. A room without the event yields a
// *transport.NotFoundError.
func (c *Client) GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string) (transport.Payload, error) {
	payload, err := c.executor.Do(ctx, &transport.Request{
		Method: http.MethodGet,
		Path: "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) +
			"/state/" + url.PathEscape(string(eventType)) +
			"/" + url.PathEscape(stateKey),
	})
	if err != nil {
		return transport.Payload{}, fmt.Errorf("mx: fetching %s state of %s: %w", eventType, roomID, err)
	}
	return payload, nil
}

// SendMessage sends a plain text message.
func (c *Client) SendMessage(ctx context.Context, roomID ref.RoomID, body string) (ref.EventID, error) {
	return c.SendEvent(ctx, roomID, "m.room.message", NewTextMessage(body))
}

// SendFormatted renders markdown and sends it as a formatted message.
// The markdown source rides along as the plain-text fallback body.
func (c *Client) SendFormatted(ctx context.Context, roomID ref.RoomID, markdown string) (ref.EventID, error) {
	content, err := NewMarkdownMessage(markdown)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("mx: rendering message for %s: %w", roomID, err)
	}
	return c.SendEvent(ctx, roomID, "m.room.message", content)
}

// NewMarkdownMessage renders markdown into formatted message content.
// Clients that do not render HTML fall back to the raw markdown body.
func NewMarkdownMessage(markdown string) (MessageContent, error) {
	html, err := format.HTML(markdown)
	if err != nil {
		return MessageContent{}, err
	}
	content := NewTextMessage(markdown)
	content.Format = messageFormatHTML
	content.FormattedBody = html
	return content, nil
}

// NewMarkdownNotice is NewMarkdownMessage with the notice message
// type, for automated senders whose messages should not trigger
// notifications.
func NewMarkdownNotice(markdown string) (MessageContent, error) {
	html, err := format.HTML(markdown)
	if err != nil {
		return MessageContent{}, err
	}
	content := NewNotice(markdown)
	content.Format = messageFormatHTML
	content.FormattedBody = html
	return content, nil
}

// Typing publishes a typing notification for the authenticated user.
// The timeout bounds how long the indicator stays active without
// renewal; it is ignored when typing is false.
func (c *Client) Typing(ctx context.Context, roomID ref.RoomID, typing bool, timeout time.Duration) error {
	userID := c.UserID()
	if userID.IsZero() {
		return fmt.Errorf("mx: typing requires a logged-in session")
	}
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) +
		"/typing/" + url.PathEscape(userID.String())
	_, err := c.executor.Do(ctx, &transport.Request{
		Method: http.MethodPut,
		Path:   path,
		Body:   TypingRequest{Typing: typing, Timeout: timeout.Milliseconds()},
	})
	if err != nil {
		return fmt.Errorf("mx: typing in %s: %w", roomID, err)
	}
	return nil
}

// MarkRead advances both read markers to the given event: the private
// fully-read marker and the public read receipt.
func (c *Client) MarkRead(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) error {
	_, err := c.executor.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/read_markers",
		Body:   ReadMarkersRequest{FullyRead: eventID, Read: &eventID},
	})
	if err != nil {
		return fmt.Errorf("mx: marking read in %s: %w", roomID, err)
	}
	return nil
}
