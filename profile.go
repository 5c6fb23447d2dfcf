// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bureau-foundation/mx/lib/ref"
	"github.com/bureau-foundation/mx/transport"
)

// GetDisplayName returns a user's display name, or "" when the user
// has not set one.
func (c *Client) GetDisplayName(ctx context.Context, userID ref.UserID) (string, error) {
	var response DisplayNameResponse
	err := c.requestJSON(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/_matrix/client/v3/profile/" + url.PathEscape(userID.String()) + "/displayname",
	}, &response)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("mx: fetching display name of %s: %w", userID, err)
	}
	return response.DisplayName, nil
}

// SetDisplayName sets the authenticated user's display name.
func (c *Client) SetDisplayName(ctx context.Context, displayName string) error {
	userID := c.UserID()
	if userID.IsZero() {
		return fmt.Errorf("mx: setting a display name requires a logged-in session")
	}
	_, err := c.executor.Do(ctx, &transport.Request{
		Method: http.MethodPut,
		Path:   "/_matrix/client/v3/profile/" + url.PathEscape(userID.String()) + "/displayname",
		Body:   DisplayNameResponse{DisplayName: displayName},
	})
	if err != nil {
		return fmt.Errorf("mx: setting display name: %w", err)
	}
	return nil
}

// GetPresence returns a user's presence status. Servers may restrict
// this to users sharing a room with the caller.
func (c *Client) GetPresence(ctx context.Context, userID ref.UserID) (*PresenceStatus, error) {
	var response PresenceStatus
	err := c.requestJSON(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/_matrix/client/v3/presence/" + url.PathEscape(userID.String()) + "/status",
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("mx: fetching presence of %s: %w", userID, err)
	}
	return &response, nil
}

// SetPresence publishes the authenticated user's presence state:
// "online", "unavailable", or "offline", with an optional status
// message.
func (c *Client) SetPresence(ctx context.Context, presence, statusMsg string) error {
	userID := c.UserID()
	if userID.IsZero() {
		return fmt.Errorf("mx: setting presence requires a logged-in session")
	}
	_, err := c.executor.Do(ctx, &transport.Request{
		Method: http.MethodPut,
		Path:   "/_matrix/client/v3/presence/" + url.PathEscape(userID.String()) + "/status",
		Body:   SetPresenceRequest{Presence: presence, StatusMsg: statusMsg},
	})
	if err != nil {
		return fmt.Errorf("mx: setting presence: %w", err)
	}
	return nil
}
