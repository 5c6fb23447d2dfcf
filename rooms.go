// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bureau-foundation/mx/lib/ref"
	"github.com/bureau-foundation/mx/transport"
)

// CreateRoom creates a room and returns its snapshot. The server
// applies the preset, invites, and initial state atomically; the
// snapshot fills its attributes on first access or first sync.
func (c *Client) CreateRoom(ctx context.Context, request *CreateRoomRequest) (*Room, error) {
	var response CreateRoomResponse
	err := c.requestJSON(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/_matrix/client/v3/createRoom",
		Body:   request,
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("mx: creating room: %w", err)
	}
	c.logger.Info("created room",
		"room_id", response.RoomID,
		"alias", request.Alias,
		"name", request.Name,
	)
	return c.ensureRoom(response.RoomID), nil
}

// JoinRoom joins a room by id and returns its snapshot.
func (c *Client) JoinRoom(ctx context.Context, roomID ref.RoomID) (*Room, error) {
	if err := c.join(ctx, roomID.String(), nil); err != nil {
		return nil, fmt.Errorf("mx: joining room %s: %w", roomID, err)
	}
	return c.ensureRoom(roomID), nil
}

// JoinRoomByAlias resolves and joins a room by alias, returning its
// snapshot.
func (c *Client) JoinRoomByAlias(ctx context.Context, alias ref.RoomAlias) (*Room, error) {
	var response CreateRoomResponse
	if err := c.join(ctx, alias.String(), &response); err != nil {
		return nil, fmt.Errorf("mx: joining room %s: %w", alias, err)
	}
	return c.ensureRoom(response.RoomID), nil
}

// join posts to the join endpoint, which accepts a room id or alias.
func (c *Client) join(ctx context.Context, idOrAlias string, into any) error {
	return c.requestJSON(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/_matrix/client/v3/join/" + url.PathEscape(idOrAlias),
		Body:   struct{}{},
	}, into)
}

// LeaveRoom leaves a room and destroys the local snapshot: the Room
// entry, its timeline buffer, and every cached attribute.
func (c *Client) LeaveRoom(ctx context.Context, roomID ref.RoomID) error {
	_, err := c.executor.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/leave",
		Body:   struct{}{},
	})
	if err != nil {
		return fmt.Errorf("mx: leaving room %s: %w", roomID, err)
	}
	c.dropRoom(roomID)
	return nil
}

// ForgetRoom forgets a previously left room, removing it from the
// server's account data, and destroys any remaining local snapshot.
// The server rejects forgetting a room the user is still joined to.
func (c *Client) ForgetRoom(ctx context.Context, roomID ref.RoomID) error {
	_, err := c.executor.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/forget",
		Body:   struct{}{},
	})
	if err != nil {
		return fmt.Errorf("mx: forgetting room %s: %w", roomID, err)
	}
	c.dropRoom(roomID)
	return nil
}

// InviteUser invites a user to a room.
func (c *Client) InviteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error {
	_, err := c.executor.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/invite",
		Body:   InviteRequest{UserID: userID},
	})
	if err != nil {
		return fmt.Errorf("mx: inviting %s to %s: %w", userID, roomID, err)
	}
	return nil
}

// KickUser removes a user from a room. The reason, if non-empty, is
// visible to the room.
func (c *Client) KickUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID, reason string) error {
	_, err := c.executor.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/kick",
		Body:   KickRequest{UserID: userID, Reason: reason},
	})
	if err != nil {
		return fmt.Errorf("mx: kicking %s from %s: %w", userID, roomID, err)
	}
	return nil
}

// JoinedRooms lists the rooms the user is joined to and seeds a
// snapshot for each, so Rooms reflects server state before the first
// sync round.
func (c *Client) JoinedRooms(ctx context.Context) ([]ref.RoomID, error) {
	var response JoinedRoomsResponse
	err := c.requestJSON(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/_matrix/client/v3/joined_rooms",
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("mx: listing joined rooms: %w", err)
	}
	for _, roomID := range response.JoinedRooms {
		c.ensureRoom(roomID)
	}
	return response.JoinedRooms, nil
}

// ResolveAlias looks up the room id behind an alias, along with
// servers that may be used to join it.
func (c *Client) ResolveAlias(ctx context.Context, alias ref.RoomAlias) (*ResolveAliasResponse, error) {
	var response ResolveAliasResponse
	err := c.requestJSON(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/_matrix/client/v3/directory/room/" + url.PathEscape(alias.String()),
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("mx: resolving alias %s: %w", alias, err)
	}
	return &response, nil
}

// RoomMembers fetches the full member list of a room. Every
// membership state the server reports is included; callers that want
// only current members filter on Membership.
func (c *Client) RoomMembers(ctx context.Context, roomID ref.RoomID) ([]Member, error) {
	var response MembersResponse
	err := c.requestJSON(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/members",
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("mx: listing members of %s: %w", roomID, err)
	}
	members := make([]Member, 0, len(response.Chunk))
	for _, event := range response.Chunk {
		if member, ok := memberFromEvent(event); ok {
			members = append(members, member)
		}
	}
	return members, nil
}

// RoomMessages pages through a room's history. An empty From starts
// from the most recent events; Room.PrevBatch supplies the token for
// paging backwards from the buffered timeline.
func (c *Client) RoomMessages(ctx context.Context, roomID ref.RoomID, options RoomMessagesOptions) (*RoomMessagesResponse, error) {
	direction := options.Direction
	if direction == "" {
		direction = "b"
	}
	query := url.Values{"dir": []string{direction}}
	if options.From != "" {
		query.Set("from", options.From)
	}
	if options.Limit > 0 {
		query.Set("limit", strconv.Itoa(options.Limit))
	}

	var response RoomMessagesResponse
	err := c.requestJSON(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/messages",
		Query:  query,
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("mx: fetching messages for %s: %w", roomID, err)
	}
	for _, event := range response.Chunk {
		event.RoomID = roomID
	}
	for _, event := range response.State {
		event.RoomID = roomID
	}
	return &response, nil
}
