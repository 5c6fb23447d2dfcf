// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mx

import (
	"github.com/bureau-foundation/mx/lib/ref"
)

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch string          `json:"next_batch"`
	Presence  PresenceSection `json:"presence,omitempty"`
	Rooms     RoomsSection    `json:"rooms"`
}

// PresenceSection contains presence events from the /sync response.
// Each event reports one user's presence state change. Clients that
// don't need presence filter it out via their sync filter and receive
// an empty section.
type PresenceSection struct {
	Events []PresenceEvent `json:"events"`
}

// PresenceEvent is a single m.presence event from the /sync response.
type PresenceEvent struct {
	Type    string               `json:"type"`
	Sender  ref.UserID           `json:"sender"`
	Content PresenceEventContent `json:"content"`
}

// PresenceEventContent carries the presence state for a single user.
type PresenceEventContent struct {
	// Presence is the user's current state: "online", "unavailable",
	// or "offline".
	Presence string `json:"presence"`

	// LastActiveAgo is milliseconds since the user was last active.
	// Zero when unknown or when the user is currently active.
	LastActiveAgo int64 `json:"last_active_ago,omitempty"`

	// CurrentlyActive is true when the user is actively using a
	// client right now (not just connected but idle).
	CurrentlyActive bool `json:"currently_active,omitempty"`

	// StatusMsg is an optional user-set status message.
	StatusMsg string `json:"status_msg,omitempty"`
}

// RoomsSection contains per-room sync data grouped by membership
// state. Map keys are room IDs; encoding/json uses ref.RoomID's
// TextUnmarshaler, so a syntactically invalid room id fails the whole
// decode and the round is rejected before any local state changes.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom contains sync data for a room the user has joined.
type JoinedRoom struct {
	State     StateSection     `json:"state"`
	Timeline  TimelineSection  `json:"timeline"`
	Ephemeral EphemeralSection `json:"ephemeral"`
}

// InvitedRoom contains sync data for a room the user was invited to.
// InviteState holds the stripped state events the server shares with
// invitees (room name, inviter's membership, join rules).
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom contains sync data for a room the user has left (or was
// removed from). State and Timeline cover the period up to the leave.
type LeftRoom struct {
	State    StateSection    `json:"state"`
	Timeline TimelineSection `json:"timeline"`
}

// TimelineSection contains timeline events from a sync response.
type TimelineSection struct {
	Events    []*Event `json:"events"`
	PrevBatch string   `json:"prev_batch"`
	Limited   bool     `json:"limited"`
}

// StateSection contains state events from a sync response.
type StateSection struct {
	Events []*Event `json:"events"`
}

// EphemeralSection contains ephemeral events (typing notifications,
// read receipts) from a sync response.
type EphemeralSection struct {
	Events []*Event `json:"events"`
}

// JoinRule controls who may join a room without an invite.
type JoinRule string

const (
	JoinRuleInvite  JoinRule = "invite"
	JoinRulePublic  JoinRule = "public"
	JoinRuleKnock   JoinRule = "knock"
	JoinRulePrivate JoinRule = "private"
)

// GuestAccess controls whether guest accounts may join a room.
type GuestAccess string

const (
	GuestAccessCanJoin   GuestAccess = "can_join"
	GuestAccessForbidden GuestAccess = "forbidden"
)

// HistoryVisibility controls which events a new member can read.
type HistoryVisibility string

const (
	HistoryVisibilityInvited       HistoryVisibility = "invited"
	HistoryVisibilityJoined        HistoryVisibility = "joined"
	HistoryVisibilityShared        HistoryVisibility = "shared"
	HistoryVisibilityWorldReadable HistoryVisibility = "world_readable"
)

// PowerLevels is the content of a m.room.power_levels state event:
// the per-user and per-event-type permission thresholds for a room.
type PowerLevels struct {
	Ban           int                   `json:"ban"`
	Events        map[ref.EventType]int `json:"events,omitempty"`
	EventsDefault int                   `json:"events_default"`
	Invite        int                   `json:"invite"`
	Kick          int                   `json:"kick"`
	Redact        int                   `json:"redact"`
	StateDefault  int                   `json:"state_default"`
	Users         map[ref.UserID]int    `json:"users,omitempty"`
	UsersDefault  int                   `json:"users_default"`
	Notifications map[string]int        `json:"notifications,omitempty"`
}

// UserLevel returns the power level of a user, falling back to the
// room's default for users without an explicit entry.
func (p *PowerLevels) UserLevel(userID ref.UserID) int {
	if level, ok := p.Users[userID]; ok {
		return level
	}
	return p.UsersDefault
}

// Member is one entry in a room's member map, extracted from a
// m.room.member state event.
type Member struct {
	UserID      ref.UserID `json:"user_id"`
	DisplayName string     `json:"display_name,omitempty"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	// Membership is the member's state: "join", "invite", "leave",
	// "ban", or "knock".
	Membership string `json:"membership"`
}

// MessageContent is the content body of a Matrix message event
// (m.room.message). Threads are first-class: set RelatesTo to send
// messages within a thread.
type MessageContent struct {
	MsgType       string     `json:"msgtype"`
	Body          string     `json:"body"`
	Format        string     `json:"format,omitempty"`
	FormattedBody string     `json:"formatted_body,omitempty"`
	RelatesTo     *RelatesTo `json:"m.relates_to,omitempty"`
}

// RelatesTo expresses relationships between events.
// For threads, RelType is "m.thread" and EventID is the thread root.
type RelatesTo struct {
	RelType       string      `json:"rel_type"`
	EventID       ref.EventID `json:"event_id"`
	IsFallingBack bool        `json:"is_falling_back,omitempty"`
	InReplyTo     *InReplyTo  `json:"m.in_reply_to,omitempty"`
}

// InReplyTo references a specific event being replied to within a thread.
type InReplyTo struct {
	EventID ref.EventID `json:"event_id"`
}

// NewTextMessage creates a plain text message with no thread context.
func NewTextMessage(body string) MessageContent {
	return MessageContent{
		MsgType: "m.text",
		Body:    body,
	}
}

// NewNotice creates an m.notice message. Notices are conventionally
// sent by automated clients; other automated clients ignore them,
// which prevents bot feedback loops.
func NewNotice(body string) MessageContent {
	return MessageContent{
		MsgType: "m.notice",
		Body:    body,
	}
}

// NewEmote creates an m.emote message ("/me" action text).
func NewEmote(body string) MessageContent {
	return MessageContent{
		MsgType: "m.emote",
		Body:    body,
	}
}

// NewThreadReply creates a message that replies within an existing
// thread. threadRootID is the event ID of the thread's root message.
func NewThreadReply(threadRootID ref.EventID, body string) MessageContent {
	return MessageContent{
		MsgType: "m.text",
		Body:    body,
		RelatesTo: &RelatesTo{
			RelType:       "m.thread",
			EventID:       threadRootID,
			IsFallingBack: true,
			InReplyTo: &InReplyTo{
				EventID: threadRootID,
			},
		},
	}
}

// CreateRoomRequest holds parameters for creating a Matrix room.
type CreateRoomRequest struct {
	Name            string         `json:"name,omitempty"`
	Topic           string         `json:"topic,omitempty"`
	Alias           string         `json:"room_alias_name,omitempty"` // local alias without # or :server
	RoomVersion     string         `json:"room_version,omitempty"`    // e.g. "11"; empty uses server default
	Visibility      string         `json:"visibility,omitempty"`      // "public" or "private"
	Preset          string         `json:"preset,omitempty"`          // "private_chat", "public_chat", "trusted_private_chat"
	Invite          []ref.UserID   `json:"invite,omitempty"`
	CreationContent map[string]any `json:"creation_content,omitempty"`
	InitialState    []StateEvent   `json:"initial_state,omitempty"`

	// PowerLevelContentOverride overrides the server's default power
	// levels for the new room.
	PowerLevelContentOverride *PowerLevels `json:"power_level_content_override,omitempty"`
}

// StateEvent represents a state event for room creation or state setting.
type StateEvent struct {
	Type     ref.EventType `json:"type"`
	StateKey string        `json:"state_key"`
	Content  any           `json:"content"`
}

// CreateRoomResponse is returned by CreateRoom.
type CreateRoomResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// InviteRequest holds the user ID to invite to a room.
type InviteRequest struct {
	UserID ref.UserID `json:"user_id"`
}

// KickRequest is the request body for kicking a user from a room.
type KickRequest struct {
	UserID ref.UserID `json:"user_id"`
	Reason string     `json:"reason,omitempty"`
}

// SendEventResponse is returned by SendMessage, SendEvent, and
// SendStateEvent.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// ResolveAliasResponse is returned by ResolveAlias.
type ResolveAliasResponse struct {
	RoomID  ref.RoomID `json:"room_id"`
	Servers []string   `json:"servers"`
}

// UploadResponse is returned by UploadMedia.
type UploadResponse struct {
	ContentURI string `json:"content_uri"`
}

// JoinedRoomsResponse is returned by the /joined_rooms endpoint.
type JoinedRoomsResponse struct {
	JoinedRooms []ref.RoomID `json:"joined_rooms"`
}

// MembersResponse is returned by the /members endpoint.
type MembersResponse struct {
	Chunk []*Event `json:"chunk"`
}

// DisplayNameResponse is returned by the /profile/{userId}/displayname
// endpoint.
type DisplayNameResponse struct {
	DisplayName string `json:"displayname"`
}

// PresenceStatus is returned by the /presence/{userId}/status endpoint.
type PresenceStatus struct {
	// Presence is the user's current state: "online", "unavailable",
	// or "offline".
	Presence        string `json:"presence"`
	StatusMsg       string `json:"status_msg,omitempty"`
	LastActiveAgo   int64  `json:"last_active_ago,omitempty"`
	CurrentlyActive bool   `json:"currently_active,omitempty"`
}

// SetPresenceRequest is the JSON body for
// PUT /_matrix/client/v3/presence/{userId}/status.
type SetPresenceRequest struct {
	// Presence is the desired state: "online", "unavailable", or
	// "offline".
	Presence string `json:"presence"`

	// StatusMsg is an optional human-readable status message.
	StatusMsg string `json:"status_msg,omitempty"`
}

// TypingRequest is the JSON body for the /typing endpoint.
type TypingRequest struct {
	Typing bool `json:"typing"`
	// Timeout is how long the typing notification is valid for, in
	// milliseconds. Ignored when Typing is false.
	Timeout int64 `json:"timeout,omitempty"`
}

// ReadMarkersRequest is the JSON body for the /read_markers endpoint.
// Read is a pointer so that an unset read receipt is omitted rather
// than sent as an empty id.
type ReadMarkersRequest struct {
	FullyRead ref.EventID  `json:"m.fully_read"`
	Read      *ref.EventID `json:"m.read,omitempty"`
}

// VersionsResponse is returned by Versions.
type VersionsResponse struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string `json:"type"`
	User                     string `json:"user"`
	Password                 string `json:"password"`
	DeviceID                 string `json:"device_id,omitempty"`
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

// LoginResponse is returned by the /login endpoint.
type LoginResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// FilterResponse is returned by the filter upload endpoint.
type FilterResponse struct {
	FilterID string `json:"filter_id"`
}

// RoomMessagesOptions controls pagination for room message fetching.
type RoomMessagesOptions struct {
	From      string // pagination token; empty means "from now"
	Direction string // "b" (backward/older) or "f" (forward/newer)
	Limit     int    // max events to return; 0 uses server default
}

// RoomMessagesResponse is returned by RoomMessages.
type RoomMessagesResponse struct {
	Start string   `json:"start"`
	End   string   `json:"end"`
	Chunk []*Event `json:"chunk"`
	State []*Event `json:"state,omitempty"`
}
