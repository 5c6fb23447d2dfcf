// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mx

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/mx/lib/ref"
	"github.com/bureau-foundation/mx/transport"
)

// Filter narrows what a sync round returns. Nil slices leave a
// category unfiltered; Exclude* drops a category entirely. The zero
// Filter matches everything, same as syncing without one.
type Filter struct {
	// Rooms restricts sync to these rooms.
	Rooms []ref.RoomID `json:"rooms,omitempty"`

	// TimelineTypes restricts timeline events to these types.
	TimelineTypes []ref.EventType `json:"timeline_types,omitempty"`

	// TimelineLimit caps timeline events per room per round. Zero
	// uses the server default.
	TimelineLimit int `json:"timeline_limit,omitempty"`

	// StateTypes restricts state events to these types.
	StateTypes []ref.EventType `json:"state_types,omitempty"`
	// ExcludeState drops the state section entirely.
	ExcludeState bool `json:"exclude_state,omitempty"`

	// EphemeralTypes restricts ephemeral events to these types.
	EphemeralTypes []ref.EventType `json:"ephemeral_types,omitempty"`
	// ExcludeEphemeral drops typing and receipt noise.
	ExcludeEphemeral bool `json:"exclude_ephemeral,omitempty"`

	// PresenceTypes restricts presence events to these types.
	PresenceTypes []ref.EventType `json:"presence_types,omitempty"`
	// ExcludePresence drops the presence section.
	ExcludePresence bool `json:"exclude_presence,omitempty"`

	// LazyLoadMembers asks the server to send only the member events
	// needed to render the returned timeline instead of full
	// membership. Rounds synced this way mark room membership
	// incomplete; Room.Members falls back to a full fetch.
	LazyLoadMembers bool `json:"lazy_load_members,omitempty"`
}

// ParseFilterJSONC strips JSONC comments and trailing commas from
// data, then unmarshals the result into a Filter. Preset files use
// the Filter field names in snake_case, extended with // line
// comments, /* block comments */, and trailing commas.
func ParseFilterJSONC(data []byte) (*Filter, error) {
	stripped := jsonc.ToJSON(data)

	var filter Filter
	if err := json.Unmarshal(stripped, &filter); err != nil {
		return nil, fmt.Errorf("mx: parsing filter: %w", err)
	}
	return &filter, nil
}

// ReadFilterFile reads a JSONC filter preset from disk.
func ReadFilterFile(path string) (*Filter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mx: reading %s: %w", path, err)
	}
	filter, err := ParseFilterJSONC(data)
	if err != nil {
		return nil, fmt.Errorf("mx: %s: %w", path, err)
	}
	return filter, nil
}

// InlineJSON returns the filter in the protocol's wire shape as
// compact JSON, suitable for the sync filter query parameter. The
// shape is built from sorted-key maps, so equal filters produce
// byte-equal JSON.
func (f *Filter) InlineJSON() (string, error) {
	encoded, err := json.Marshal(f.protocolShape())
	if err != nil {
		return "", fmt.Errorf("mx: encoding filter: %w", err)
	}
	return string(encoded), nil
}

// protocolShape translates the flat Filter into the server's nested
// filter document. An empty types list means "match nothing", which
// is how a category is excluded.
func (f *Filter) protocolShape() map[string]any {
	shape := map[string]any{}

	room := map[string]any{}
	if len(f.Rooms) > 0 {
		room["rooms"] = f.Rooms
	}

	timeline := map[string]any{}
	if len(f.TimelineTypes) > 0 {
		timeline["types"] = f.TimelineTypes
	}
	if f.TimelineLimit > 0 {
		timeline["limit"] = f.TimelineLimit
	}
	if f.LazyLoadMembers {
		timeline["lazy_load_members"] = true
	}
	if len(timeline) > 0 {
		room["timeline"] = timeline
	}

	state := map[string]any{}
	if f.ExcludeState {
		state["types"] = []string{}
	} else {
		if len(f.StateTypes) > 0 {
			state["types"] = f.StateTypes
		}
		if f.LazyLoadMembers {
			state["lazy_load_members"] = true
		}
	}
	if len(state) > 0 {
		room["state"] = state
	}

	ephemeral := map[string]any{}
	if f.ExcludeEphemeral {
		ephemeral["types"] = []string{}
	} else if len(f.EphemeralTypes) > 0 {
		ephemeral["types"] = f.EphemeralTypes
	}
	if len(ephemeral) > 0 {
		room["ephemeral"] = ephemeral
	}

	if len(room) > 0 {
		shape["room"] = room
	}

	presence := map[string]any{}
	if f.ExcludePresence {
		presence["types"] = []string{}
	} else if len(f.PresenceTypes) > 0 {
		presence["types"] = f.PresenceTypes
	}
	if len(presence) > 0 {
		shape["presence"] = presence
	}

	return shape
}

// UploadFilter registers a filter definition with the server and
// returns its server-assigned id. Definitions are memoized by BLAKE3
// content hash: uploading an identical filter again returns the
// stored id without a round trip. The memo survives restarts through
// FilterIDs/SetFilterIDs.
func (c *Client) UploadFilter(ctx context.Context, filter *Filter) (string, error) {
	userID := c.UserID()
	if userID.IsZero() {
		return "", fmt.Errorf("mx: uploading a filter requires a logged-in session")
	}

	inline, err := filter.InlineJSON()
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256([]byte(inline))
	key := hex.EncodeToString(sum[:])

	c.mu.Lock()
	id, known := c.filterIDs[key]
	c.mu.Unlock()
	if known {
		return id, nil
	}

	var response FilterResponse
	err = c.requestJSON(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/_matrix/client/v3/user/" + url.PathEscape(userID.String()) + "/filter",
		Body:   json.RawMessage(inline),
	}, &response)
	if err != nil {
		return "", fmt.Errorf("mx: uploading filter: %w", err)
	}

	c.mu.Lock()
	c.filterIDs[key] = response.FilterID
	c.mu.Unlock()
	return response.FilterID, nil
}
