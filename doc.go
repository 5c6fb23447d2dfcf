// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mx is a client SDK for the Matrix client-server API. It
// maintains a locally consistent view of the rooms a user participates
// in, fed by incremental /sync rounds, and dispatches ordered,
// deduplicated event callbacks as the view changes.
//
// The package provides two core types. [Client] owns the session: the
// access token (in mmap-backed secret.Buffer memory), the sync cursor,
// the set of known rooms, and the background sync unit. [Room] is the
// locally cached snapshot of one room: TTL-cached attributes (name,
// topic, aliases, join rule, power levels, members) plus a bounded
// buffer of the most recent timeline events.
//
// Event delivery is synchronous and ordered. Handlers register at
// client scope (Client.OnTimelineEvent, OnStateEvent, OnEphemeralEvent,
// OnPresence, OnInvite, OnLeave, OnSyncError) or room scope
// (Room.OnEvent, OnStateEvent, OnEphemeralEvent) and fire on the
// dispatching goroutine, most recently registered first. A state event
// delivered in both the state and timeline sections of one sync
// payload fires its state callbacks exactly once.
//
// Room attributes read through a TTL cache (lib/cache) gated by the
// client's [Config.CacheLevel]: an unexpired read never re-fetches,
// and sync-delivered state events write the new value straight into
// the cache. Attribute setters (Room.SetName, SetTopic, ...) write
// through after the server accepts the change.
//
// Background synchronization runs in a single goroutine per client,
// started with [Client.StartListening] in either polling mode
// (repeated long-poll rounds) or streaming mode (one long-lived
// server-sent event stream). Server errors back off exponentially;
// anything else is reported through the error callbacks and stops the
// unit — callers observe [Client.Listening] turning false.
//
// All API failures are typed errors from the transport package:
// status-selected *transport.RequestError subtypes for protocol
// errors, *transport.ConnectionError and *transport.TimeoutError for
// transport failures. Rate limits (429) are retried automatically by
// the executor, bounded by an attempt ceiling.
package mx
