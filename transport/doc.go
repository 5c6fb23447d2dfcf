// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport implements the HTTP boundary of the SDK: request
// execution against a Matrix homeserver, the typed error taxonomy for
// failed requests, rate-limit retry, and event-stream framing.
//
// [Transport] is the seam between protocol logic and the wire. The
// production implementation is [HTTP]; tests substitute fakes. A
// round trip yields a [Payload] — a structural view of the response
// JSON with typed field-path accessors — or exactly one error class:
//
//   - [RequestError] and its status subtypes ([NotAuthorizedError],
//     [ForbiddenError], [NotFoundError], [ConflictError],
//     [TooManyRequestsError]) for protocol-level failures,
//   - [ConnectionError] for transport-level failures, with
//     [TimeoutError] for exceeded deadlines,
//   - [UnexpectedResponseError] for 2xx responses whose body cannot
//     be decoded or lacks a required field.
//
// [Executor] wraps a Transport with credential injection and the
// rate-limit policy: 429 responses are retried after the server's
// retry_after_ms delay (bounded by an attempt ceiling, after which
// [ServerBusyError] is returned). All waiting goes through lib/clock
// so tests control time.
package transport
