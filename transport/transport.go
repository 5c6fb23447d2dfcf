// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/bureau-foundation/mx/lib/secret"
)

// Request describes one homeserver API call. Path must already be
// escaped (build it with url.PathEscape per segment); Query is
// appended verbatim.
type Request struct {
	// Method is the HTTP method.
	Method string
	// Path is the escaped request path, e.g.
	// "/_matrix/client/v3/rooms/" + url.PathEscape(roomID).
	Path string
	// Query holds query parameters. May be nil.
	Query url.Values
	// Body is JSON-encoded as the request body when non-nil.
	Body any
	// RawBody is sent verbatim (media uploads). Mutually exclusive
	// with Body. Raw-body requests are not retried by the Executor:
	// the reader is consumed by the first attempt.
	RawBody io.Reader
	// ContentType overrides the request content type. Defaults to
	// application/json for Body requests.
	ContentType string
	// AccessToken authenticates the request. Nil leaves the request
	// unauthenticated. The Executor fills this from its token unless
	// NoAuth is set.
	AccessToken *secret.Buffer
	// NoAuth marks endpoints that must not carry credentials
	// (versions, login, registration).
	NoAuth bool
	// Timeout bounds the whole round trip client-side, including the
	// body read. Zero means no per-request deadline beyond the
	// context's. Long-poll requests set this to the server-side wait
	// plus a margin, so a stalled response surfaces as a TimeoutError.
	// Ignored by OpenStream: a stream has no natural deadline.
	Timeout time.Duration
}

// Transport executes requests against a homeserver. Implementations
// must return errors from this package's taxonomy: a typed
// *RequestError subtype for non-2xx responses, *ConnectionError or
// *TimeoutError for transport failures, and *UnexpectedResponseError
// for undecodable 2xx bodies.
type Transport interface {
	// RoundTrip executes one request and returns the decoded payload.
	RoundTrip(ctx context.Context, request *Request) (Payload, error)

	// OpenStream performs a request whose response is a long-lived
	// event stream. The caller owns the returned Stream and must
	// close it.
	OpenStream(ctx context.Context, request *Request) (*Stream, error)
}
