// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RequestError represents a structured error response from the Matrix
// homeserver. Every non-2xx response becomes a RequestError (or one of
// its status subtypes). Callers can use errors.As to extract the
// structured information:
//
//	var requestErr *transport.RequestError
//	if errors.As(err, &requestErr) {
//	    if requestErr.Code == transport.ErrCodeNotFound { ... }
//	}
//
// The status subtypes (NotAuthorizedError, ForbiddenError,
// NotFoundError, ConflictError, TooManyRequestsError) all unwrap to
// *RequestError, so matching on the base type catches every
// protocol-level failure.
type RequestError struct {
	// Code is the Matrix error code (e.g., "M_FORBIDDEN",
	// "M_UNKNOWN_TOKEN"). Empty if the server returned a non-JSON
	// error body.
	Code string
	// Message is the human-readable error description from the server.
	Message string
	// StatusCode is the HTTP status code of the response.
	StatusCode int
	// Extra holds the remaining fields of the error body beyond
	// errcode and error (e.g. retry_after_ms on rate limits).
	Extra map[string]any
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// UnmarshalJSON decodes the standard Matrix error shape, keeping any
// additional fields in Extra.
func (e *RequestError) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if code, ok := fields["errcode"].(string); ok {
		e.Code = code
		delete(fields, "errcode")
	}
	if message, ok := fields["error"].(string); ok {
		e.Message = message
		delete(fields, "error")
	}
	if len(fields) > 0 {
		e.Extra = fields
	}
	return nil
}

// NotAuthorizedError is a RequestError with HTTP status 401: the
// request lacked valid credentials (missing, expired, or revoked
// access token).
type NotAuthorizedError struct {
	RequestError
}

func (e *NotAuthorizedError) Unwrap() error { return &e.RequestError }

// ForbiddenError is a RequestError with HTTP status 403: the
// credentials were valid but do not grant the requested operation.
type ForbiddenError struct {
	RequestError
}

func (e *ForbiddenError) Unwrap() error { return &e.RequestError }

// NotFoundError is a RequestError with HTTP status 404: the referenced
// room, event, user, or alias does not exist (or is not visible).
type NotFoundError struct {
	RequestError
}

func (e *NotFoundError) Unwrap() error { return &e.RequestError }

// ConflictError is a RequestError with HTTP status 409: the request
// conflicts with existing server state.
type ConflictError struct {
	RequestError
}

func (e *ConflictError) Unwrap() error { return &e.RequestError }

// TooManyRequestsError is a RequestError with HTTP status 429: the
// server is rate limiting the client. RetryAfter carries the server's
// requested delay; the Executor honors it when auto-retry is enabled.
type TooManyRequestsError struct {
	RequestError

	// RetryAfter is the delay the server asked for, parsed from the
	// retry_after_ms field of the error body. Zero if the server did
	// not send one.
	RetryAfter time.Duration
}

func (e *TooManyRequestsError) Unwrap() error { return &e.RequestError }

// ServerBusyError is returned by the Executor when the rate-limit
// attempt ceiling is exhausted: every attempt came back 429 and the
// Executor refuses to wait further. It wraps the final rate-limit
// response.
type ServerBusyError struct {
	// Attempts is the number of requests sent before giving up.
	Attempts int
	// Last is the final 429 response.
	Last *TooManyRequestsError
}

func (e *ServerBusyError) Error() string {
	return fmt.Sprintf("matrix: server still busy after %d rate-limited attempts: %s",
		e.Attempts, e.Last.Message)
}

func (e *ServerBusyError) Unwrap() error { return e.Last }

// ConnectionError represents a transport-level failure: the request
// never produced a usable HTTP response (DNS failure, refused
// connection, broken pipe). The protocol exchange did not happen, so
// there is no status code or error code.
type ConnectionError struct {
	// Op names the attempted operation, e.g. "GET /_matrix/client/v3/sync".
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("matrix: connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError is a ConnectionError whose cause was an exceeded
// deadline: a long-poll or stream ran past its client-side timeout.
// Sync treats it as the one retryable round failure.
type TimeoutError struct {
	ConnectionError
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("matrix: timeout during %s: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return &e.ConnectionError }

// UnexpectedResponseError indicates the server answered 2xx but the
// body could not be decoded as the expected shape, or lacked a field
// the operation requires. The raw body, when available, is preserved
// for diagnosis.
type UnexpectedResponseError struct {
	// StatusCode is the HTTP status of the response (2xx).
	StatusCode int
	// Body is the raw response body.
	Body []byte
	// Err is the decode error, if any.
	Err error
}

func (e *UnexpectedResponseError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("matrix: unexpected %d response: %v", e.StatusCode, e.Err)
	}
	body := e.Body
	if len(body) > 512 {
		body = body[:512]
	}
	return fmt.Sprintf("matrix: unexpected %d response: %v (body: %s)", e.StatusCode, e.Err, body)
}

func (e *UnexpectedResponseError) Unwrap() error { return e.Err }

// Standard Matrix error codes.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeUserInUse     = "M_USER_IN_USE"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnrecognized  = "M_UNRECOGNIZED"
	ErrCodeUnknown       = "M_UNKNOWN"
	ErrCodeInvalidParam  = "M_INVALID_PARAM"
	ErrCodeMissingParam  = "M_MISSING_PARAM"
	ErrCodeExclusive     = "M_EXCLUSIVE"
	ErrCodeRoomInUse     = "M_ROOM_IN_USE"
)

// IsErrorCode checks whether err is a *RequestError (or subtype) with
// the given Matrix error code.
func IsErrorCode(err error, code string) bool {
	var requestErr *RequestError
	if errors.As(err, &requestErr) {
		return requestErr.Code == code
	}
	return false
}

// requestErrorFromResponse builds the typed error for a non-2xx
// response. The body is decoded as the standard Matrix error shape
// when possible; a non-JSON body still produces a RequestError (with
// empty Code and the raw body as Message) so the status subtype
// selection is never lost.
func requestErrorFromResponse(statusCode int, body []byte) error {
	var base RequestError
	if err := json.Unmarshal(body, &base); err != nil {
		message := string(body)
		if len(message) > 512 {
			message = message[:512]
		}
		base = RequestError{Message: message}
	}
	base.StatusCode = statusCode

	switch statusCode {
	case 401:
		return &NotAuthorizedError{RequestError: base}
	case 403:
		return &ForbiddenError{RequestError: base}
	case 404:
		return &NotFoundError{RequestError: base}
	case 409:
		return &ConflictError{RequestError: base}
	case 429:
		rateLimited := &TooManyRequestsError{RequestError: base}
		if ms, ok := base.Extra["retry_after_ms"].(float64); ok && ms > 0 {
			rateLimited.RetryAfter = time.Duration(ms) * time.Millisecond
		}
		return rateLimited
	default:
		return &base
	}
}
