// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// maxResponseSize bounds API response body reads: 256 MB. This exists
// solely to prevent a pathological response from exhausting system
// memory. Legitimate responses are orders of magnitude smaller; the
// limit is intentionally generous so that it never interferes with
// normal operation.
const maxResponseSize int64 = 256 << 20

// Config holds configuration for creating an HTTP transport.
type Config struct {
	// HomeserverURL is the base URL of the Matrix homeserver
	// (e.g., "http://localhost:6167").
	HomeserverURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// HTTP is the production Transport: it executes requests over
// net/http against a single homeserver.
type HTTP struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTP creates an HTTP transport for the configured homeserver.
func NewHTTP(config Config) (*HTTP, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("transport: HomeserverURL is required")
	}

	// Validate the URL structure. We store the string form (with
	// trailing slash stripped) and build request URLs by direct
	// concatenation. This avoids double-encoding issues with Go's
	// url.URL.String(), which re-encodes Path even when RawPath is set
	// if it doesn't consider RawPath a valid encoding of Path.
	if _, err := url.Parse(config.HomeserverURL); err != nil {
		return nil, fmt.Errorf("transport: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTP{
		baseURL:    strings.TrimRight(config.HomeserverURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. Call this after a network disruption to
// force subsequent requests to establish fresh TCP connections instead
// of reusing a poisoned pooled connection.
func (h *HTTP) CloseIdleConnections() {
	h.httpClient.CloseIdleConnections()
}

// RoundTrip executes one request. On 2xx the body is parsed into a
// Payload; non-2xx responses become typed request errors; failures
// below HTTP become ConnectionError or TimeoutError.
func (h *HTTP) RoundTrip(ctx context.Context, request *Request) (Payload, error) {
	// The per-request timeout context must stay alive until the body
	// is fully read: net/http binds response body reads to the request
	// context, so canceling early would poison the read.
	callerCtx := ctx
	if request.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, request.Timeout)
		defer cancel()
	}

	response, err := h.send(ctx, callerCtx, request, nil)
	if err != nil {
		return Payload{}, err
	}
	defer response.Body.Close()

	operation := request.Method + " " + request.Path
	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		if callerCtx.Err() != nil {
			return Payload{}, callerCtx.Err()
		}
		if ctx.Err() != nil {
			return Payload{}, &TimeoutError{ConnectionError{Op: operation, Err: err}}
		}
		return Payload{}, &ConnectionError{Op: operation, Err: fmt.Errorf("reading response body: %w", err)}
	}

	h.logger.Debug("matrix request",
		"method", request.Method,
		"path", request.Path,
		"status", response.StatusCode,
	)

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return Payload{}, requestErrorFromResponse(response.StatusCode, responseBody)
	}

	payload, err := NewPayload(responseBody)
	if err != nil {
		return Payload{}, &UnexpectedResponseError{
			StatusCode: response.StatusCode,
			Body:       responseBody,
			Err:        err,
		}
	}
	return payload, nil
}

// OpenStream executes a request whose 2xx response body is a
// server-sent event stream. Non-2xx responses produce the same typed
// errors as RoundTrip. Request.Timeout is ignored: a stream is
// open-ended and lives until Close or context cancellation.
func (h *HTTP) OpenStream(ctx context.Context, request *Request) (*Stream, error) {
	response, err := h.send(ctx, ctx, request, map[string]string{"Accept": "text/event-stream"})
	if err != nil {
		return nil, err
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
		response.Body.Close()
		return nil, requestErrorFromResponse(response.StatusCode, responseBody)
	}

	h.logger.Debug("matrix stream opened",
		"method", request.Method,
		"path", request.Path,
	)
	return newStream(response.Body), nil
}

// send builds and executes the HTTP request, classifying transport
// failures. ctx bounds the request (including any per-request timeout
// the caller layered on); callerCtx is the original caller context,
// consulted so caller cancellation is never misreported as a timeout.
// The caller owns the response body on success.
func (h *HTTP) send(ctx, callerCtx context.Context, request *Request, extraHeaders map[string]string) (*http.Response, error) {
	requestURL := h.baseURL + request.Path
	if len(request.Query) > 0 {
		requestURL += "?" + request.Query.Encode()
	}

	var bodyReader io.Reader
	contentType := request.ContentType
	switch {
	case request.RawBody != nil:
		bodyReader = request.RawBody
	case request.Body != nil:
		encoded, err := json.Marshal(request.Body)
		if err != nil {
			return nil, fmt.Errorf("transport: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
		if contentType == "" {
			contentType = "application/json"
		}
	}

	httpRequest, err := http.NewRequestWithContext(ctx, request.Method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to create request: %w", err)
	}

	if contentType != "" {
		httpRequest.Header.Set("Content-Type", contentType)
	}
	if request.AccessToken != nil {
		httpRequest.Header.Set("Authorization", "Bearer "+request.AccessToken.String())
	}
	for name, value := range extraHeaders {
		httpRequest.Header.Set(name, value)
	}

	response, err := h.httpClient.Do(httpRequest)
	if err != nil {
		operation := request.Method + " " + request.Path
		// Caller cancellation is not a transport failure; propagate
		// it unwrapped so loops can recognize their own shutdown.
		if callerCtx.Err() != nil {
			return nil, callerCtx.Err()
		}
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, &TimeoutError{ConnectionError{Op: operation, Err: err}}
		}
		return nil, &ConnectionError{Op: operation, Err: err}
	}
	return response, nil
}
