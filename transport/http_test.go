// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/mx/lib/secret"
)

// newTestTransport creates an HTTP transport pointing at a test server.
func newTestTransport(t *testing.T, handler http.Handler) *HTTP {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	transport, err := NewHTTP(Config{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	return transport
}

func testToken(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromString(value)
	if err != nil {
		t.Fatalf("creating test token: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func TestNewHTTP(t *testing.T) {
	t.Run("requires homeserver URL", func(t *testing.T) {
		if _, err := NewHTTP(Config{}); err == nil {
			t.Error("expected error for missing HomeserverURL")
		}
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path != "/_matrix/client/versions" {
				t.Errorf("unexpected path: %s", request.URL.Path)
			}
			writeJSON(writer, map[string]any{"versions": []string{"v1.11"}})
		}))
		t.Cleanup(server.Close)

		transport, err := NewHTTP(Config{HomeserverURL: server.URL + "/"})
		if err != nil {
			t.Fatalf("NewHTTP failed: %v", err)
		}
		_, err = transport.RoundTrip(context.Background(), &Request{
			Method: http.MethodGet,
			Path:   "/_matrix/client/versions",
		})
		if err != nil {
			t.Fatalf("RoundTrip failed: %v", err)
		}
	})
}

func TestRoundTrip(t *testing.T) {
	t.Run("decodes JSON response", func(t *testing.T) {
		transport := newTestTransport(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.Method != http.MethodGet {
				t.Errorf("expected GET, got %s", request.Method)
			}
			writeJSON(writer, map[string]any{"next_batch": "s72595"})
		}))

		payload, err := transport.RoundTrip(context.Background(), &Request{
			Method: http.MethodGet,
			Path:   "/_matrix/client/v3/sync",
		})
		if err != nil {
			t.Fatalf("RoundTrip failed: %v", err)
		}
		cursor, ok := payload.String("next_batch")
		if !ok || cursor != "s72595" {
			t.Errorf("next_batch = %q, %v", cursor, ok)
		}
	})

	t.Run("sends bearer token", func(t *testing.T) {
		transport := newTestTransport(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if auth := request.Header.Get("Authorization"); auth != "Bearer syt_test_token" {
				t.Errorf("Authorization = %q", auth)
			}
			writeJSON(writer, map[string]any{})
		}))

		_, err := transport.RoundTrip(context.Background(), &Request{
			Method:      http.MethodGet,
			Path:        "/_matrix/client/v3/account/whoami",
			AccessToken: testToken(t, "syt_test_token"),
		})
		if err != nil {
			t.Fatalf("RoundTrip failed: %v", err)
		}
	})

	t.Run("no token means no auth header", func(t *testing.T) {
		transport := newTestTransport(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if auth := request.Header.Get("Authorization"); auth != "" {
				t.Errorf("unexpected Authorization header: %q", auth)
			}
			writeJSON(writer, map[string]any{"versions": []string{"v1.11"}})
		}))

		_, err := transport.RoundTrip(context.Background(), &Request{
			Method: http.MethodGet,
			Path:   "/_matrix/client/versions",
		})
		if err != nil {
			t.Fatalf("RoundTrip failed: %v", err)
		}
	})

	t.Run("encodes query parameters", func(t *testing.T) {
		transport := newTestTransport(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			query := request.URL.Query()
			if query.Get("since") != "s123" {
				t.Errorf("since = %q", query.Get("since"))
			}
			if query.Get("timeout") != "30000" {
				t.Errorf("timeout = %q", query.Get("timeout"))
			}
			writeJSON(writer, map[string]any{"next_batch": "s124"})
		}))

		_, err := transport.RoundTrip(context.Background(), &Request{
			Method: http.MethodGet,
			Path:   "/_matrix/client/v3/sync",
			Query:  url.Values{"since": {"s123"}, "timeout": {"30000"}},
		})
		if err != nil {
			t.Fatalf("RoundTrip failed: %v", err)
		}
	})

	t.Run("preserves escaped path segments", func(t *testing.T) {
		transport := newTestTransport(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			// The room ID must arrive escaped, not re-encoded.
			want := "/_matrix/client/v3/rooms/%21room%3Aexample.org/state"
			if request.URL.RawPath != want && request.URL.EscapedPath() != want {
				t.Errorf("escaped path = %q, want %q", request.URL.EscapedPath(), want)
			}
			writeJSON(writer, []any{})
		}))

		_, err := transport.RoundTrip(context.Background(), &Request{
			Method: http.MethodGet,
			Path:   "/_matrix/client/v3/rooms/" + url.PathEscape("!room:example.org") + "/state",
		})
		if err != nil {
			t.Fatalf("RoundTrip failed: %v", err)
		}
	})

	t.Run("encodes JSON body", func(t *testing.T) {
		transport := newTestTransport(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if contentType := request.Header.Get("Content-Type"); contentType != "application/json" {
				t.Errorf("Content-Type = %q", contentType)
			}
			var body map[string]any
			if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
				t.Fatalf("decoding request body: %v", err)
			}
			if body["msgtype"] != "m.text" || body["body"] != "hello" {
				t.Errorf("unexpected body: %v", body)
			}
			writeJSON(writer, map[string]any{"event_id": "$evt1"})
		}))

		_, err := transport.RoundTrip(context.Background(), &Request{
			Method: http.MethodPut,
			Path:   "/_matrix/client/v3/rooms/!r:x/send/m.room.message/txn1",
			Body:   map[string]any{"msgtype": "m.text", "body": "hello"},
		})
		if err != nil {
			t.Fatalf("RoundTrip failed: %v", err)
		}
	})

	t.Run("raw body sent verbatim", func(t *testing.T) {
		transport := newTestTransport(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if contentType := request.Header.Get("Content-Type"); contentType != "image/png" {
				t.Errorf("Content-Type = %q", contentType)
			}
			body, err := io.ReadAll(request.Body)
			if err != nil {
				t.Fatalf("reading body: %v", err)
			}
			if string(body) != "fake-png-data" {
				t.Errorf("body = %q", body)
			}
			writeJSON(writer, map[string]any{"content_uri": "mxc://example.org/abc"})
		}))

		_, err := transport.RoundTrip(context.Background(), &Request{
			Method:      http.MethodPost,
			Path:        "/_matrix/media/v3/upload",
			RawBody:     strings.NewReader("fake-png-data"),
			ContentType: "image/png",
		})
		if err != nil {
			t.Fatalf("RoundTrip failed: %v", err)
		}
	})

	t.Run("404 becomes NotFoundError", func(t *testing.T) {
		transport := newTestTransport(t, http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			writer.Header().Set("Content-Type", "application/json")
			writer.WriteHeader(http.StatusNotFound)
			json.NewEncoder(writer).Encode(map[string]string{"errcode": "M_NOT_FOUND", "error": "Room not found"})
		}))

		_, err := transport.RoundTrip(context.Background(), &Request{
			Method: http.MethodGet,
			Path:   "/_matrix/client/v3/rooms/!missing:x/state",
		})
		var notFound *NotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("expected *NotFoundError, got %T: %v", err, err)
		}
		if notFound.Code != ErrCodeNotFound {
			t.Errorf("Code = %q", notFound.Code)
		}
		if !IsErrorCode(err, ErrCodeNotFound) {
			t.Error("IsErrorCode should match")
		}
	})

	t.Run("non-JSON error body", func(t *testing.T) {
		transport := newTestTransport(t, http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			writer.WriteHeader(http.StatusBadGateway)
			io.WriteString(writer, "upstream unavailable")
		}))

		_, err := transport.RoundTrip(context.Background(), &Request{
			Method: http.MethodGet,
			Path:   "/_matrix/client/v3/sync",
		})
		var requestErr *RequestError
		if !errors.As(err, &requestErr) {
			t.Fatalf("expected *RequestError, got %T: %v", err, err)
		}
		if requestErr.StatusCode != http.StatusBadGateway {
			t.Errorf("StatusCode = %d", requestErr.StatusCode)
		}
		if requestErr.Code != "" {
			t.Errorf("Code = %q, want empty", requestErr.Code)
		}
		if requestErr.Message != "upstream unavailable" {
			t.Errorf("Message = %q", requestErr.Message)
		}
	})

	t.Run("undecodable 2xx body", func(t *testing.T) {
		transport := newTestTransport(t, http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			io.WriteString(writer, "not json at all")
		}))

		_, err := transport.RoundTrip(context.Background(), &Request{
			Method: http.MethodGet,
			Path:   "/_matrix/client/v3/sync",
		})
		var unexpected *UnexpectedResponseError
		if !errors.As(err, &unexpected) {
			t.Fatalf("expected *UnexpectedResponseError, got %T: %v", err, err)
		}
		if string(unexpected.Body) != "not json at all" {
			t.Errorf("Body = %q", unexpected.Body)
		}
	})

	t.Run("timeout-bounded request still delivers its body", func(t *testing.T) {
		// A long-poll that answers well inside its deadline must
		// succeed; the per-request timeout may not cut off the body
		// read after the headers arrive.
		transport := newTestTransport(t, http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			writeJSON(writer, map[string]any{"next_batch": "s42"})
		}))

		payload, err := transport.RoundTrip(context.Background(), &Request{
			Method:  http.MethodGet,
			Path:    "/_matrix/client/v3/sync",
			Timeout: 10 * time.Second,
		})
		if err != nil {
			t.Fatalf("RoundTrip failed: %v", err)
		}
		cursor, ok := payload.String("next_batch")
		if !ok || cursor != "s42" {
			t.Errorf("next_batch = %q, %v", cursor, ok)
		}
	})

	t.Run("request timeout becomes TimeoutError", func(t *testing.T) {
		transport := newTestTransport(t, http.HandlerFunc(func(_ http.ResponseWriter, request *http.Request) {
			// Hold the response until the client gives up.
			<-request.Context().Done()
		}))

		_, err := transport.RoundTrip(context.Background(), &Request{
			Method:  http.MethodGet,
			Path:    "/_matrix/client/v3/sync",
			Timeout: 50 * time.Millisecond,
		})
		var timeout *TimeoutError
		if !errors.As(err, &timeout) {
			t.Fatalf("expected *TimeoutError, got %T: %v", err, err)
		}
		var connection *ConnectionError
		if !errors.As(err, &connection) {
			t.Error("TimeoutError should also match *ConnectionError")
		}
		if connection.Op != "GET /_matrix/client/v3/sync" {
			t.Errorf("Op = %q", connection.Op)
		}
	})

	t.Run("caller cancellation propagates unwrapped", func(t *testing.T) {
		started := make(chan struct{})
		transport := newTestTransport(t, http.HandlerFunc(func(_ http.ResponseWriter, request *http.Request) {
			close(started)
			<-request.Context().Done()
		}))

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-started
			cancel()
		}()

		_, err := transport.RoundTrip(ctx, &Request{
			Method:  http.MethodGet,
			Path:    "/_matrix/client/v3/sync",
			Timeout: 10 * time.Second,
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %T: %v", err, err)
		}
		var timeout *TimeoutError
		if errors.As(err, &timeout) {
			t.Error("caller cancellation must not be reported as a timeout")
		}
	})

	t.Run("connection refused becomes ConnectionError", func(t *testing.T) {
		// A server that is immediately closed leaves a port nothing
		// listens on.
		server := httptest.NewServer(http.NotFoundHandler())
		serverURL := server.URL
		server.Close()

		transport, err := NewHTTP(Config{HomeserverURL: serverURL})
		if err != nil {
			t.Fatalf("NewHTTP failed: %v", err)
		}
		_, err = transport.RoundTrip(context.Background(), &Request{
			Method: http.MethodGet,
			Path:   "/_matrix/client/versions",
		})
		var connection *ConnectionError
		if !errors.As(err, &connection) {
			t.Fatalf("expected *ConnectionError, got %T: %v", err, err)
		}
	})
}

func TestOpenStream(t *testing.T) {
	t.Run("reads frames from response body", func(t *testing.T) {
		transport := newTestTransport(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if accept := request.Header.Get("Accept"); accept != "text/event-stream" {
				t.Errorf("Accept = %q", accept)
			}
			writer.Header().Set("Content-Type", "text/event-stream")
			io.WriteString(writer, "event: sync\ndata: {\"next_batch\":\"s1\"}\n\n")
		}))

		stream, err := transport.OpenStream(context.Background(), &Request{
			Method: http.MethodGet,
			Path:   "/_matrix/client/v3/sync",
		})
		if err != nil {
			t.Fatalf("OpenStream failed: %v", err)
		}
		defer stream.Close()

		if !stream.Next() {
			t.Fatalf("expected a frame, err: %v", stream.Err())
		}
		frame := stream.Frame()
		if frame.Type != "sync" {
			t.Errorf("frame.Type = %q", frame.Type)
		}
		if frame.Data != `{"next_batch":"s1"}` {
			t.Errorf("frame.Data = %q", frame.Data)
		}
		if stream.Next() {
			t.Error("expected stream end")
		}
		if err := stream.Err(); err != nil {
			t.Errorf("unexpected stream error: %v", err)
		}
	})

	t.Run("non-2xx becomes typed error", func(t *testing.T) {
		transport := newTestTransport(t, http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			writer.Header().Set("Content-Type", "application/json")
			writer.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(writer).Encode(map[string]string{"errcode": "M_UNKNOWN_TOKEN", "error": "Invalid token"})
		}))

		_, err := transport.OpenStream(context.Background(), &Request{
			Method: http.MethodGet,
			Path:   "/_matrix/client/v3/sync",
		})
		var notAuthorized *NotAuthorizedError
		if !errors.As(err, &notAuthorized) {
			t.Fatalf("expected *NotAuthorizedError, got %T: %v", err, err)
		}
		if notAuthorized.Code != ErrCodeUnknownToken {
			t.Errorf("Code = %q", notAuthorized.Code)
		}
	})
}

// Test helpers.

func writeJSON(writer http.ResponseWriter, value any) {
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(value)
}
