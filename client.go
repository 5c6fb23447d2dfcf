// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/mx/lib/cache"
	"github.com/bureau-foundation/mx/lib/clock"
	"github.com/bureau-foundation/mx/lib/ref"
	"github.com/bureau-foundation/mx/lib/secret"
	"github.com/bureau-foundation/mx/transport"
)

// defaultTimelineLimit bounds the per-room timeline buffer unless the
// config overrides it.
const defaultTimelineLimit = 10

// Config holds construction parameters for a Client. The zero value
// of every field except HomeserverURL has a usable default.
type Config struct {
	// HomeserverURL is the base URL of the homeserver
	// (e.g. "https://matrix.example.org"). Required unless Transport
	// is set.
	HomeserverURL string

	// Transport overrides the HTTP transport. Defaults to
	// transport.NewHTTP against HomeserverURL. Tests inject fakes
	// here.
	Transport transport.Transport

	// CacheLevel gates room attribute caching: cache.All caches
	// every attribute, cache.Some only the cheap display attributes
	// (name, topic, aliases), and cache.None — the zero value —
	// disables attribute caching so every getter fetches. Most
	// clients want cache.All.
	CacheLevel cache.Level

	// CacheStore overrides the attribute cache storage. Defaults to
	// an in-memory store.
	CacheStore cache.Store

	// TimelineLimit bounds the per-room timeline buffer. Defaults
	// to 10 events; must not be negative.
	TimelineLimit int

	// DisableAutoRetry turns off automatic retry of rate-limited
	// requests; callers receive *transport.TooManyRequestsError
	// immediately.
	DisableAutoRetry bool

	// Clock abstracts time for cache expiry, rate-limit waits, and
	// sync backoff. Defaults to the real clock.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Client is a Matrix client session: the access token, the sync
// cursor, the set of known room snapshots, the handler registries,
// and at most one background sync unit.
//
// All methods are safe for concurrent use. Foreground calls may race
// the background sync unit — attribute setters write through the
// cache so callers observe their own changes immediately, and the
// next sync round reconciles.
type Client struct {
	transport transport.Transport
	executor  *transport.Executor
	clock     clock.Clock
	logger    *slog.Logger
	cache     *cache.Cache

	timelineLimit int

	bus clientBus

	// transactionCounter generates unique transaction IDs for
	// idempotent sends.
	transactionCounter atomic.Int64

	// mu guards the session and room-set state below.
	mu           sync.Mutex
	userID       ref.UserID
	deviceID     string
	cursor       string
	rooms        map[ref.RoomID]*Room
	filterIDs    map[string]string
	listenCancel context.CancelFunc
	listenDone   chan struct{}
}

// NewClient creates a client for the configured homeserver. No
// network traffic happens until the first call.
func NewClient(config Config) (*Client, error) {
	roundTripper := config.Transport
	if roundTripper == nil {
		httpTransport, err := transport.NewHTTP(transport.Config{
			HomeserverURL: config.HomeserverURL,
			Logger:        config.Logger,
		})
		if err != nil {
			return nil, err
		}
		roundTripper = httpTransport
	}

	executor, err := transport.NewExecutor(transport.ExecutorConfig{
		Transport:        roundTripper,
		Clock:            config.Clock,
		Logger:           config.Logger,
		DisableAutoRetry: config.DisableAutoRetry,
	})
	if err != nil {
		return nil, err
	}

	if config.TimelineLimit < 0 {
		return nil, fmt.Errorf("mx: TimelineLimit must not be negative, got %d", config.TimelineLimit)
	}
	limit := config.TimelineLimit
	if limit == 0 {
		limit = defaultTimelineLimit
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		transport: roundTripper,
		executor:  executor,
		clock:     clk,
		logger:    logger,
		cache: cache.New(cache.Config{
			Store: config.CacheStore,
			Clock: clk,
			Level: config.CacheLevel,
		}),
		timelineLimit: limit,
		rooms:         make(map[ref.RoomID]*Room),
		filterIDs:     make(map[string]string),
	}, nil
}

// Login authenticates with a password and adopts the returned
// session. The password buffer is read but not closed — the caller
// retains ownership. On success the access token is held in
// mmap-backed memory and subsequent requests are authenticated.
func (c *Client) Login(ctx context.Context, userID ref.UserID, password *secret.Buffer) error {
	if userID.IsZero() {
		return fmt.Errorf("mx: login requires a user id")
	}
	if password == nil {
		return fmt.Errorf("mx: login requires a password")
	}

	var response LoginResponse
	err := c.requestJSON(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/_matrix/client/v3/login",
		Body: LoginRequest{
			Type:                     "m.login.password",
			User:                     userID.String(),
			Password:                 password.String(),
			InitialDeviceDisplayName: "mx",
		},
		NoAuth: true,
	}, &response)
	if err != nil {
		return fmt.Errorf("mx: login for %s failed: %w", userID, err)
	}
	if response.AccessToken == "" {
		return fmt.Errorf("mx: login: %w", &transport.UnexpectedResponseError{
			StatusCode: http.StatusOK,
			Err:        errors.New("response carried no access token"),
		})
	}

	token, err := secret.NewFromString(response.AccessToken)
	if err != nil {
		return fmt.Errorf("mx: storing access token: %w", err)
	}
	c.adoptSession(response.UserID, response.DeviceID, token)
	c.logger.Info("logged in",
		"user_id", response.UserID,
		"device_id", response.DeviceID,
	)
	return nil
}

// UseSession adopts an existing session: an access token restored
// from storage rather than obtained by Login. The client takes
// ownership of the token buffer and closes it on Logout or Close.
func (c *Client) UseSession(userID ref.UserID, deviceID string, accessToken *secret.Buffer) error {
	if userID.IsZero() {
		return fmt.Errorf("mx: session requires a user id")
	}
	if accessToken == nil {
		return fmt.Errorf("mx: session requires an access token")
	}
	c.adoptSession(userID, deviceID, accessToken)
	return nil
}

// adoptSession installs the token and identity, closing any previous
// token buffer.
func (c *Client) adoptSession(userID ref.UserID, deviceID string, token *secret.Buffer) {
	previous := c.executor.Token()
	c.executor.SetToken(token)
	if previous != nil {
		previous.Close()
	}
	c.mu.Lock()
	c.userID = userID
	c.deviceID = deviceID
	c.mu.Unlock()
}

// Logout invalidates the access token server-side and clears the
// local session: token, identity, sync cursor, room snapshots, and
// cached attributes.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.executor.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/_matrix/client/v3/logout",
		Body:   struct{}{},
	})
	if err != nil {
		return fmt.Errorf("mx: logout failed: %w", err)
	}
	c.clearSession()
	c.logger.Info("logged out")
	return nil
}

func (c *Client) clearSession() {
	token := c.executor.Token()
	c.executor.SetToken(nil)
	if token != nil {
		token.Close()
	}
	c.mu.Lock()
	c.userID = ref.UserID{}
	c.deviceID = ""
	c.cursor = ""
	c.rooms = make(map[ref.RoomID]*Room)
	c.mu.Unlock()
	c.cache.Clear()
}

// Close stops background sync and releases the access token's
// protected memory (zeros, unlocks, unmaps). Idempotent. The session
// state other than the token survives, so a saved cursor can still be
// read for persistence after Close.
func (c *Client) Close() error {
	c.StopListening()
	token := c.executor.Token()
	c.executor.SetToken(nil)
	if token != nil {
		return token.Close()
	}
	return nil
}

// WhoAmI validates the session and returns the server's view of the
// authenticated identity.
func (c *Client) WhoAmI(ctx context.Context) (*WhoAmIResponse, error) {
	var response WhoAmIResponse
	if err := c.requestJSON(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/_matrix/client/v3/account/whoami",
	}, &response); err != nil {
		return nil, fmt.Errorf("mx: whoami failed: %w", err)
	}
	return &response, nil
}

// Versions returns the protocol versions the homeserver supports.
// The endpoint is unauthenticated, so it also serves as a
// reachability probe before login.
func (c *Client) Versions(ctx context.Context) (*VersionsResponse, error) {
	var response VersionsResponse
	if err := c.requestJSON(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/_matrix/client/versions",
		NoAuth: true,
	}, &response); err != nil {
		return nil, fmt.Errorf("mx: versions failed: %w", err)
	}
	return &response, nil
}

// UserID returns the authenticated user id, zero before login.
func (c *Client) UserID() ref.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// DeviceID returns the session's device id, empty before login.
func (c *Client) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// AccessToken returns the access token as a heap string, empty before
// login. This creates a brief copy from the mmap-backed buffer — use
// only at boundaries that require a string, such as persisting the
// session to disk.
func (c *Client) AccessToken() string {
	token := c.executor.Token()
	if token == nil {
		return ""
	}
	return token.String()
}

// SyncPosition returns the sync cursor: the position in the server's
// event stream up to which payloads have been applied. Empty before
// the first completed round.
func (c *Client) SyncPosition() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// SetSyncPosition restores a cursor saved from a previous session.
// The next sync round resumes from it instead of performing an
// initial sync.
func (c *Client) SetSyncPosition(position string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor = position
}

// FilterIDs returns a copy of the uploaded-filter memo — content hash
// to server-assigned filter id — for session persistence.
func (c *Client) FilterIDs() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.filterIDs)
}

// SetFilterIDs restores an uploaded-filter memo saved from a previous
// session.
func (c *Client) SetFilterIDs(ids map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filterIDs = maps.Clone(ids)
	if c.filterIDs == nil {
		c.filterIDs = make(map[string]string)
	}
}

// Room returns the snapshot for a room id, creating it on first
// reference.
func (c *Client) Room(roomID ref.RoomID) (*Room, error) {
	if roomID.IsZero() {
		return nil, fmt.Errorf("mx: room lookup requires a room id")
	}
	return c.ensureRoom(roomID), nil
}

// Rooms returns the known room snapshots in unspecified order.
func (c *Client) Rooms() []*Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

func (c *Client) ensureRoom(roomID ref.RoomID) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	room, ok := c.rooms[roomID]
	if !ok {
		room = newRoom(c, roomID)
		c.rooms[roomID] = room
	}
	return room
}

// dropRoom destroys the local snapshot of a room: the Room entry and
// every cached attribute. Leave callbacks still fire with the
// payload — only the local state goes away.
func (c *Client) dropRoom(roomID ref.RoomID) {
	c.mu.Lock()
	room, ok := c.rooms[roomID]
	delete(c.rooms, roomID)
	c.mu.Unlock()
	if ok {
		room.forgetAttributes()
	}
}

// CloseIdleConnections drops idle connections in the underlying
// transport's pool, forcing the next request onto a fresh socket.
// TCP-level errors often poison pooled connections; the sync
// controller calls this between timeout retries.
func (c *Client) CloseIdleConnections() {
	if closer, ok := c.transport.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
}

// requestJSON executes one rate-limited request and decodes the
// response payload into the given value. A 2xx body that does not
// decode is an *transport.UnexpectedResponseError.
func (c *Client) requestJSON(ctx context.Context, request *transport.Request, into any) error {
	payload, err := c.executor.Do(ctx, request)
	if err != nil {
		return err
	}
	if into == nil {
		return nil
	}
	if err := payload.Decode(into); err != nil {
		return &transport.UnexpectedResponseError{
			StatusCode: http.StatusOK,
			Body:       payload.Raw(),
			Err:        err,
		}
	}
	return nil
}

// nextTransactionID generates a unique transaction ID for idempotent
// event sending. Format: "mx-<timestamp_ms>-<counter>" to ensure
// uniqueness across restarts.
func (c *Client) nextTransactionID() string {
	counter := c.transactionCounter.Add(1)
	return fmt.Sprintf("mx-%d-%d", c.clock.Now().UnixMilli(), counter)
}

// isNotFound matches the 404 subtype regardless of whether the server
// sent a decodable error body.
func isNotFound(err error) bool {
	var notFound *transport.NotFoundError
	return errors.As(err, &notFound)
}
