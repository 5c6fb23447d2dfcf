// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bureau-foundation/mx/transport"
)

const (
	// defaultSyncTimeout is the server-side long-poll wait when the
	// caller does not choose one.
	defaultSyncTimeout = 30 * time.Second

	// syncRequestMargin pads the client-side request deadline past
	// the server-side wait, so only a genuinely stalled response
	// surfaces as a timeout.
	syncRequestMargin = 10 * time.Second

	// defaultBackoffSeed is the first wait after a server error.
	// Doubles per consecutive failure up to maxBackoff; a clean
	// round resets it.
	defaultBackoffSeed = 5 * time.Second
	maxBackoff         = time.Hour

	// maxStreamErrors bounds consecutive stream failures (connect or
	// mid-stream) before the listener gives up. Server errors back
	// off instead and do not count.
	maxStreamErrors = 5

	// streamRetryDelay spaces out stream reconnects that are not
	// backing off.
	streamRetryDelay = time.Second

	// stopGracePeriod is how long StopListening waits for the
	// background unit to drain before abandoning it.
	stopGracePeriod = 5 * time.Second
)

// SyncOpts configures a single sync round.
type SyncOpts struct {
	// Filter narrows what the round returns, sent inline. When
	// FilterID is set the inline definition is not sent, but Filter
	// is still consulted for the lazy-member flag, so pass the
	// definition the id was uploaded from.
	Filter *Filter

	// FilterID references a filter registered with UploadFilter.
	FilterID string

	// Timeout is the server-side long-poll wait: the round returns
	// early when events arrive, empty after the wait otherwise.
	// Zero means the 30-second default; negative means return
	// immediately.
	Timeout time.Duration

	// TimeoutRetries is how many extra attempts a round gets when it
	// fails with *transport.TimeoutError. Zero means fail on the
	// first timeout.
	TimeoutRetries int

	// SkipCursor dispatches the round without storing its position,
	// so the next round replays from the same point.
	SkipCursor bool
}

// ListenMode selects how the background unit receives payloads.
type ListenMode int

const (
	// Poll repeats long-poll sync rounds.
	Poll ListenMode = iota
	// Stream holds one server-push event stream open and dispatches
	// each sync frame as it arrives.
	Stream
)

func (m ListenMode) String() string {
	if m == Stream {
		return "stream"
	}
	return "poll"
}

// ListenOptions configures the background sync unit.
type ListenOptions struct {
	// Mode defaults to Poll.
	Mode ListenMode

	// PollDelay inserts a pause between successful poll rounds.
	// Zero re-polls immediately (the long-poll timeout already
	// paces quiet rooms).
	PollDelay time.Duration

	// Timeout, Filter, FilterID, and TimeoutRetries carry the same
	// meaning as in SyncOpts and apply to every round.
	Timeout        time.Duration
	Filter         *Filter
	FilterID       string
	TimeoutRetries int

	// BackoffSeed is the first wait after a server error; waits
	// double per consecutive failure up to BackoffCeiling. Zero
	// means the 5s seed and 1h ceiling defaults.
	BackoffSeed    time.Duration
	BackoffCeiling time.Duration
}

// backoff returns the error-backoff seed and ceiling, applying
// defaults for unset fields.
func (o ListenOptions) backoff() (seed, ceiling time.Duration) {
	seed = o.BackoffSeed
	if seed <= 0 {
		seed = defaultBackoffSeed
	}
	ceiling = o.BackoffCeiling
	if ceiling <= 0 {
		ceiling = maxBackoff
	}
	if ceiling < seed {
		ceiling = seed
	}
	return seed, ceiling
}

// Sync performs one sync round: fetch everything since the stored
// cursor, advance the cursor, dispatch the payload to handlers. The
// first round of a session (no cursor) returns a full snapshot;
// subsequent rounds return increments.
//
// Only *transport.TimeoutError is retried, up to TimeoutRetries extra
// attempts; every other error propagates unchanged with nothing
// dispatched and the cursor untouched.
func (c *Client) Sync(ctx context.Context, opts SyncOpts) error {
	attempts := opts.TimeoutRetries + 1
	for {
		err := c.syncRound(ctx, opts)
		attempts--

		var timeout *transport.TimeoutError
		if err == nil || attempts <= 0 || !errors.As(err, &timeout) {
			return err
		}
		// A timed-out request often leaves the pooled connection
		// in an unusable state.
		c.CloseIdleConnections()
		c.logger.Warn("sync timed out, retrying",
			"error", err,
			"attempts_left", attempts,
		)
	}
}

func (c *Client) syncRound(ctx context.Context, opts SyncOpts) error {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultSyncTimeout
	} else if timeout < 0 {
		timeout = 0
	}

	query := url.Values{}
	if timeout > 0 {
		query.Set("timeout", strconv.FormatInt(timeout.Milliseconds(), 10))
	}
	if since := c.SyncPosition(); since != "" {
		query.Set("since", since)
	}

	lazyMembers := opts.Filter != nil && opts.Filter.LazyLoadMembers
	if opts.FilterID != "" {
		query.Set("filter", opts.FilterID)
	} else if opts.Filter != nil {
		inline, err := opts.Filter.InlineJSON()
		if err != nil {
			return err
		}
		query.Set("filter", inline)
	}

	request := &transport.Request{
		Method: http.MethodGet,
		Path:   "/_matrix/client/v3/sync",
		Query:  query,
	}
	if timeout > 0 {
		request.Timeout = timeout + syncRequestMargin
	}

	payload, err := c.executor.Do(ctx, request)
	if err != nil {
		return fmt.Errorf("mx: sync: %w", err)
	}

	var response SyncResponse
	if err := payload.Decode(&response); err != nil {
		return fmt.Errorf("mx: sync: %w", &transport.UnexpectedResponseError{
			StatusCode: http.StatusOK,
			Body:       payload.Raw(),
			Err:        err,
		})
	}

	// The cursor moves before dispatch: a handler that snapshots the
	// session mid-dispatch must not replay this round.
	if !opts.SkipCursor && response.NextBatch != "" {
		c.mu.Lock()
		c.cursor = response.NextBatch
		c.mu.Unlock()
	}
	c.dispatch(&response, lazyMembers)
	return nil
}

// StartListening launches the background sync unit: one goroutine
// that keeps the client's rooms, attributes, and handlers fed until
// StopListening or a terminal error. No-op when already listening.
//
// Failure policy: server errors (5xx) back off exponentially and
// never end the unit. Any other error is reported once through the
// error handlers and ends the unit; Listening reports false from
// then on, so a supervisor can decide to restart.
func (c *Client) StartListening(opts ListenOptions) {
	c.mu.Lock()
	if c.listenCancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.listenCancel = cancel
	c.listenDone = done
	c.mu.Unlock()

	c.logger.Info("sync listener starting", "mode", opts.Mode)

	go func() {
		defer cancel()
		c.listen(ctx, opts, done)
	}()
}

// StopListening cancels the background unit and waits for it to
// drain, up to a bounded grace period. Every wait inside the unit is
// context-bound, so overrunning the grace period means a handler is
// stuck; the unit is then abandoned with a warning and terminates at
// its next suspension point. Idempotent.
func (c *Client) StopListening() {
	c.mu.Lock()
	cancel := c.listenCancel
	done := c.listenDone
	c.listenCancel = nil
	c.listenDone = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-c.clock.After(stopGracePeriod):
		c.logger.Warn("sync listener did not stop in time, abandoning",
			"grace_period", stopGracePeriod,
		)
	}
}

// Listening reports whether the background sync unit is running.
func (c *Client) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listenCancel != nil
}

func (c *Client) listen(ctx context.Context, opts ListenOptions, done chan struct{}) {
	defer close(done)

	err := c.runListener(ctx, opts)
	// Listening must read false before the error reaches handlers.
	c.clearListenState(done)

	if err == nil || ctx.Err() != nil {
		c.logger.Info("sync listener stopped", "mode", opts.Mode)
		return
	}
	c.logger.Error("sync listener failed",
		"mode", opts.Mode,
		"error", err,
	)
	c.fireSyncError(SyncFailure{Err: err, Source: opts.Mode.String()})
}

// runListener runs the mode's loop, converting an escaped panic (a
// handler blowing up during dispatch) into a terminal error.
func (c *Client) runListener(ctx context.Context, opts ListenOptions) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("mx: sync listener panic: %v", recovered)
		}
	}()
	if opts.Mode == Stream {
		return c.streamLoop(ctx, opts)
	}
	return c.pollLoop(ctx, opts)
}

// clearListenState clears the listening registration if it still
// belongs to this unit. StopListening may already have claimed it.
func (c *Client) clearListenState(done chan struct{}) {
	c.mu.Lock()
	if c.listenDone == done {
		c.listenCancel = nil
		c.listenDone = nil
	}
	c.mu.Unlock()
}

func (c *Client) pollLoop(ctx context.Context, opts ListenOptions) error {
	seed, ceiling := opts.backoff()
	backoff := seed
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := c.Sync(ctx, SyncOpts{
			Filter:         opts.Filter,
			FilterID:       opts.FilterID,
			Timeout:        opts.Timeout,
			TimeoutRetries: opts.TimeoutRetries,
		})
		switch {
		case ctx.Err() != nil:
			return nil
		case err == nil:
			backoff = seed
			if opts.PollDelay > 0 {
				if c.sleep(ctx, opts.PollDelay) != nil {
					return nil
				}
			}
		case isServerError(err):
			c.logger.Warn("sync failed, backing off",
				"error", err,
				"retry_in", backoff,
			)
			if c.sleep(ctx, backoff) != nil {
				return nil
			}
			backoff = min(backoff*2, ceiling)
		default:
			return err
		}
	}
}

func (c *Client) streamLoop(ctx context.Context, opts ListenOptions) error {
	seed, ceiling := opts.backoff()
	backoff := seed
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		dispatched, err := c.runStream(ctx, opts)
		if dispatched > 0 {
			failures = 0
			backoff = seed
		}
		switch {
		case ctx.Err() != nil:
			return nil
		case err == nil:
			// Server closed the stream cleanly; reconnect.
			if c.sleep(ctx, streamRetryDelay) != nil {
				return nil
			}
		case isServerError(err):
			c.logger.Warn("sync stream failed, backing off",
				"error", err,
				"retry_in", backoff,
			)
			if c.sleep(ctx, backoff) != nil {
				return nil
			}
			backoff = min(backoff*2, ceiling)
		default:
			failures++
			if failures >= maxStreamErrors {
				return fmt.Errorf("mx: sync stream failed %d times in a row: %w", failures, err)
			}
			c.logger.Warn("sync stream error",
				"error", err,
				"consecutive_failures", failures,
			)
			if c.sleep(ctx, streamRetryDelay) != nil {
				return nil
			}
		}
	}
}

// runStream opens one event stream and dispatches its sync frames
// until the stream ends. Returns how many frames were dispatched;
// the caller uses a non-zero count as evidence the connection was
// healthy.
func (c *Client) runStream(ctx context.Context, opts ListenOptions) (int, error) {
	query := url.Values{}
	if since := c.SyncPosition(); since != "" {
		query.Set("since", since)
	}
	lazyMembers := opts.Filter != nil && opts.Filter.LazyLoadMembers
	if opts.FilterID != "" {
		query.Set("filter", opts.FilterID)
	} else if opts.Filter != nil {
		inline, err := opts.Filter.InlineJSON()
		if err != nil {
			return 0, err
		}
		query.Set("filter", inline)
	}

	stream, err := c.executor.OpenStream(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/_matrix/client/v3/sync",
		Query:  query,
	})
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	dispatched := 0
	for stream.Next() {
		frame := stream.Frame()
		if frame.Type != "sync" {
			c.logger.Debug("ignoring stream frame", "type", frame.Type)
			continue
		}
		if err := c.dispatchFrame(frame, lazyMembers); err != nil {
			return dispatched, err
		}
		dispatched++
	}
	return dispatched, stream.Err()
}

// dispatchFrame applies one stream frame exactly the way a poll round
// is applied: decode, advance cursor, dispatch.
func (c *Client) dispatchFrame(frame transport.Frame, lazyMembers bool) error {
	payload, err := transport.NewPayload([]byte(frame.Data))
	if err != nil {
		return fmt.Errorf("mx: sync frame: %w", err)
	}
	var response SyncResponse
	if err := payload.Decode(&response); err != nil {
		return fmt.Errorf("mx: sync frame: %w", err)
	}

	if response.NextBatch != "" {
		c.mu.Lock()
		c.cursor = response.NextBatch
		c.mu.Unlock()
	}
	c.dispatch(&response, lazyMembers)
	return nil
}

// sleep waits for d or until ctx is canceled, whichever comes first.
func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}

// isServerError reports whether err is a 5xx response. The server is
// assumed to recover eventually, so these back off instead of ending
// the background unit.
func isServerError(err error) bool {
	var requestErr *transport.RequestError
	return errors.As(err, &requestErr) && requestErr.StatusCode >= 500
}
