// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/mx/lib/clock"
	"github.com/bureau-foundation/mx/lib/secret"
)

const (
	// defaultRetryAfter is the wait applied to a 429 response that
	// carries no retry_after_ms field.
	defaultRetryAfter = 5000 * time.Millisecond

	// defaultMaxRateLimitAttempts is the request ceiling for one
	// logical call: after this many consecutive 429s the Executor
	// stops retrying and reports ServerBusyError.
	defaultMaxRateLimitAttempts = 10
)

// ExecutorConfig holds configuration for creating an Executor.
type ExecutorConfig struct {
	// Transport executes the requests. Required.
	Transport Transport
	// Clock is used for retry waits. If nil, clock.Real() is used.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
	// DisableAutoRetry turns off rate-limit retry: 429 responses are
	// returned to the caller immediately as TooManyRequestsError.
	DisableAutoRetry bool
	// DefaultRetryAfter overrides the wait for 429 responses without
	// a retry_after_ms field. Zero means 5s.
	DefaultRetryAfter time.Duration
	// MaxRateLimitAttempts overrides the request ceiling per call.
	// Zero means 10.
	MaxRateLimitAttempts int
}

// Executor runs requests through a Transport with credential
// injection and rate-limit handling. One Executor serves one logged-in
// session; the access token it holds is applied to every request that
// does not opt out with NoAuth.
//
// Rate limiting: when the homeserver answers 429, the Executor sleeps
// for the server-provided retry_after_ms (or a default when absent)
// and retries the same request. Attempt state is per-call — it is
// discarded as soon as the call resolves either way. After the attempt
// ceiling every further wait is pointless, so the call fails with
// ServerBusyError wrapping the final 429 without sending another
// request.
//
// Requests with a RawBody are never auto-retried: the body reader was
// consumed by the first attempt.
type Executor struct {
	transport  Transport
	clock      clock.Clock
	logger     *slog.Logger
	autoRetry  bool
	retryAfter time.Duration
	maxAttempt int

	mu    sync.Mutex
	token *secret.Buffer
}

// NewExecutor creates an Executor around the given transport.
func NewExecutor(config ExecutorConfig) (*Executor, error) {
	if config.Transport == nil {
		return nil, fmt.Errorf("transport: ExecutorConfig.Transport is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retryAfter := config.DefaultRetryAfter
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}
	maxAttempt := config.MaxRateLimitAttempts
	if maxAttempt <= 0 {
		maxAttempt = defaultMaxRateLimitAttempts
	}
	return &Executor{
		transport:  config.Transport,
		clock:      clk,
		logger:     logger,
		autoRetry:  !config.DisableAutoRetry,
		retryAfter: retryAfter,
		maxAttempt: maxAttempt,
	}, nil
}

// SetToken installs the access token applied to subsequent requests.
// The Executor does not take ownership: closing the buffer remains the
// caller's responsibility (and invalidates the Executor's use of it).
func (e *Executor) SetToken(token *secret.Buffer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.token = token
}

// Token returns the currently installed access token, or nil.
func (e *Executor) Token() *secret.Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token
}

// Do executes one request with credential injection and rate-limit
// retry. All errors surface in this package's taxonomy unchanged,
// except 429 runs that exhaust the attempt ceiling, which collapse
// into ServerBusyError.
func (e *Executor) Do(ctx context.Context, request *Request) (Payload, error) {
	e.prepare(request)

	for attempt := 1; ; attempt++ {
		payload, err := e.transport.RoundTrip(ctx, request)
		if err == nil {
			return payload, nil
		}
		retryErr := e.retryRateLimit(ctx, err, request, attempt)
		if retryErr != nil {
			return Payload{}, retryErr
		}
	}
}

// OpenStream opens an event stream with the same credential injection
// and rate-limit policy as Do.
func (e *Executor) OpenStream(ctx context.Context, request *Request) (*Stream, error) {
	e.prepare(request)

	for attempt := 1; ; attempt++ {
		stream, err := e.transport.OpenStream(ctx, request)
		if err == nil {
			return stream, nil
		}
		retryErr := e.retryRateLimit(ctx, err, request, attempt)
		if retryErr != nil {
			return nil, retryErr
		}
	}
}

// prepare injects the session token unless the request opts out.
func (e *Executor) prepare(request *Request) {
	if !request.NoAuth && request.AccessToken == nil {
		request.AccessToken = e.Token()
	}
}

// retryRateLimit inspects a failed attempt. A nil return means the
// failure was a retryable 429 and the rate-limit wait has elapsed;
// the caller should reissue the request. Any non-nil return is the
// final error for the call.
func (e *Executor) retryRateLimit(ctx context.Context, err error, request *Request, attempt int) error {
	var rateLimited *TooManyRequestsError
	if !e.autoRetry || request.RawBody != nil || !errors.As(err, &rateLimited) {
		return err
	}
	if attempt >= e.maxAttempt {
		return &ServerBusyError{Attempts: attempt, Last: rateLimited}
	}

	delay := rateLimited.RetryAfter
	if delay <= 0 {
		delay = e.retryAfter
	}
	e.logger.Warn("rate limited, waiting to retry",
		"method", request.Method,
		"path", request.Path,
		"delay", delay,
		"attempt", attempt,
	)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.clock.After(delay):
		return nil
	}
}
