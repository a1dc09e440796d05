// Package transport opens upstream agent streams.
//
// The engine consumes the stream as an opaque sequence of byte chunks; the
// transport's only job is to produce an io.ReadCloser whose reads respect
// the caller's context. The HTTP implementation posts a message and returns
// the chunked text/event-stream body. The capture replayer satisfies the
// same interface for offline streams.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/justapithecus/sluice/iox"
)

// DefaultHeaderTimeout bounds the wait for upstream response headers.
// The stream body itself has no deadline: SSE streams are long-lived.
const DefaultHeaderTimeout = 30 * time.Second

// Request is one stream request to the upstream agent.
type Request struct {
	// SessionID is the stable conversation identity, reused across turns.
	SessionID string `json:"session_id"`
	// Message is the user message for this turn.
	Message string `json:"message"`
}

// Transport opens one stream per request.
type Transport interface {
	// Open issues the request and returns the raw chunk stream. Reads on
	// the returned body must respect ctx: cancelling the context stops
	// chunk delivery.
	Open(ctx context.Context, req Request) (io.ReadCloser, error)

	// Name identifies the transport for metrics dimensions.
	Name() string
}

// StatusError is returned for non-2xx upstream responses. The status code
// lets callers distinguish retriable (5xx) from non-retriable (4xx)
// failures.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Retriable returns true for status codes worth retrying.
func (e *StatusError) Retriable() bool {
	return e.Code >= 500
}

// IsStatusError returns the status error if err carries one.
func IsStatusError(err error) (*StatusError, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr, true
	}
	return nil, false
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	// Endpoint is the upstream stream URL (required).
	Endpoint string
	// Headers are custom headers added to each request.
	Headers map[string]string
	// HeaderTimeout bounds the wait for response headers (default 30s).
	HeaderTimeout time.Duration
	// Client overrides the HTTP client (for testing). When set,
	// HeaderTimeout is ignored.
	Client *http.Client
}

// HTTP opens streams by POSTing to an agent endpoint that responds with a
// chunked text/event-stream body.
type HTTP struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTP creates an HTTP transport. Returns an error if the endpoint is
// empty.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("transport requires an endpoint")
	}
	if cfg.HeaderTimeout <= 0 {
		cfg.HeaderTimeout = DefaultHeaderTimeout
	}

	client := cfg.Client
	if client == nil {
		// No overall client timeout: the stream stays open for the
		// whole response. Only the header wait is bounded.
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: cfg.HeaderTimeout,
			},
		}
	}

	return &HTTP{config: cfg, client: client}, nil
}

// Open POSTs the request and returns the event-stream body.
// Non-2xx responses are drained, closed, and returned as a *StatusError.
func (t *HTTP) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transport: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transport: request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		iox.DrainClose(resp.Body)
		return nil, &StatusError{Code: resp.StatusCode}
	}

	return resp.Body, nil
}

// Name implements Transport.
func (t *HTTP) Name() string { return "http" }

// Verify HTTP implements Transport.
var _ Transport = (*HTTP)(nil)
