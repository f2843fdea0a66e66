// Package backend talks to the chat backend: it starts chats and opens the
// event stream for a trace id. It also ships a mock backend for local runs
// and tests.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultURL is the backend address used when none is configured.
	DefaultURL = "http://localhost:8000"

	chatTimeout  = 30 * time.Second
	maxErrorBody = 4 << 10
)

// Client calls the chat backend.
type Client struct {
	BaseURL string

	// HTTPClient carries no overall timeout: stream bodies stay open for as
	// long as the backend keeps producing events.
	HTTPClient *http.Client
}

// NewClient creates a backend client pointing at baseURL (e.g. http://localhost:8000).
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// StartChat posts req to the backend and returns the trace id of the stream
// that will carry the reply.
//
// Transport failures wrap ErrUnavailable, non-2xx answers are *StatusError,
// and a success without a trace id is ErrMissingTraceID.
func (c *Client) StartChat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("encoding chat request: %w", err)
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("building chat request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "application/json")

	hresp, err := c.HTTPClient.Do(r)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer hresp.Body.Close()

	if hresp.StatusCode < 200 || hresp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(hresp.Body, maxErrorBody))
		return ChatResponse{}, &StatusError{StatusCode: hresp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var resp ChatResponse
	if err := json.NewDecoder(hresp.Body).Decode(&resp); err != nil {
		return ChatResponse{}, fmt.Errorf("%w: decoding response: %v", ErrMissingTraceID, err)
	}
	if resp.TraceID == "" {
		return ChatResponse{}, ErrMissingTraceID
	}
	return resp, nil
}

// OpenStream opens the event stream for traceID. The caller owns the
// returned body and must close it; the status code is not checked here.
// Cancelling ctx aborts the request and any read in progress.
func (c *Client) OpenStream(ctx context.Context, traceID string) (*http.Response, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, c.StreamURL(traceID), nil)
	if err != nil {
		return nil, fmt.Errorf("building stream request: %w", err)
	}
	r.Header.Set("Accept", "text/event-stream")
	r.Header.Set("Cache-Control", "no-cache, no-transform")

	hresp, err := c.HTTPClient.Do(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return hresp, nil
}

// StreamURL is the backend URL of the event stream for traceID.
func (c *Client) StreamURL(traceID string) string {
	return c.BaseURL + "/stream/" + url.PathEscape(traceID)
}
