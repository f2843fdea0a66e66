// Package stream consumes an SSE token stream: it issues the request, decodes
// the body into tokens, accumulates the full text and reports progress
// through a Handler.
//
// A Consumer runs at most one Session at a time. Starting a new session
// cancels the previous one, and the new session does not issue its request
// until the previous session's goroutine has exited, so callbacks from two
// sessions never interleave.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ffaiyaz23/streamrelay/internal/sse"
)

const (
	defaultReadSize = 4 << 10
	maxErrorBody    = 4 << 10
)

// Handler receives the events of one session. Every field is optional.
// Callbacks run on the session's goroutine, one at a time, in wire order.
type Handler struct {
	// OnToken is called with each token as it arrives.
	OnToken func(token string)

	// OnComplete is called once with the accumulated text when the stream
	// ends cleanly.
	OnComplete func(text string)

	// OnError is called once when the stream fails. It is not called when
	// the session is cancelled.
	OnError func(err error)
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithHTTPClient sets the client used to open streams.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Consumer) { c.client = client }
}

// WithLogger sets the consumer's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Consumer) { c.logger = logger }
}

// WithHeader adds a header sent with every stream request.
func WithHeader(key, value string) Option {
	return func(c *Consumer) { c.header.Add(key, value) }
}

// Consumer drives stream sessions, one at a time.
type Consumer struct {
	client   *http.Client
	header   http.Header
	logger   *zap.Logger
	readSize int

	mu      sync.Mutex
	current *Session
}

// NewConsumer creates a Consumer.
func NewConsumer(opts ...Option) *Consumer {
	c := &Consumer{
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		header:   make(http.Header),
		logger:   zap.NewNop(),
		readSize: defaultReadSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins streaming from endpoint and returns the new session. A nil
// payload is sent as a GET; anything else is JSON-encoded and POSTed.
//
// If a session is already active it is cancelled first and will invoke no
// further callbacks.
func (c *Consumer) Start(ctx context.Context, endpoint string, payload any, h Handler) *Session {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ctx:     sctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		handler: h,
		state:   StateStreaming,
	}

	c.mu.Lock()
	prev := c.current
	if prev != nil {
		prev.cancel()
	}
	c.current = s
	c.mu.Unlock()

	go c.run(s, prev, endpoint, payload)
	return s
}

// Stop cancels the active session, if any. It is safe to call at any time,
// including from inside a Handler callback, and never blocks.
//
// Stop does not wait for the session goroutine: a callback already running,
// or one whose cancellation check ran just before Stop, may still complete.
// No callback of the stopped session runs once its Done channel is closed.
func (c *Consumer) Stop() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s != nil {
		s.cancel()
	}
}

// Streaming reports whether a session is active and not cancelled.
func (c *Consumer) Streaming() bool {
	return c.State() == StateStreaming
}

// State is the state of the active session, or StateIdle when there is none.
// A session cancelled but not yet wound down reports StateCancelled.
func (c *Consumer) State() State {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil {
		return StateIdle
	}
	st := s.State()
	if st == StateStreaming && s.ctx.Err() != nil {
		return StateCancelled
	}
	return st
}

func (c *Consumer) run(s *Session, prev *Session, endpoint string, payload any) {
	defer c.finish(s)

	if prev != nil {
		select {
		case <-prev.done:
		case <-s.ctx.Done():
			// done closes only after every earlier session has exited.
			<-prev.done
			s.setState(StateCancelled, nil)
			return
		}
	}

	err := c.stream(s, endpoint, payload)
	s.terminate(err)
}

// finish releases the session and, if it is still the active one, returns the
// consumer to idle.
func (c *Consumer) finish(s *Session) {
	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()

	s.cancel()
	close(s.done)
}

// stream performs the request and read loop. It returns nil on a clean end of
// stream.
func (c *Consumer) stream(s *Session, endpoint string, payload any) error {
	req, err := c.newRequest(s.ctx, endpoint, payload)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	c.logger.Debug("stream opened",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
	)

	// Incomplete UTF-8 sequences are carried between reads; invalid bytes
	// become U+FFFD and a leading BOM is dropped.
	body := transform.NewReader(resp.Body, unicode.UTF8BOM.NewDecoder())

	var split sse.LineSplitter
	buf := make([]byte, c.readSize)
	for {
		if err := s.ctx.Err(); err != nil {
			return err
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			lines, serr := split.Feed(buf[:n])
			for _, line := range lines {
				if err := s.handleLine(line); err != nil {
					return err
				}
			}
			if serr != nil {
				return fmt.Errorf("reading stream: %w", serr)
			}
		}

		if errors.Is(rerr, io.EOF) {
			if tail, ok := split.Flush(); ok {
				return s.handleLine(tail)
			}
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("reading stream: %w", rerr)
		}
	}
}

func (c *Consumer) newRequest(ctx context.Context, endpoint string, payload any) (*http.Request, error) {
	method := http.MethodGet
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding payload: %w", err)
		}
		method = http.MethodPost
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("building stream request: %w", err)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
