// Package relay re-frames a backend event stream into a browser-facing SSE
// response.
//
//	Browser <--GET /api/stream/{traceID}-- Relay <--GET /stream/{traceID}-- Backend
//
// The response headers are committed before the backend is contacted, so every
// failure after that point is reported in-band as a single
// {"type":"error"} record rather than as an HTTP status.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ffaiyaz23/streamrelay/internal/backend"
	appotel "github.com/ffaiyaz23/streamrelay/internal/otel"
	"github.com/ffaiyaz23/streamrelay/internal/sse"
)

const defaultReadSize = 4 << 10

var (
	tracer = otel.Tracer("streamrelay/relay")
	meter  = otel.Meter("streamrelay/relay")
)

// Relay serves the body of GET /api/stream/{traceID}.
type Relay struct {
	backend  *backend.Client
	logger   *zap.Logger
	readSize int

	sessions metric.Int64Counter
	records  metric.Int64Counter
	errors   metric.Int64Counter
}

// New creates a Relay that streams from b.
func New(b *backend.Client, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		backend:  b,
		logger:   logger,
		readSize: defaultReadSize,
		sessions: counter(logger, "relay.sessions", "Streams accepted by the relay."),
		records:  counter(logger, "relay.records", "Records written to browsers."),
		errors:   counter(logger, "relay.errors", "Streams ended by an in-band error record."),
	}
}

func counter(logger *zap.Logger, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		logger.Warn("creating counter", zap.String("name", name), zap.Error(err))
		return noop.Int64Counter{}
	}
	return c
}

// Stream relays the stream for traceID to w. It opens exactly one upstream
// connection and returns when the upstream ends, fails, or the browser goes
// away. traceID must be non-empty; the route layer validates it.
func (rl *Relay) Stream(w http.ResponseWriter, r *http.Request, traceID string) {
	ctx, span := tracer.Start(r.Context(), "RelayStream",
		trace.WithAttributes(attribute.String("relay.trace_id", traceID)),
	)
	defer span.End()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &session{
		w:      w,
		rc:     http.NewResponseController(w),
		logger: appotel.LoggerWithSpan(rl.logger, span).With(zap.String("stream", traceID)),
	}
	s.flush()
	rl.sessions.Add(ctx, 1)

	err := rl.pipe(ctx, s, traceID, span)
	defer func() {
		span.SetAttributes(attribute.Int("relay.records", s.records))
		rl.records.Add(ctx, int64(s.records))
	}()

	var ue *upstreamError
	switch {
	case err == nil:
		s.logger.Debug("stream complete", zap.Int("records", s.records))
	case errors.As(err, &ue):
		span.RecordError(err)
		span.SetStatus(codes.Error, ue.reason)
		rl.errors.Add(ctx, 1)
		s.logger.Warn("upstream stream failed", zap.Error(err))
		s.fail(ue.reason)
	case ctx.Err() != nil:
		s.logger.Debug("browser disconnected", zap.Int("records", s.records))
	default:
		span.RecordError(err)
		s.logger.Debug("write to browser failed", zap.Error(err))
	}
}

// upstreamError is a failure to be reported to the browser as an error
// record. reason is the client-visible message.
type upstreamError struct {
	reason string
	err    error
}

func (e *upstreamError) Error() string {
	if e.err == nil {
		return e.reason
	}
	return e.reason + ": " + e.err.Error()
}

func (e *upstreamError) Unwrap() error { return e.err }

// pipe copies the upstream stream into s. It returns nil on a clean end of
// stream, an *upstreamError for failures on the backend side, and any other
// error when the browser can no longer be written to.
func (rl *Relay) pipe(ctx context.Context, s *session, traceID string, span trace.Span) error {
	resp, err := rl.backend.OpenStream(ctx, traceID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &upstreamError{reason: "upstream unavailable", err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("relay.upstream_status", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &upstreamError{reason: fmt.Sprintf("upstream returned status %d", resp.StatusCode)}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return &upstreamError{reason: "upstream returned no body"}
	}

	var split sse.LineSplitter
	buf := make([]byte, rl.readSize)
	received := 0
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			received += n
			lines, serr := split.Feed(buf[:n])
			for _, line := range lines {
				if err := s.writeLine(line); err != nil {
					return err
				}
			}
			if serr != nil {
				return &upstreamError{reason: "upstream line too long", err: serr}
			}
			if err := s.flush(); err != nil {
				return err
			}
		}

		if errors.Is(rerr, io.EOF) {
			if received == 0 {
				return &upstreamError{reason: "upstream returned no body"}
			}
			if tail, ok := split.Flush(); ok {
				if err := s.writeLine(tail); err != nil {
					return err
				}
			}
			if err := s.closeRecord(); err != nil {
				return err
			}
			return s.flush()
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &upstreamError{reason: "upstream read failed", err: rerr}
		}
	}
}

// session is the outbound half of one relayed stream.
type session struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	logger *zap.Logger

	// open is set while field lines have been written without the blank line
	// that terminates their record.
	open    bool
	records int
}

// writeLine frames one complete upstream line:
//   - data lines are written followed by a blank line,
//   - event, id, retry and comment lines are written as-is and attach to
//     the next record,
//   - blank lines close an open record and are otherwise dropped,
//   - anything else is dropped.
func (s *session) writeLine(line string) error {
	switch {
	case sse.IsData(line):
		s.open = false
		s.records++
		return s.write(line + "\n\n")
	case line == "":
		return s.closeRecord()
	case sse.IsField(line), sse.IsComment(line):
		s.open = true
		return s.write(line + "\n")
	default:
		s.logger.Debug("dropping non-SSE line", zap.Int("len", len(line)))
		return nil
	}
}

func (s *session) closeRecord() error {
	if !s.open {
		return nil
	}
	s.open = false
	return s.write("\n")
}

func (s *session) write(p string) error {
	_, err := io.WriteString(s.w, p)
	return err
}

func (s *session) flush() error {
	err := s.rc.Flush()
	if errors.Is(err, http.ErrNotSupported) {
		return nil
	}
	return err
}

// fail writes the terminal error record.
func (s *session) fail(reason string) {
	if err := s.closeRecord(); err != nil {
		return
	}
	if _, err := s.w.Write(sse.ErrorRecord(reason)); err != nil {
		return
	}
	s.records++
	_ = s.flush()
}
