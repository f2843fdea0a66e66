// Package sse holds the line framing and payload decoding shared by the
// stream relay and the stream consumer.
//
// Both ends of the relay see the same wire grammar: newline-delimited lines,
// a subset of which carry a "data: " payload, with a blank line closing each
// record. See https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

const (
	// DataPrefix is the marker that starts a data line.
	DataPrefix = "data: "

	// DoneSentinel is the end-of-stream marker some backends send as a data
	// payload. It carries no token.
	DoneSentinel = "[DONE]"
)

// DefaultMaxLine bounds how many bytes a LineSplitter holds for one
// unterminated line when MaxLine is zero.
const DefaultMaxLine = 1 << 20

// ErrLineTooLong is returned by Feed when a partial line outgrows MaxLine.
var ErrLineTooLong = errors.New("sse: line too long")

// LineSplitter turns an arbitrarily chunked byte stream into complete lines.
// Bytes after the last newline are held until a later Feed completes the line
// or Flush is called at end of stream.
type LineSplitter struct {
	// MaxLine caps the unterminated bytes held between Feeds.
	MaxLine int

	buf []byte
}

// Feed appends p to the pending bytes and returns every line completed by it,
// in arrival order, without their line terminators. A "\r" before the "\n" is
// stripped so CRLF streams frame the same as LF streams.
//
// Only the new bytes are searched for a terminator, so a long line arriving in
// many small pieces costs time linear in its length.
func (s *LineSplitter) Feed(p []byte) ([]string, error) {
	if len(p) == 0 {
		return nil, nil
	}
	from := len(s.buf)
	s.buf = append(s.buf, p...)

	var lines []string
	start := 0
	for {
		i := bytes.IndexByte(s.buf[from:], '\n')
		if i < 0 {
			break
		}
		end := from + i
		lines = append(lines, string(bytes.TrimSuffix(s.buf[start:end], []byte{'\r'})))
		start = end + 1
		from = start
	}

	if start > 0 {
		n := copy(s.buf, s.buf[start:])
		s.buf = s.buf[:n]
	}

	limit := s.MaxLine
	if limit <= 0 {
		limit = DefaultMaxLine
	}
	if len(s.buf) > limit {
		s.buf = nil
		return lines, ErrLineTooLong
	}
	return lines, nil
}

// Flush returns the unterminated tail, if any, and resets the splitter.
// It is only meant to be called once the source is exhausted.
func (s *LineSplitter) Flush() (string, bool) {
	if len(s.buf) == 0 {
		return "", false
	}
	line := string(bytes.TrimSuffix(s.buf, []byte{'\r'}))
	s.buf = nil
	return line, true
}

// Pending reports how many bytes are buffered waiting for a newline.
func (s *LineSplitter) Pending() int {
	return len(s.buf)
}

// DataValue returns the payload of a data line. The field may be written
// "data:value" or "data: value"; a single space after the colon is removed.
func DataValue(line string) (string, bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimPrefix(line[len("data:"):], " "), true
}

// IsData reports whether line is a data field line.
func IsData(line string) bool {
	_, ok := DataValue(line)
	return ok
}

// IsComment reports whether line is an SSE comment (keep-alives, mostly).
func IsComment(line string) bool {
	return strings.HasPrefix(line, ":")
}

// IsField reports whether line is one of the non-data fields an SSE client
// understands: event, id or retry. A field name with no colon is a field with
// an empty value.
func IsField(line string) bool {
	name, _, _ := strings.Cut(line, ":")
	switch name {
	case "event", "id", "retry":
		return true
	}
	return false
}

// FormatData frames value as a single data record.
func FormatData(value string) []byte {
	return []byte(DataPrefix + value + "\n\n")
}

// ErrorPayload is the body of the synthetic record emitted when a stream
// fails after its headers have been committed.
type ErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorRecord frames message as a terminal error record:
//
//	data: {"type":"error","message":"..."}
func ErrorRecord(message string) []byte {
	b, err := json.Marshal(ErrorPayload{Type: "error", Message: message})
	if err != nil {
		// Marshalling two strings cannot fail.
		panic(err)
	}
	return FormatData(string(b))
}
