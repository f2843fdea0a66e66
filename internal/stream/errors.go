package stream

import "fmt"

// StatusError is reported when the stream endpoint answers with a non-2xx
// status. No tokens are read in that case.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("stream: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("stream: unexpected status %d: %s", e.StatusCode, e.Body)
}

// EventError is reported when the stream itself carries an in-band
// {"type":"error"} record, as the relay emits when its upstream fails.
type EventError struct {
	Message string
}

func (e *EventError) Error() string {
	return "stream: error event: " + e.Message
}
