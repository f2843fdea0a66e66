package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable wraps transport failures reaching the backend.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrMissingTraceID is returned when a chat was accepted but the
	// response carried no trace id to stream from.
	ErrMissingTraceID = errors.New("backend response missing trace_id")
)

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}
