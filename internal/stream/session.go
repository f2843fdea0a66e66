package stream

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ffaiyaz23/streamrelay/internal/sse"
)

// State is a session's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateErrored
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

// Session is one request/stream cycle started by Consumer.Start. It reaches
// exactly one of StateCompleted, StateErrored or StateCancelled.
type Session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	handler Handler

	mu    sync.Mutex
	text  strings.Builder
	state State
	err   error
}

// Done is closed once the session has finished, after its terminal callback.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session has finished and returns its final state.
func (s *Session) Wait() State {
	<-s.done
	return s.State()
}

// State is the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Text is the text accumulated so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// Err is the error that ended the session, if it errored.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) setState(st State, err error) {
	s.mu.Lock()
	s.state = st
	s.err = err
	s.mu.Unlock()
}

// handleLine decodes one complete line and delivers its token, if any.
func (s *Session) handleLine(line string) error {
	value, ok := sse.DataValue(line)
	if !ok {
		return nil
	}

	tok := sse.DecodeToken(value)
	switch {
	case tok.Kind == sse.KindError:
		return &EventError{Message: tok.Text}
	case !tok.HasText():
		return nil
	}

	// A token read after cancellation is discarded.
	if err := s.ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.text.WriteString(tok.Text)
	s.mu.Unlock()

	if s.handler.OnToken != nil {
		s.handler.OnToken(tok.Text)
	}
	return nil
}

// terminate moves the session to its terminal state and fires the matching
// callback. Cancellation fires nothing; a deadline on the parent context is
// reported as an error.
func (s *Session) terminate(err error) {
	if cerr := s.ctx.Err(); cerr != nil {
		if !errors.Is(cerr, context.DeadlineExceeded) {
			s.setState(StateCancelled, nil)
			return
		}
		err = cerr
	}

	if err != nil {
		s.setState(StateErrored, err)
		if s.handler.OnError != nil {
			s.handler.OnError(err)
		}
		return
	}

	s.setState(StateCompleted, nil)
	if s.handler.OnComplete != nil {
		s.handler.OnComplete(s.Text())
	}
}
