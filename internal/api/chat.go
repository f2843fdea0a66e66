package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ffaiyaz23/streamrelay/internal/backend"
)

const maxChatBody = 1 << 20

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Content string `json:"content" validate:"required"`
	Mode    string `json:"mode,omitempty" validate:"omitempty,max=64"`
	Model   string `json:"model,omitempty" validate:"omitempty,max=128"`
	UserID  string `json:"user_id,omitempty" validate:"omitempty,max=256"`
}

// ChatResponse is returned by POST /api/chat. TraceID opens
// GET /api/stream/{traceID}.
type ChatResponse struct {
	TraceID string `json:"trace_id"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names rather than Go ones.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// handleChat starts a chat on the backend and returns its trace id.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, decodeMessage(err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	resp, err := s.backend.StartChat(r.Context(), backend.ChatRequest{
		Content: req.Content,
		Mode:    req.Mode,
		Model:   req.Model,
		UserID:  req.UserID,
	})
	if err != nil {
		status, msg := statusFor(err)
		s.logger.Error("starting chat failed", zap.Int("status", status), zap.Error(err))
		writeError(w, status, msg)
		return
	}

	s.logger.Debug("chat started", zap.String("stream", resp.TraceID))
	writeJSON(w, http.StatusOK, ChatResponse{TraceID: resp.TraceID})
}

// statusFor maps a backend error to the status and message returned to the
// caller.
func statusFor(err error) (int, string) {
	var se *backend.StatusError
	switch {
	case errors.Is(err, backend.ErrUnavailable):
		return http.StatusServiceUnavailable, "chat backend unavailable"
	case errors.As(err, &se):
		return http.StatusBadGateway, fmt.Sprintf("chat backend returned status %d", se.StatusCode)
	case errors.Is(err, backend.ErrMissingTraceID):
		return http.StatusBadGateway, "chat backend returned no trace_id"
	default:
		return http.StatusBadGateway, "chat backend error"
	}
}

func decodeMessage(err error) string {
	var te *json.UnmarshalTypeError
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &te) && te.Field != "":
		return te.Field + " must be a " + te.Type.String()
	case errors.As(err, &mbe):
		return "request body too large"
	default:
		return "invalid request body"
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " is too long"
	default:
		return fe.Field() + " is invalid"
	}
}
