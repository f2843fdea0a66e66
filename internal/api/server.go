// Package api exposes the browser-facing routes: chat initiation, the stream
// relay and, when configured, the Slack events endpoint.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/ffaiyaz23/streamrelay/internal/backend"
	"github.com/ffaiyaz23/streamrelay/internal/relay"
)

// Options configures a Server.
type Options struct {
	Backend *backend.Client
	Logger  *zap.Logger

	// Slack serves /events when set.
	Slack http.Handler
}

// Server holds the HTTP routes.
type Server struct {
	mux      *http.ServeMux
	backend  *backend.Client
	logger   *zap.Logger
	validate *validator.Validate
	relay    *relay.Relay
}

// NewServer wires the routes. Each route is instrumented with otelhttp.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		mux:      http.NewServeMux(),
		backend:  opts.Backend,
		logger:   opts.Logger,
		validate: newValidator(),
		relay:    relay.New(opts.Backend, opts.Logger),
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("POST /api/chat", otelhttp.NewHandler(http.HandlerFunc(s.handleChat), "Chat"))
	s.mux.Handle("GET /api/stream/{traceID}", otelhttp.NewHandler(http.HandlerFunc(s.handleStream), "Stream"))
	if opts.Slack != nil {
		s.mux.Handle("POST /events", otelhttp.NewHandler(opts.Slack, "SlackEvents"))
	}

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
