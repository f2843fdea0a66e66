package api

import (
	"net/http"
	"strings"
)

// handleStream relays the event stream of the chat identified by the path's
// trace id.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	traceID := strings.TrimSpace(r.PathValue("traceID"))
	if traceID == "" {
		writeError(w, http.StatusBadRequest, "trace id is required")
		return
	}
	s.relay.Stream(w, r, traceID)
}
