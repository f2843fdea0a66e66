package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Mock stream payload shapes.
const (
	ModeJSON = "json" // data: {"token": "..."} with event and id lines
	ModeText = "text" // data: <plain text>, line breaks sent as spaces
)

// MockOptions configures StartMockServer.
type MockOptions struct {
	// Mode selects the payload shape of streamed records. Defaults to ModeJSON.
	Mode string

	// Delay is slept between streamed records.
	Delay time.Duration

	Logger *zap.Logger
}

// mockBackend answers the two backend routes from an in-memory set of chats.
type mockBackend struct {
	opts  MockOptions
	mu    sync.Mutex
	chats map[string]string
}

// StartMockServer starts a mock chat backend on the given address (e.g. ":0").
// POST /chat registers a prompt and returns its trace id; GET /stream/{id}
// streams "Echo: <prompt>" back one word per record, followed by [DONE].
// It returns the server instance and the actual listening address.
func StartMockServer(addr string, opts MockOptions) (*http.Server, string, error) {
	if opts.Mode == "" {
		opts.Mode = ModeJSON
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	m := &mockBackend{opts: opts, chats: make(map[string]string)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", m.handleChat)
	mux.HandleFunc("GET /stream/{traceID}", m.handleStream)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("mock backend listen: %w", err)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		opts.Logger.Info("mock backend listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("mode", opts.Mode),
		)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			opts.Logger.Error("mock backend stopped", zap.Error(err))
		}
	}()

	return server, ln.Addr().String(), nil
}

func (m *mockBackend) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	m.mu.Lock()
	m.chats[id] = req.Content
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ChatResponse{TraceID: id}); err != nil {
		m.opts.Logger.Warn("write chat response", zap.Error(err))
	}
}

func (m *mockBackend) handleStream(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	prompt, ok := m.chats[r.PathValue("traceID")]
	m.mu.Unlock()
	if !ok {
		http.Error(w, "unknown trace id", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// SplitAfter keeps the spaces, so the tokens concatenate back to the full text.
	words := strings.SplitAfter(fmt.Sprintf("Echo: %s", prompt), " ")
	for i, word := range words {
		if _, err := fmt.Fprint(w, m.record(i, word)); err != nil {
			m.opts.Logger.Debug("write stream record", zap.Error(err))
			return
		}
		flusher.Flush()

		if m.opts.Delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(m.opts.Delay):
			}
		}
	}
	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		m.opts.Logger.Debug("write stream end", zap.Error(err))
	}
}

// lineBreaks turns line breaks into spaces so a plain-text token stays on
// its data line.
var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

func (m *mockBackend) record(i int, word string) string {
	if m.opts.Mode == ModeText {
		return "data: " + lineBreaks.Replace(word) + "\n\n"
	}
	payload, _ := json.Marshal(map[string]string{"token": word})
	return fmt.Sprintf("id: %d\nevent: token\ndata: %s\n\n", i, payload)
}
