package slack

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffaiyaz23/streamrelay/internal/backend"
)

const testSecret = "shhh"

type apiCall struct {
	method   string
	text     string
	threadTS string
}

// fakeSlack records chat.postMessage and chat.update calls.
type fakeSlack struct {
	mu    sync.Mutex
	calls []apiCall
}

func (f *fakeSlack) record(c apiCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeSlack) snapshot() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

func (f *fakeSlack) has(method, text, threadTS string) bool {
	for _, c := range f.snapshot() {
		if c.method == method && c.text == text && c.threadTS == threadTS {
			return true
		}
	}
	return false
}

func newFakeSlack(t *testing.T) (*fakeSlack, string) {
	t.Helper()
	f := &fakeSlack{}
	mux := http.NewServeMux()
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.record(apiCall{method: "post", text: r.FormValue("text"), threadTS: r.FormValue("thread_ts")})
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"channel":"C1","ts":"111.222"}`)
	})
	mux.HandleFunc("/chat.update", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.record(apiCall{method: "update", text: r.FormValue("text")})
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"channel":"C1","ts":"111.222"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv.URL + "/"
}

func newMockBackend(t *testing.T) string {
	t.Helper()
	server, addr, err := backend.StartMockServer("127.0.0.1:0", backend.MockOptions{Mode: backend.ModeJSON})
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })
	return "http://" + addr
}

func newHandler(t *testing.T, apiURL, backendURL, mode string) http.HandlerFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return EventsHandler(ctx, Config{
		BotToken:      "xoxb-test",
		SigningSecret: testSecret,
		PoolSize:      2,
		StreamMode:    mode,
		Backend:       backend.NewClient(backendURL),
		APIURL:        apiURL,
		PostInterval:  time.Millisecond,
	})
}

func signedRequest(t *testing.T, secret, body string) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte("v0:" + ts + ":" + body))

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func mentionBody(text string) string {
	return fmt.Sprintf(`{
		"type": "event_callback",
		"team_id": "T1",
		"api_app_id": "A1",
		"event": {
			"type": "app_mention",
			"user": "U1",
			"text": %q,
			"ts": "100.000",
			"channel": "C1",
			"event_ts": "100.000"
		}
	}`, text)
}

func TestEventsHandlerURLVerification(t *testing.T) {
	_, apiURL := newFakeSlack(t)
	h := newHandler(t, apiURL, "http://127.0.0.1:1", StreamModeUpdate)

	body := `{"type":"url_verification","token":"tok","challenge":"challenge-token"}`
	rec := httptest.NewRecorder()
	h(rec, signedRequest(t, testSecret, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "challenge-token", rec.Body.String())
}

func TestEventsHandlerRejectsBadSignature(t *testing.T) {
	fake, apiURL := newFakeSlack(t)
	h := newHandler(t, apiURL, "http://127.0.0.1:1", StreamModeUpdate)

	rec := httptest.NewRecorder()
	h(rec, signedRequest(t, "wrong-secret", mentionBody("<@B1> hi")))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, fake.snapshot())
}

func TestAppMentionStreamsIntoPlaceholder(t *testing.T) {
	fake, apiURL := newFakeSlack(t)
	h := newHandler(t, apiURL, newMockBackend(t), StreamModeUpdate)

	rec := httptest.NewRecorder()
	h(rec, signedRequest(t, testSecret, mentionBody("<@B1> outline my essay")))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.True(t, fake.has("post", placeholderText, ""))
	require.Eventually(t, func() bool {
		return fake.has("update", "Echo: outline my essay", "")
	}, 5*time.Second, 10*time.Millisecond)

	// Updates grow monotonically.
	var prev string
	for _, c := range fake.snapshot() {
		if c.method != "update" {
			continue
		}
		assert.True(t, strings.HasPrefix(c.text, prev), "update %q does not extend %q", c.text, prev)
		prev = c.text
	}
}

func TestAppMentionThreadMode(t *testing.T) {
	fake, apiURL := newFakeSlack(t)
	h := newHandler(t, apiURL, newMockBackend(t), StreamModeThread)

	rec := httptest.NewRecorder()
	h(rec, signedRequest(t, testSecret, mentionBody("<@B1> hello there")))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return fake.has("post", "Echo: hello there", "111.222")
	}, 5*time.Second, 10*time.Millisecond)

	for _, c := range fake.snapshot() {
		assert.NotEqual(t, "update", c.method)
	}
}

func TestAppMentionBackendUnavailable(t *testing.T) {
	fake, apiURL := newFakeSlack(t)
	h := newHandler(t, apiURL, "http://127.0.0.1:1", StreamModeUpdate)

	rec := httptest.NewRecorder()
	h(rec, signedRequest(t, testSecret, mentionBody("<@B1> anyone home?")))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return fake.has("update", errorText, "")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEmptyMentionIsIgnored(t *testing.T) {
	fake, apiURL := newFakeSlack(t)
	h := newHandler(t, apiURL, "http://127.0.0.1:1", StreamModeUpdate)

	rec := httptest.NewRecorder()
	h(rec, signedRequest(t, testSecret, mentionBody("<@B1>")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, fake.snapshot())
}
