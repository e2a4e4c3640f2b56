package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
)

// RecordedRequest is one request seen by a MockServer.
type RecordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// MockServer is an httptest server routing by longest matching path prefix.
type MockServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	requests []RecordedRequest
}

// NewMockServer starts a server that answers 404 until handlers are added.
func NewMockServer(t *testing.T) *MockServer {
	t.Helper()
	m := &MockServer{handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.Close)
	return m
}

func (m *MockServer) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: body})
	keys := make([]string, 0, len(m.handlers))
	for k := range m.handlers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	var handler http.HandlerFunc
	for _, k := range keys {
		if strings.HasPrefix(r.URL.Path, k) {
			handler = m.handlers[k]
			break
		}
	}
	m.mu.Unlock()
	if handler == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	handler(w, r)
}

// Handle routes every path starting with prefix to h.
func (m *MockServer) Handle(prefix string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[prefix] = h
}

// JSON answers prefix with status and body encoded as JSON.
func (m *MockServer) JSON(prefix string, status int, body any) {
	m.Handle(prefix, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // test mock response
	})
}

// Requests returns the requests whose path starts with prefix.
func (m *MockServer) Requests(prefix string) []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RecordedRequest
	for _, r := range m.requests {
		if strings.HasPrefix(r.Path, prefix) {
			out = append(out, r)
		}
	}
	return out
}

// MockChatCompletion answers /chat/completions with one choice per entry; a
// nil entry becomes a choice whose content is null.
func (m *MockServer) MockChatCompletion(requestID string, contents ...*string) {
	choices := make([]map[string]any, 0, len(contents))
	for i, c := range contents {
		msg := map[string]any{"role": "assistant", "content": nil, "refusal": nil}
		if c != nil {
			msg["content"] = *c
		}
		choices = append(choices, map[string]any{"index": i, "finish_reason": "stop", "message": msg, "logprobs": nil})
	}
	body := map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4-0125-preview",
		"choices": choices,
		"usage":   map[string]any{"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19},
	}
	m.Handle("/chat/completions", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("x-request-id", requestID)
		_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // test mock response
	})
}

// MockMatrixError answers prefix with a Matrix-style error body.
func (m *MockServer) MockMatrixError(prefix string, status int, errcode, msg string) {
	m.JSON(prefix, status, map[string]string{"errcode": errcode, "error": msg})
}

// MockWhoami answers the whoami endpoint for userID.
func (m *MockServer) MockWhoami(userID, deviceID string) {
	m.JSON("/_matrix/client/v3/account/whoami", http.StatusOK, map[string]string{"user_id": userID, "device_id": deviceID})
}

// MockLogin answers password logins with the given session.
func (m *MockServer) MockLogin(userID, accessToken, deviceID string) {
	m.JSON("/_matrix/client/v3/login", http.StatusOK, map[string]string{"user_id": userID, "access_token": accessToken, "device_id": deviceID})
}

// JoinPath is the endpoint mautrix uses to join roomID by id.
func JoinPath(roomID string) string {
	return "/_matrix/client/v3/rooms/" + roomID + "/join"
}

// MockJoin answers joins of roomID successfully.
func (m *MockServer) MockJoin(roomID string) {
	m.JSON(JoinPath(roomID), http.StatusOK, map[string]string{"room_id": roomID})
}

// MockSend answers message sends with eventID.
func (m *MockServer) MockSend(eventID string) {
	m.JSON("/_matrix/client/v3/rooms/", http.StatusOK, map[string]string{"event_id": eventID})
}
