package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	internalnode "github.com/rmacdonaldsmith/roomadapter-go/internal/roomnode"
)

// TestServerSetup holds common test dependencies
type TestServerSetup struct {
	Node   *internalnode.Node
	Server *Server
	Auth   *JWTAuth
}

// NewTestServerSetup creates a started room node and an HTTP server in front of it
func NewTestServerSetup(t *testing.T, opts ...ServerOption) *TestServerSetup {
	t.Helper()
	return NewTestServerSetupWithConfig(t, Config{}, opts...)
}

// NewTestServerSetupWithConfig is NewTestServerSetup with a custom server config
func NewTestServerSetupWithConfig(t *testing.T, config Config, opts ...ServerOption) *TestServerSetup {
	t.Helper()

	node, err := internalnode.NewNode(internalnode.NewConfig("test-node"))
	if err != nil {
		t.Fatalf("Failed to create room node: %v", err)
	}
	if err := node.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start room node: %v", err)
	}

	if config.SecretKey == "" {
		config.SecretKey = "test-secret-key"
	}
	if config.KeepAlive == 0 {
		config.KeepAlive = 50 * time.Millisecond
	}

	server := NewServer(node, config, opts...)
	if server == nil {
		t.Fatal("Expected server to be created, got nil")
	}

	return &TestServerSetup{
		Node:   node,
		Server: server,
		Auth:   server.jwtAuth,
	}
}

// Close cleans up test resources
func (setup *TestServerSetup) Close() {
	setup.Node.Close()
}

// GenerateTestToken creates a JWT token for testing
func (setup *TestServerSetup) GenerateTestToken(t *testing.T, clientID string, isAdmin bool) string {
	t.Helper()

	token, _, err := setup.Auth.GenerateToken(clientID, isAdmin)
	if err != nil {
		t.Fatalf("Failed to generate test token: %v", err)
	}
	return token
}

// Do sends a request through the full route table and middleware chain.
// body, when non-nil, is encoded as JSON.
func (setup *TestServerSetup) Do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	setup.Server.Handler().ServeHTTP(w, req)
	return w
}

// DecodeJSON decodes a recorded response body into v
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()

	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v. Body: %s", err, w.Body.String())
	}
}

// StreamingRecorder captures streaming data for testing SSE endpoints
type StreamingRecorder struct {
	*httptest.ResponseRecorder
	Data chan string
}

// NewStreamingRecorder creates a new streaming recorder for SSE testing
func NewStreamingRecorder() *StreamingRecorder {
	return &StreamingRecorder{
		ResponseRecorder: httptest.NewRecorder(),
		Data:             make(chan string, 100), // Buffered to prevent blocking
	}
}

// Write sends each chunk to Data. It never touches the recorder body, so the
// handler goroutine and the test goroutine do not race on it.
func (r *StreamingRecorder) Write(data []byte) (int, error) {
	select {
	case r.Data <- string(data):
	default:
		// Channel full, skip
	}
	return len(data), nil
}

// Flush implements http.Flusher
func (r *StreamingRecorder) Flush() {}

// WaitFor reads chunks until one contains substr or the timeout expires
func (r *StreamingRecorder) WaitFor(t *testing.T, substr string, timeout time.Duration) string {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case chunk := <-r.Data:
			if bytes.Contains([]byte(chunk), []byte(substr)) {
				return chunk
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for %q", substr)
			return ""
		}
	}
}

// ensure the recorder can stand in for a streaming response writer
var _ http.Flusher = (*StreamingRecorder)(nil)
