package httpclient

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
	"github.com/rmacdonaldsmith/roomadapter-go/pkg/roomnode"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the room adapter HTTP API (e.g., "http://localhost:8080")
	ServerURL string

	// ClientID is the identifier for this client
	ClientID string

	// Timeout for HTTP requests
	Timeout time.Duration

	// BreakerFailures is the number of consecutive failures that opens the circuit breaker
	BreakerFailures uint32

	// BreakerTimeout is how long the breaker stays open before letting a probe through
	BreakerTimeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout == 0 {
		c.BreakerTimeout = 10 * time.Second
	}
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// JoinRequest represents a join request
type JoinRequest struct {
	SocketID string `json:"socketId"`
}

// MembershipResponse reports the rooms of a socket
type MembershipResponse struct {
	SocketID string   `json:"socketId"`
	Room     string   `json:"room,omitempty"`
	Rooms    []string `json:"rooms"`
}

// RoomsResponse lists rooms
type RoomsResponse struct {
	Rooms []string `json:"rooms"`
}

// ClientsResponse lists the members of a room
type ClientsResponse struct {
	Room    string   `json:"room"`
	Clients []string `json:"clients"`
}

// EmptyResponse reports an emptied room
type EmptyResponse struct {
	Room  string `json:"room"`
	Empty bool   `json:"empty"`
}

// BroadcastRequest represents a broadcast request
type BroadcastRequest struct {
	Message broadcast.Message `json:"message"`
	Rooms   []string          `json:"rooms,omitempty"`
	Except  []string          `json:"except,omitempty"`
	Method  string            `json:"method,omitempty"`
}

// AdminStatsResponse represents node statistics
type AdminStatsResponse = roomnode.Stats

// AdminClearResponse reports a cleared registry
type AdminClearResponse struct {
	Cleared bool `json:"cleared"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy           bool   `json:"healthy"`
	RegistryHealthy   bool   `json:"registryHealthy"`
	DispatcherHealthy bool   `json:"dispatcherHealthy"`
	ConnectedSockets  int    `json:"connectedSockets"`
	Rooms             int    `json:"rooms"`
	Message           string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// APIError is returned for responses with an error status
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Frame is one event received by a streaming socket.
// A "write" delivery arrives as a bare array and is reported with Event "message".
type Frame struct {
	Event string
	// Method is "write" for bare-array deliveries, "send" for message events
	// and empty otherwise
	Method  string
	Message broadcast.Message
	// Data is the raw event payload for non-message events
	Data json.RawMessage
}

type serverEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseFrame decodes a frame written by a WebSocket or SSE socket
func ParseFrame(raw []byte) (Frame, error) {
	var msg broadcast.Message
	if err := json.Unmarshal(raw, &msg); err == nil {
		return Frame{Event: "message", Method: broadcast.DefaultMethod, Message: msg}, nil
	}

	var event serverEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return Frame{}, fmt.Errorf("failed to parse frame: %w", err)
	}

	frame := Frame{Event: event.Event, Data: event.Data}
	if event.Event == "message" {
		if err := json.Unmarshal(event.Data, &frame.Message); err != nil {
			return Frame{}, fmt.Errorf("failed to parse message frame: %w", err)
		}
		frame.Method = "send"
	}
	return frame, nil
}
