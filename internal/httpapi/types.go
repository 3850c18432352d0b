package httpapi

import (
	"time"

	"github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
	"github.com/rmacdonaldsmith/roomadapter-go/pkg/roomnode"
)

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// JoinRequest asks for a socket to join the room in the path
type JoinRequest struct {
	SocketID string `json:"socketId"`
}

// MembershipResponse reports the rooms of a socket after a join or leave
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

// BroadcastResponse reports the outcome of a broadcast
type BroadcastResponse struct {
	broadcast.Result
}

// AdminStatsResponse represents system statistics
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

// Actions a WebSocket client may send
const (
	ActionJoin      = "join"
	ActionLeave     = "leave"
	ActionBroadcast = "broadcast"
)

// ClientFrame is an inbound WebSocket frame
type ClientFrame struct {
	Action  string            `json:"action"`
	Room    string            `json:"room,omitempty"`
	Rooms   []string          `json:"rooms,omitempty"`
	Except  []string          `json:"except,omitempty"`
	Method  string            `json:"method,omitempty"`
	Message broadcast.Message `json:"message,omitempty"`
}

// Events written to streaming sockets
const (
	EventMessage   = "message"
	EventError     = "error"
	EventConnected = "connected"
	EventJoined    = "joined"
	EventLeft      = "left"
	EventResult    = "result"
)

// ServerEvent is an outbound frame for the "send" method and for acknowledgements
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}
