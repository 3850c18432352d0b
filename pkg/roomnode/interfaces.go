package roomnode

import (
	"context"
	"errors"
	"io"

	"github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
	"github.com/rmacdonaldsmith/roomadapter-go/pkg/membership"
)

var (
	// ErrNodeClosed is returned by every operation on a closed node
	ErrNodeClosed = errors.New("room node is closed")
	// ErrNodeNotStarted is returned by operations on a stopped node
	ErrNodeNotStarted = errors.New("room node is not started")
	// ErrSocketExists is returned when a socket id is already connected
	ErrSocketExists = errors.New("socket already connected")
	// ErrSocketNotFound is returned when disconnecting an unknown socket
	ErrSocketNotFound = errors.New("socket not connected")
	// ErrEmptySocketID is returned for an empty socket id
	ErrEmptySocketID = errors.New("socket ID cannot be empty")
	// ErrEmptyRoom is returned for an empty room name
	ErrEmptyRoom = errors.New("room cannot be empty")
)

// RoomNode hosts one membership registry, one broadcast dispatcher and the table of
// live sockets the dispatcher delivers to.
type RoomNode interface {
	io.Closer

	// Start makes the node accept operations.
	Start(ctx context.Context) error

	// Stop makes the node refuse operations. Membership and sockets are kept.
	Stop(ctx context.Context) error

	// Connect registers a live socket under socket.ID().
	Connect(ctx context.Context, socket broadcast.Socket) error

	// Disconnect removes the socket handle and leaves every room it joined.
	Disconnect(ctx context.Context, id string) error

	// Join adds id to room.
	Join(ctx context.Context, id, room string) error

	// Leave removes id from room. With wildcard delete enabled a pattern room removes
	// every matching room of id.
	Leave(ctx context.Context, id, room string) error

	// LeaveAll removes id from every room.
	LeaveAll(ctx context.Context, id string) error

	// Rooms returns the rooms of id, or every room when id is empty.
	Rooms(ctx context.Context, id string) ([]string, error)

	// Clients returns the members of room.
	Clients(ctx context.Context, room string) ([]string, error)

	// Empty removes every member of each room.
	Empty(ctx context.Context, rooms ...string) error

	// IsEmpty reports whether room has no members.
	IsEmpty(ctx context.Context, room string) (bool, error)

	// Clear drops all membership state.
	Clear(ctx context.Context) error

	// Broadcast fans msg out using the node's own socket table as the lookup.
	Broadcast(ctx context.Context, msg broadcast.Message, opts broadcast.Options) (broadcast.Result, error)

	// Socket implements broadcast.Lookup over the live socket table.
	Socket(id string) (broadcast.Socket, bool)

	// GetNodeID returns this node's identifier.
	GetNodeID() string

	// GetRegistry returns the node's membership registry.
	GetRegistry() membership.Registry

	// GetHealth returns the overall health status of this node.
	GetHealth(ctx context.Context) (HealthStatus, error)

	// Stats returns current counters.
	Stats() Stats
}

// HealthStatus represents the overall health of a room node
type HealthStatus struct {
	// Healthy indicates if the node is accepting operations
	Healthy bool `json:"healthy"`

	// RegistryHealthy indicates if the membership registry is operational
	RegistryHealthy bool `json:"registryHealthy"`

	// DispatcherHealthy indicates if the broadcast dispatcher is operational
	DispatcherHealthy bool `json:"dispatcherHealthy"`

	// ConnectedSockets is the number of live socket handles
	ConnectedSockets int `json:"connectedSockets"`

	// Rooms is the number of rooms with members
	Rooms int `json:"rooms"`

	// Message provides additional health information
	Message string `json:"message"`
}

// Stats holds node counters
type Stats struct {
	NodeID           string `json:"nodeId"`
	ConnectedSockets int    `json:"connectedSockets"`
	Rooms            int    `json:"rooms"`
	MemberSockets    int    `json:"memberSockets"`
	Patterns         int    `json:"patterns"`
	Broadcasts       int64  `json:"broadcasts"`
	Delivered        int64  `json:"delivered"`
	Failed           int64  `json:"failed"`
}
