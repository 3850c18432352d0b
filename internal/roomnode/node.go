package roomnode

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/roomadapter-go/internal/broadcast"
	"github.com/rmacdonaldsmith/roomadapter-go/internal/membership"
	"github.com/rmacdonaldsmith/roomadapter-go/internal/metrics"
	broadcastpkg "github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
	membershippkg "github.com/rmacdonaldsmith/roomadapter-go/pkg/membership"
	"github.com/rmacdonaldsmith/roomadapter-go/pkg/roomnode"
)

// Node implements the roomnode.RoomNode interface.
// It owns one membership registry, one dispatcher and the live socket table.
//
// Two locks: mu guards lifecycle state, socketsMu guards the socket table. The
// dispatcher looks sockets up while mu is not held.
type Node struct {
	mu     sync.RWMutex
	config *Config
	logger *zap.Logger

	registry   *membership.InMemoryRegistry
	dispatcher *broadcast.Dispatcher
	collector  *metrics.Collector

	// State management
	started bool
	closed  bool

	socketsMu sync.RWMutex
	sockets   map[string]broadcastpkg.Socket

	broadcasts atomic.Int64
	delivered  atomic.Int64
	failed     atomic.Int64
}

// Option configures a Node
type Option func(*Node)

// WithLogger sets the node logger
func WithLogger(logger *zap.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithCollector wires Prometheus metrics into the node and its dispatcher
func WithCollector(collector *metrics.Collector) Option {
	return func(n *Node) {
		n.collector = collector
	}
}

// NewNode creates a new room node with the given configuration.
// Call Start() to begin operation.
func NewNode(config *Config, opts ...Option) (*Node, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	n := &Node{
		config:   config,
		logger:   zap.NewNop(),
		registry: membership.NewInMemoryRegistry(config.Membership),
		sockets:  make(map[string]broadcastpkg.Socket),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With(zap.String("node", config.NodeID))

	dispatcher, err := broadcast.NewDispatcher(n.registry, config.Dispatch,
		broadcast.WithLogger(n.logger.Named("broadcast")),
		broadcast.WithRecorder(n))
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	n.dispatcher = dispatcher

	return n, nil
}

// Start makes the node accept operations
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return roomnode.ErrNodeClosed
	}
	if n.started {
		return nil // Already started, idempotent
	}

	n.started = true
	n.logger.Info("room node started",
		zap.Bool("wildcard", n.config.Membership.Wildcard),
		zap.Bool("wildcardDelete", n.config.Membership.WildcardDelete),
		zap.Int("workers", n.config.Dispatch.Workers))
	return nil
}

// Stop makes the node refuse operations
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.started {
		return nil // Not started, idempotent
	}

	n.started = false
	n.logger.Info("room node stopped")
	return nil
}

// Close stops the node, closes every socket that can be closed and drops all membership.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil // Already closed, idempotent
	}
	n.started = false
	n.closed = true
	n.mu.Unlock()

	n.socketsMu.Lock()
	sockets := n.sockets
	n.sockets = make(map[string]broadcastpkg.Socket)
	n.socketsMu.Unlock()

	for id, socket := range sockets {
		if closer, ok := socket.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				n.logger.Warn("failed to close socket", zap.String("socket", id), zap.Error(err))
			}
		}
		if n.collector != nil {
			n.collector.SocketDisconnected()
		}
	}
	n.registry.Clear()

	n.logger.Info("room node closed", zap.Int("sockets", len(sockets)))
	return nil
}

// checkRunning returns ErrNodeClosed or ErrNodeNotStarted when the node refuses operations
func (n *Node) checkRunning() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.runningLocked()
}

// runningLocked is checkRunning for callers holding mu
func (n *Node) runningLocked() error {
	if n.closed {
		return roomnode.ErrNodeClosed
	}
	if !n.started {
		return roomnode.ErrNodeNotStarted
	}
	return nil
}

// Connect registers a live socket under socket.ID()
func (n *Node) Connect(ctx context.Context, socket broadcastpkg.Socket) error {
	if socket == nil {
		return fmt.Errorf("socket cannot be nil")
	}

	id := socket.ID()
	if id == "" {
		return roomnode.ErrEmptySocketID
	}

	// mu is held across the insert so Close cannot swap the table in between
	n.mu.RLock()
	defer n.mu.RUnlock()
	if err := n.runningLocked(); err != nil {
		return err
	}

	n.socketsMu.Lock()
	if _, exists := n.sockets[id]; exists {
		n.socketsMu.Unlock()
		return fmt.Errorf("%w: %s", roomnode.ErrSocketExists, id)
	}
	n.sockets[id] = socket
	n.socketsMu.Unlock()

	if n.collector != nil {
		n.collector.SocketConnected()
	}
	n.logger.Debug("socket connected", zap.String("socket", id))
	return nil
}

// Disconnect removes the socket handle and leaves every room it joined.
// Membership is removed even when no handle was connected.
func (n *Node) Disconnect(ctx context.Context, id string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	if id == "" {
		return roomnode.ErrEmptySocketID
	}

	n.socketsMu.Lock()
	_, exists := n.sockets[id]
	delete(n.sockets, id)
	n.socketsMu.Unlock()

	n.registry.Del(id, "")

	if !exists {
		return fmt.Errorf("%w: %s", roomnode.ErrSocketNotFound, id)
	}
	if n.collector != nil {
		n.collector.SocketDisconnected()
	}
	n.logger.Debug("socket disconnected", zap.String("socket", id))
	return nil
}

// Socket implements broadcast.Lookup
func (n *Node) Socket(id string) (broadcastpkg.Socket, bool) {
	n.socketsMu.RLock()
	defer n.socketsMu.RUnlock()

	socket, ok := n.sockets[id]
	return socket, ok
}

// Join adds id to room
func (n *Node) Join(ctx context.Context, id, room string) error {
	if err := n.checkMembershipArgs(id, room); err != nil {
		return err
	}
	n.registry.Add(id, room)
	n.logger.Debug("socket joined room", zap.String("socket", id), zap.String("room", room))
	return nil
}

// Leave removes id from room
func (n *Node) Leave(ctx context.Context, id, room string) error {
	if err := n.checkMembershipArgs(id, room); err != nil {
		return err
	}
	n.registry.Del(id, room)
	n.logger.Debug("socket left room", zap.String("socket", id), zap.String("room", room))
	return nil
}

func (n *Node) checkMembershipArgs(id, room string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	if id == "" {
		return roomnode.ErrEmptySocketID
	}
	if room == "" {
		return roomnode.ErrEmptyRoom
	}
	return nil
}

// LeaveAll removes id from every room
func (n *Node) LeaveAll(ctx context.Context, id string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	if id == "" {
		return roomnode.ErrEmptySocketID
	}
	n.registry.Del(id, "")
	return nil
}

// Rooms returns the rooms of id, or every room when id is empty
func (n *Node) Rooms(ctx context.Context, id string) ([]string, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.registry.Get(id), nil
}

// Clients returns the members of room
func (n *Node) Clients(ctx context.Context, room string) ([]string, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	if room == "" {
		return nil, roomnode.ErrEmptyRoom
	}
	return n.registry.Clients(room), nil
}

// Empty removes every member of each room
func (n *Node) Empty(ctx context.Context, rooms ...string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	n.registry.Empty(rooms...)
	return nil
}

// IsEmpty reports whether room has no members
func (n *Node) IsEmpty(ctx context.Context, room string) (bool, error) {
	if err := n.checkRunning(); err != nil {
		return false, err
	}
	return n.registry.IsEmpty(room), nil
}

// Clear drops all membership state. Connected sockets stay connected.
func (n *Node) Clear(ctx context.Context) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	n.registry.Clear()
	n.logger.Info("membership cleared")
	return nil
}

// Broadcast fans msg out, using the node's socket table as the lookup
func (n *Node) Broadcast(ctx context.Context, msg broadcastpkg.Message, opts broadcastpkg.Options) (broadcastpkg.Result, error) {
	if err := n.checkRunning(); err != nil {
		return broadcastpkg.Result{}, err
	}
	return n.dispatcher.Broadcast(ctx, msg, opts, n)
}

// ObserveBroadcast implements broadcast.Recorder for the node's own dispatcher
func (n *Node) ObserveBroadcast(result broadcastpkg.Result, elapsed time.Duration) {
	n.broadcasts.Add(1)
	n.delivered.Add(int64(result.Delivered))
	n.failed.Add(int64(result.Failed))
	if n.collector != nil {
		n.collector.ObserveBroadcast(result, elapsed)
	}
}

// GetNodeID returns this node's identifier
func (n *Node) GetNodeID() string {
	return n.config.NodeID
}

// GetConfig returns the node configuration
func (n *Node) GetConfig() *Config {
	return n.config
}

// GetRegistry returns the node's membership registry
func (n *Node) GetRegistry() membershippkg.Registry {
	return n.registry
}

// GetHealth returns the overall health status of this node
func (n *Node) GetHealth(ctx context.Context) (roomnode.HealthStatus, error) {
	n.mu.RLock()
	started, closed := n.started, n.closed
	n.mu.RUnlock()

	stats := n.registry.Stats()
	n.socketsMu.RLock()
	connected := len(n.sockets)
	n.socketsMu.RUnlock()

	healthy := started && !closed
	message := "ok"
	switch {
	case closed:
		message = "node is closed"
	case !started:
		message = "node is not started"
	}

	return roomnode.HealthStatus{
		Healthy:           healthy,
		RegistryHealthy:   !closed,
		DispatcherHealthy: !closed,
		ConnectedSockets:  connected,
		Rooms:             stats.Rooms,
		Message:           message,
	}, nil
}

// Stats returns current counters
func (n *Node) Stats() roomnode.Stats {
	stats := n.registry.Stats()

	n.socketsMu.RLock()
	connected := len(n.sockets)
	n.socketsMu.RUnlock()

	return roomnode.Stats{
		NodeID:           n.config.NodeID,
		ConnectedSockets: connected,
		Rooms:            stats.Rooms,
		MemberSockets:    stats.Sockets,
		Patterns:         stats.Patterns,
		Broadcasts:       n.broadcasts.Load(),
		Delivered:        n.delivered.Load(),
		Failed:           n.failed.Load(),
	}
}

// Verify that Node implements the RoomNode interface at compile time
var _ roomnode.RoomNode = (*Node)(nil)
var _ broadcastpkg.Lookup = (*Node)(nil)
