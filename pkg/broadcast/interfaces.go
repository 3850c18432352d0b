package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultMethod is the socket method invoked when Options.Method is empty
const DefaultMethod = "write"

// Message is the payload handed to a socket method: an ordered list of arguments.
type Message []any

// Socket is a live transport handle
type Socket interface {
	// ID returns the socket id used in the membership registry
	ID() string

	// Call invokes the named send operation with msg
	Call(method string, msg Message) error

	// Fail reports a delivery error on the socket's own error channel
	Fail(err error)
}

// Lookup resolves a socket id to a live handle.
// A missing id means the socket disconnected after its membership was read.
type Lookup interface {
	Socket(id string) (Socket, bool)
}

// SocketMap is a Lookup backed by a plain map
type SocketMap map[string]Socket

// Socket implements Lookup
func (m SocketMap) Socket(id string) (Socket, bool) {
	s, ok := m[id]
	return s, ok
}

// Options selects the targets of one broadcast
type Options struct {
	// Rooms lists target rooms in order. Empty means every tracked socket.
	Rooms []string

	// Except lists socket ids that never receive the message.
	Except []string

	// Method is the socket method to invoke. Defaults to DefaultMethod.
	Method string

	// Transformer is an optional per-socket hook.
	Transformer *Transformer
}

// Result counts what happened to one broadcast
type Result struct {
	// Targeted is the size of the resolved delivery set after dedup and exclusion
	Targeted int `json:"targeted"`

	// Delivered is the number of successful socket calls
	Delivered int `json:"delivered"`

	// Suppressed is the number of sockets vetoed by the transformer
	Suppressed int `json:"suppressed"`

	// Failed is the number of sockets whose delivery was reported via Fail
	Failed int `json:"failed"`

	// Missing is the number of resolved ids absent from the lookup
	Missing int `json:"missing"`
}

// Add merges o into r
func (r *Result) Add(o Result) {
	r.Targeted += o.Targeted
	r.Delivered += o.Delivered
	r.Suppressed += o.Suppressed
	r.Failed += o.Failed
	r.Missing += o.Missing
}

// Dispatcher fans a message out to the members of rooms.
// Implementations must be safe for concurrent use.
type Dispatcher interface {
	// Broadcast resolves opts against the membership registry and delivers msg to every
	// resolved socket found in lookup.
	Broadcast(ctx context.Context, msg Message, opts Options, lookup Lookup) (Result, error)
}

// Recorder observes completed broadcasts
type Recorder interface {
	ObserveBroadcast(result Result, elapsed time.Duration)
}

// DefaultAsyncTimeout bounds how long a broadcast waits for async transformer callbacks
const DefaultAsyncTimeout = 10 * time.Second

// ErrInvalidWorkers is returned when Config.Workers is negative
var ErrInvalidWorkers = errors.New("workers cannot be negative")

// ErrInvalidAsyncTimeout is returned when Config.AsyncTimeout is negative
var ErrInvalidAsyncTimeout = errors.New("async timeout cannot be negative")

// Config represents configuration for a Dispatcher
type Config struct {
	// Workers is the number of parallel deliveries. 1 delivers sequentially in resolution order.
	Workers int

	// ExceptWildcard makes entries of Options.Except that contain the wildcard token
	// match socket ids as patterns.
	ExceptWildcard bool

	// AsyncTimeout is how long a broadcast waits for async transformer callbacks.
	// Sockets whose callback has not arrived by then are failed with a TransformTimeoutError.
	AsyncTimeout time.Duration
}

// DefaultConfig returns a sequential dispatcher configuration
func DefaultConfig() Config {
	return Config{
		Workers:        1,
		ExceptWildcard: false,
		AsyncTimeout:   DefaultAsyncTimeout,
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Workers)
	}
	if c.AsyncTimeout < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAsyncTimeout, c.AsyncTimeout)
	}
	return nil
}

// SetDefaults fills in zero values
func (c *Config) SetDefaults() {
	if c.Workers == 0 {
		c.Workers = 1
	}
	if c.AsyncTimeout == 0 {
		c.AsyncTimeout = DefaultAsyncTimeout
	}
}
