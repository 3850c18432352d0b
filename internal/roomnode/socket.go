package roomnode

import (
	"sync"
	"time"

	"github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
)

// Delivery is one message received by a LocalSocket
type Delivery struct {
	Method  string
	Message broadcast.Message
}

// LocalSocket is an in-process socket.
// It understands the "write" and "send" methods, buffers every delivery for
// inspection and also offers them on a channel.
type LocalSocket struct {
	id          string
	connectedAt time.Time
	methods     broadcast.Methods

	mu         sync.Mutex
	deliveries []Delivery
	errors     []error
	closed     bool
	ch         chan Delivery
}

// NewLocalSocket creates a new in-process socket with the given ID
func NewLocalSocket(id string) *LocalSocket {
	s := &LocalSocket{
		id:          id,
		connectedAt: time.Now(),
		ch:          make(chan Delivery, 100),
	}
	s.methods = broadcast.Methods{
		"write": func(msg broadcast.Message) error { return s.record("write", msg) },
		"send":  func(msg broadcast.Message) error { return s.record("send", msg) },
	}
	return s
}

// ID returns unique identifier for this socket
func (s *LocalSocket) ID() string {
	return s.id
}

// ConnectedAt returns when this socket was created
func (s *LocalSocket) ConnectedAt() time.Time {
	return s.connectedAt
}

// Call implements broadcast.Socket
func (s *LocalSocket) Call(method string, msg broadcast.Message) error {
	return s.methods.Call(method, msg)
}

// Fail implements broadcast.Socket
func (s *LocalSocket) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, err)
}

// Close stops channel delivery
func (s *LocalSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

func (s *LocalSocket) record(method string, msg broadcast.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := Delivery{Method: method, Message: msg}
	s.deliveries = append(s.deliveries, d)

	if s.closed {
		return nil
	}
	select {
	case s.ch <- d:
	default:
		// channel full, the buffer still has it
	}
	return nil
}

// Deliveries returns a copy of every delivery received
func (s *LocalSocket) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.deliveries...)
}

// Errors returns a copy of every error reported through Fail
func (s *LocalSocket) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errors...)
}

// Channel returns the channel deliveries are offered on
func (s *LocalSocket) Channel() <-chan Delivery {
	return s.ch
}

// Verify that LocalSocket implements the Socket interface at compile time
var _ broadcast.Socket = (*LocalSocket)(nil)
