package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
)

var (
	// ErrSocketClosed is returned when delivering to a socket whose transport is gone
	ErrSocketClosed = errors.New("socket closed")
	// ErrQueueFull is returned when a socket's outbound queue is full
	ErrQueueFull = errors.New("socket outbound queue full")
)

// outbox is the buffered outbound side of a streaming socket. It implements
// broadcast.Socket; the transport drains Frames() on its own goroutine so
// delivery never blocks the dispatcher.
type outbox struct {
	id      string
	frames  chan []byte
	done    chan struct{}
	once    sync.Once
	methods broadcast.Methods
}

func newOutbox(id string, size int) *outbox {
	if size <= 0 {
		size = 1
	}
	o := &outbox{
		id:     id,
		frames: make(chan []byte, size),
		done:   make(chan struct{}),
	}

	// "write" sends the arguments as a bare JSON array, "send" wraps them in a message event
	o.methods = broadcast.Methods{
		broadcast.DefaultMethod: func(msg broadcast.Message) error {
			return o.push(msg)
		},
		"send": func(msg broadcast.Message) error {
			return o.push(ServerEvent{Event: EventMessage, Data: msg})
		},
	}
	return o
}

// ID implements broadcast.Socket
func (o *outbox) ID() string {
	return o.id
}

// Call implements broadcast.Socket
func (o *outbox) Call(method string, msg broadcast.Message) error {
	return o.methods.Call(method, msg)
}

// Fail implements broadcast.Socket by queueing an error event
func (o *outbox) Fail(err error) {
	_ = o.push(ServerEvent{Event: EventError, Data: err.Error()})
}

// Close stops the transport. It is safe to call more than once.
func (o *outbox) Close() error {
	o.once.Do(func() { close(o.done) })
	return nil
}

// Done is closed once the socket is closed
func (o *outbox) Done() <-chan struct{} {
	return o.done
}

// Frames yields encoded frames in delivery order
func (o *outbox) Frames() <-chan []byte {
	return o.frames
}

// push encodes v and queues it without blocking
func (o *outbox) push(v any) error {
	frame, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	select {
	case <-o.done:
		return ErrSocketClosed
	default:
	}

	select {
	case o.frames <- frame:
		return nil
	case <-o.done:
		return ErrSocketClosed
	default:
		return ErrQueueFull
	}
}

var _ broadcast.Socket = (*outbox)(nil)
