package rpcapi

import (
	"errors"
	"sync"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
)

var (
	// ErrStreamClosed is returned when delivering to an Attach stream that has ended
	ErrStreamClosed = errors.New("attach stream closed")
	// ErrStreamBehind is returned when an Attach stream's queue is full
	ErrStreamBehind = errors.New("attach stream queue full")
)

// streamSocket is the socket behind an Attach stream. Deliveries are queued and
// sent by the stream's own goroutine.
type streamSocket struct {
	id     string
	queue  chan *structpb.Struct
	done   chan struct{}
	once   sync.Once
	method broadcast.Methods
}

func newStreamSocket(id string, size int) *streamSocket {
	if size <= 0 {
		size = 1
	}
	s := &streamSocket{
		id:    id,
		queue: make(chan *structpb.Struct, size),
		done:  make(chan struct{}),
	}

	deliver := func(method string) func(broadcast.Message) error {
		return func(msg broadcast.Message) error {
			data, err := messageValue(msg)
			if err != nil {
				return err
			}
			return s.push(&structpb.Struct{Fields: map[string]*structpb.Value{
				fieldEvent:  structpb.NewStringValue(EventMessage),
				fieldMethod: structpb.NewStringValue(method),
				fieldData:   data,
			}})
		}
	}
	s.method = broadcast.Methods{
		broadcast.DefaultMethod: deliver(broadcast.DefaultMethod),
		"send":                  deliver("send"),
	}
	return s
}

func (s *streamSocket) ID() string {
	return s.id
}

func (s *streamSocket) Call(method string, msg broadcast.Message) error {
	return s.method.Call(method, msg)
}

func (s *streamSocket) Fail(err error) {
	_ = s.push(&structpb.Struct{Fields: map[string]*structpb.Value{
		fieldEvent: structpb.NewStringValue(EventError),
		fieldData:  structpb.NewStringValue(err.Error()),
	}})
}

// Close ends the stream
func (s *streamSocket) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *streamSocket) push(frame *structpb.Struct) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}

	select {
	case s.queue <- frame:
		return nil
	case <-s.done:
		return ErrStreamClosed
	default:
		return ErrStreamBehind
	}
}

var _ broadcast.Socket = (*streamSocket)(nil)
