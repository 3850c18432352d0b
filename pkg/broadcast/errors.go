package broadcast

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownMethod is returned by Methods.Call for a method with no handler
var ErrUnknownMethod = errors.New("unknown socket method")

// SerializationError reports that a message could not be copied for one socket.
// It is delivered through Socket.Fail; other sockets still receive the broadcast.
type SerializationError struct {
	SocketID string
	Err      error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("cannot copy message for socket %s: %v", e.SocketID, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// ConfigurationError is a programming error in the arguments of Broadcast.
// It is returned before any socket is contacted.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid broadcast %s: %s", e.Field, e.Reason)
}

// TransformTimeoutError reports that an async transformer never completed for one socket.
// Only that socket misses the broadcast.
type TransformTimeoutError struct {
	SocketID string
	Timeout  time.Duration
}

func (e *TransformTimeoutError) Error() string {
	return fmt.Sprintf("transformer for socket %s did not complete within %v", e.SocketID, e.Timeout)
}
