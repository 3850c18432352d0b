package broadcast

import (
	"encoding/json"
	"fmt"
)

// Envelope is the per-socket mutable copy of a message handed to a transformer
type Envelope struct {
	// SocketID is the recipient
	SocketID string

	// Data is a deep copy of the broadcast message
	Data Message
}

// Callback completes an Async transformer.
// A non-nil err is reported on the socket and nothing is delivered; deliver == false
// suppresses delivery.
type Callback func(err error, deliver bool)

// TransformerKind tells the two transformer forms apart
type TransformerKind int

const (
	// SyncTransformer returns its decision directly
	SyncTransformer TransformerKind = iota + 1
	// AsyncTransformer reports its decision through a Callback
	AsyncTransformer
)

func (k TransformerKind) String() string {
	switch k {
	case SyncTransformer:
		return "sync"
	case AsyncTransformer:
		return "async"
	default:
		return fmt.Sprintf("TransformerKind(%d)", int(k))
	}
}

// Transformer is a per-socket hook that may mutate or veto delivery.
// Build one with Sync or Async.
type Transformer struct {
	kind  TransformerKind
	sync  func(*Envelope) bool
	async func(*Envelope, Callback)
}

// Sync returns a transformer that mutates the envelope in place.
// Returning false suppresses delivery to that socket.
func Sync(fn func(env *Envelope) bool) *Transformer {
	return &Transformer{kind: SyncTransformer, sync: fn}
}

// Async returns a transformer that completes through cb.
// Only the first call of cb is honoured.
func Async(fn func(env *Envelope, cb Callback)) *Transformer {
	return &Transformer{kind: AsyncTransformer, async: fn}
}

// Kind reports which form t is
func (t *Transformer) Kind() TransformerKind {
	return t.kind
}

// SyncFunc returns the Sync hook, or nil
func (t *Transformer) SyncFunc() func(*Envelope) bool {
	return t.sync
}

// AsyncFunc returns the Async hook, or nil
func (t *Transformer) AsyncFunc() func(*Envelope, Callback) {
	return t.async
}

// Validate returns a *ConfigurationError when t cannot be invoked
func (t *Transformer) Validate() error {
	switch t.kind {
	case SyncTransformer:
		if t.sync == nil {
			return &ConfigurationError{Field: "Transformer", Reason: "sync transformer function is nil"}
		}
	case AsyncTransformer:
		if t.async == nil {
			return &ConfigurationError{Field: "Transformer", Reason: "async transformer function is nil"}
		}
	default:
		return &ConfigurationError{Field: "Transformer", Reason: fmt.Sprintf("unknown kind %s", t.kind)}
	}
	return nil
}

// Copy deep-copies msg through a JSON round trip.
// Values that cannot be encoded yield a *SerializationError.
func Copy(socketID string, msg Message) (Message, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, &SerializationError{SocketID: socketID, Err: err}
	}
	var out Message
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &SerializationError{SocketID: socketID, Err: err}
	}
	return out, nil
}
