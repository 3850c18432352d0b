package broadcast

import "fmt"

// Methods is a method table for Socket implementations
type Methods map[string]func(Message) error

// Call dispatches msg to the handler registered for method
func (m Methods) Call(method string, msg Message) error {
	fn, ok := m[method]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	return fn(msg)
}
