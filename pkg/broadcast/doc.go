// Package broadcast provides interfaces for fanning a message out to room members.
//
// This package defines the core abstractions for the broadcast component:
//   - Socket: a live transport handle with a named send operation and an error channel
//   - Lookup: the socket id -> handle mapping supplied fresh on every broadcast
//   - Transformer: an optional per-socket hook, either Sync or Async
//   - Dispatcher: resolves rooms into a deduplicated delivery set and delivers
//
// Resolution happens under the membership read lock. Delivery does not hold it, so a slow
// socket never stalls concurrent joins and leaves.
//
// Errors are split in two:
//   - *ConfigurationError is returned by Broadcast before anything is delivered
//   - *SerializationError and transformer errors are reported to the affected socket
//     through Socket.Fail and the broadcast continues for everyone else
//
// Example usage:
//
//	result, err := dispatcher.Broadcast(ctx, broadcast.Message{"chat", "hello"}, broadcast.Options{
//		Rooms:  []string{"chat.general"},
//		Except: []string{senderID},
//		Transformer: broadcast.Sync(func(env *broadcast.Envelope) bool {
//			env.Data = append(env.Data, time.Now().Unix())
//			return true
//		}),
//	}, sockets)
package broadcast
