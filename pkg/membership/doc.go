// Package membership provides interfaces for the socket <-> room index.
//
// This package defines the core abstractions for the membership component:
//   - Registry: the bidirectional index between socket ids and room names
//   - View: read access to the index for the duration of a broadcast resolution
//   - Config: the wildcard and wildcard-delete switches
//
// Invariants every Registry implementation keeps:
//   - Symmetry: id is a member of room exactly when room is one of id's rooms
//   - Cleanup: a room with no members and a socket with no rooms do not exist
//   - Pattern sync: a room containing the wildcard token is a registered pattern exactly
//     while it has members (when wildcarding is enabled)
//
// All operations are total. Removing an absent member or emptying an absent room is an
// already-satisfied precondition, never an error.
//
// Example usage:
//
//	registry.Add("socket-1", "chat.*")
//	registry.Add("socket-2", "chat.general")
//
//	rooms := registry.Get("socket-1")     // ["chat.*"]
//	all := registry.Get("")               // ["chat.*", "chat.general"]
//	members := registry.Clients("chat.*") // ["socket-1"]
//
//	registry.Del("socket-1", "")          // leave every room
//	registry.IsEmpty("chat.*")            // true
package membership
