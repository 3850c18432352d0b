// Package roomnode provides interfaces for the node that hosts room membership.
//
// This package defines the core abstractions for the room node component:
//   - RoomNode: orchestrates the membership registry, the broadcast dispatcher and
//     the live socket table
//   - HealthStatus: health monitoring and status reporting
//   - Stats: counters exposed to the admin API and metrics
//
// Front ends (HTTP, WebSocket, SSE, gRPC) translate their connections into
// broadcast.Socket values, Connect them to the node, and call Join, Leave and
// Broadcast on their behalf. The node is the broadcast.Lookup for its own broadcasts,
// so a socket that disconnected after its membership was read is skipped.
//
// Example usage:
//
//	node, err := roomnode.NewNode(roomnode.NewConfig("node-1"))
//	if err != nil {
//		return err
//	}
//	defer node.Close()
//
//	if err := node.Start(ctx); err != nil {
//		return err
//	}
//
//	socket := roomnode.NewLocalSocket("socket-1")
//	_ = node.Connect(ctx, socket)
//	_ = node.Join(ctx, "socket-1", "chat.*")
//
//	result, err := node.Broadcast(ctx, broadcast.Message{"hello"}, broadcast.Options{
//		Rooms: []string{"chat.general"},
//	})
package roomnode
