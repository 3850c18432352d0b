// Package rpcapi exposes a room node over gRPC.
//
// The service is described by a hand-written grpc.ServiceDesc whose messages are
// google.protobuf.Struct values, so no generated code is needed. Request and reply
// fields:
//
//	Join, Leave   {socketId, room}             -> {socketId, rooms}
//	Rooms         {socketId?}                  -> {rooms}
//	Broadcast     {message, rooms?, except?, method?} -> {targeted, delivered, ...}
//	Attach        {socketId?, rooms?}          -> stream of {event, method?, data}
//
// An Attach stream is a socket: it is connected to the node for as long as the
// stream is open and receives every delivery addressed to it.
package rpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "roomadapter.v1.Rooms"

// Full method names
const (
	JoinMethod      = "/" + ServiceName + "/Join"
	LeaveMethod     = "/" + ServiceName + "/Leave"
	RoomsMethod     = "/" + ServiceName + "/Rooms"
	BroadcastMethod = "/" + ServiceName + "/Broadcast"
	AttachMethod    = "/" + ServiceName + "/Attach"
)

// RoomsServer is the server API for the Rooms service
type RoomsServer interface {
	Join(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Leave(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Rooms(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Broadcast(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Attach(req *structpb.Struct, stream grpc.ServerStream) error
}

// ServiceDesc describes the Rooms service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RoomsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Join", Handler: unaryHandler(JoinMethod, RoomsServer.Join)},
		{MethodName: "Leave", Handler: unaryHandler(LeaveMethod, RoomsServer.Leave)},
		{MethodName: "Rooms", Handler: unaryHandler(RoomsMethod, RoomsServer.Rooms)},
		{MethodName: "Broadcast", Handler: unaryHandler(BroadcastMethod, RoomsServer.Broadcast)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Attach",
			Handler:       attachHandler,
			ServerStreams: true,
		},
	},
	Metadata: "roomadapter/v1/rooms.proto",
}

// RegisterRoomsServer registers srv on s
func RegisterRoomsServer(s grpc.ServiceRegistrar, srv RoomsServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryMethod func(RoomsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RoomsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RoomsServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func attachHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RoomsServer).Attach(in, stream)
}
