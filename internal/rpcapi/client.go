package rpcapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
)

// Client is a typed client for the Rooms service
type Client struct {
	conn  *grpc.ClientConn
	owned bool
	token string
}

// Dial connects to addr without transport security unless opts say otherwise
func Dial(addr, token string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create rpc client for %s: %w", addr, err)
	}
	return &Client{conn: conn, owned: true, token: token}, nil
}

// NewClient wraps an existing connection. Close leaves conn open.
func NewClient(conn *grpc.ClientConn, token string) *Client {
	return &Client{conn: conn, token: token}
}

// Close closes the connection if the client created it
func (c *Client) Close() error {
	if !c.owned {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	reply := new(structpb.Struct)
	if err := c.conn.Invoke(c.outgoing(ctx), method, req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func membershipRequest(id, room string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldSocketID: structpb.NewStringValue(id),
		fieldRoom:     structpb.NewStringValue(room),
	}}
}

// Join adds id to room and returns the rooms of id
func (c *Client) Join(ctx context.Context, id, room string) ([]string, error) {
	reply, err := c.invoke(ctx, JoinMethod, membershipRequest(id, room))
	if err != nil {
		return nil, err
	}
	return stringsField(reply, fieldRooms), nil
}

// Leave removes id from room and returns the rooms of id
func (c *Client) Leave(ctx context.Context, id, room string) ([]string, error) {
	reply, err := c.invoke(ctx, LeaveMethod, membershipRequest(id, room))
	if err != nil {
		return nil, err
	}
	return stringsField(reply, fieldRooms), nil
}

// Rooms returns the rooms of id, or every room when id is empty
func (c *Client) Rooms(ctx context.Context, id string) ([]string, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if id != "" {
		req.Fields[fieldSocketID] = structpb.NewStringValue(id)
	}
	reply, err := c.invoke(ctx, RoomsMethod, req)
	if err != nil {
		return nil, err
	}
	return stringsField(reply, fieldRooms), nil
}

// Broadcast fans msg out on the server's node
func (c *Client) Broadcast(ctx context.Context, msg broadcast.Message, opts broadcast.Options) (broadcast.Result, error) {
	data, err := messageValue(msg)
	if err != nil {
		return broadcast.Result{}, err
	}

	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldMessage: data,
		fieldRooms:   stringList(opts.Rooms),
		fieldExcept:  stringList(opts.Except),
		fieldMethod:  structpb.NewStringValue(opts.Method),
	}}
	reply, err := c.invoke(ctx, BroadcastMethod, req)
	if err != nil {
		return broadcast.Result{}, err
	}
	return resultFromReply(reply), nil
}

// Frame is one event received on an Attach stream
type Frame struct {
	Event    string
	SocketID string
	Rooms    []string
	Method   string
	Message  broadcast.Message
	Error    string
}

// Attachment is an open Attach stream
type Attachment struct {
	stream grpc.ClientStream
	// SocketID is the socket ID the server connected, generated when none was asked for
	SocketID string
	// Rooms are the rooms joined when the stream opened
	Rooms []string
}

// Attach connects a socket over a server stream. The first frame is consumed so the
// socket is connected and joined to rooms when Attach returns. Cancel ctx to detach.
func (c *Client) Attach(ctx context.Context, id string, rooms ...string) (*Attachment, error) {
	stream, err := c.conn.NewStream(c.outgoing(ctx), &ServiceDesc.Streams[0], AttachMethod)
	if err != nil {
		return nil, err
	}

	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldSocketID: structpb.NewStringValue(id),
		fieldRooms:    stringList(rooms),
	}}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	a := &Attachment{stream: stream}
	first, err := a.Recv()
	if err != nil {
		return nil, err
	}
	if first.Event != EventConnected {
		return nil, fmt.Errorf("unexpected first frame %q", first.Event)
	}
	a.SocketID = first.SocketID
	a.Rooms = first.Rooms
	return a, nil
}

// Recv blocks for the next frame
func (a *Attachment) Recv() (Frame, error) {
	reply := new(structpb.Struct)
	if err := a.stream.RecvMsg(reply); err != nil {
		return Frame{}, err
	}

	frame := Frame{
		Event:    stringField(reply, fieldEvent),
		SocketID: stringField(reply, fieldSocketID),
		Rooms:    stringsField(reply, fieldRooms),
		Method:   stringField(reply, fieldMethod),
	}
	switch frame.Event {
	case EventMessage:
		frame.Message, _ = messageField(reply, fieldData)
	case EventError:
		frame.Error = stringField(reply, fieldData)
	}
	return frame, nil
}
