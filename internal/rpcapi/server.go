package rpcapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
	"github.com/rmacdonaldsmith/roomadapter-go/pkg/roomnode"
)

// ErrServerStarted is returned by Start on a running server
var ErrServerStarted = errors.New("rpc server already started")

// Config holds server configuration
type Config struct {
	Addr string
	// QueueSize is the outbound buffer per Attach stream
	QueueSize int
}

// SetDefaults fills zero values
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":9090"
	}
	if c.QueueSize == 0 {
		c.QueueSize = 256
	}
}

// TokenValidator checks a bearer token taken from the "authorization" metadata
type TokenValidator func(token string) error

// Server serves the Rooms service for one room node
type Server struct {
	node     roomnode.RoomNode
	config   Config
	logger   *zap.Logger
	validate TokenValidator

	mu         sync.Mutex
	grpcServer *grpc.Server
	listener   net.Listener
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuth requires every call to carry a token accepted by validate
func WithAuth(validate TokenValidator) Option {
	return func(s *Server) {
		s.validate = validate
	}
}

// NewServer creates a gRPC server for node. Call Start or Serve to accept calls.
func NewServer(node roomnode.RoomNode, config Config, opts ...Option) *Server {
	config.SetDefaults()

	s := &Server{
		node:   node,
		config: config,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.grpcServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.unaryAuth),
		grpc.ChainStreamInterceptor(s.streamAuth),
	)
	RegisterRoomsServer(s.grpcServer, s)
	return s
}

// Start listens on the configured address and serves in the background
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return ErrServerStarted
	}
	lis, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = lis
	s.mu.Unlock()

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("rpc server failed", zap.Error(err))
		}
	}()
	s.logger.Info("rpc api listening", zap.String("addr", lis.Addr().String()))
	return nil
}

// Serve serves on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Addr returns the listening address once started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop drains in-flight calls, forcing the stop once ctx is done
func (s *Server) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpcServer.Stop()
		return ctx.Err()
	}
}

// Join implements RoomsServer
func (s *Server) Join(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, fieldSocketID)
	if err := s.node.Join(ctx, id, stringField(req, fieldRoom)); err != nil {
		return nil, toStatus(err)
	}
	return s.socketRooms(ctx, id)
}

// Leave implements RoomsServer
func (s *Server) Leave(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, fieldSocketID)
	if err := s.node.Leave(ctx, id, stringField(req, fieldRoom)); err != nil {
		return nil, toStatus(err)
	}
	return s.socketRooms(ctx, id)
}

// Rooms implements RoomsServer. An empty socketId lists every room.
func (s *Server) Rooms(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.socketRooms(ctx, stringField(req, fieldSocketID))
}

func (s *Server) socketRooms(ctx context.Context, id string) (*structpb.Struct, error) {
	rooms, err := s.node.Rooms(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return roomsReply(id, rooms), nil
}

// Broadcast implements RoomsServer
func (s *Server) Broadcast(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	msg, ok := messageField(req, fieldMessage)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "message is required")
	}

	result, err := s.node.Broadcast(ctx, msg, broadcast.Options{
		Rooms:  stringsField(req, fieldRooms),
		Except: stringsField(req, fieldExcept),
		Method: stringField(req, fieldMethod),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return resultReply(result), nil
}

// Attach implements RoomsServer. The stream is connected to the node as a socket
// until the client cancels or the node closes it.
func (s *Server) Attach(req *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()

	id := stringField(req, fieldSocketID)
	if id == "" {
		id = uuid.NewString()
	}

	socket := newStreamSocket(id, s.config.QueueSize)
	if err := s.node.Connect(ctx, socket); err != nil {
		return toStatus(err)
	}
	defer func() {
		if err := s.node.Disconnect(context.WithoutCancel(ctx), id); err != nil && !errors.Is(err, roomnode.ErrNodeClosed) {
			s.logger.Debug("disconnect failed", zap.String("socket", id), zap.Error(err))
		}
		socket.Close()
	}()

	for _, room := range stringsField(req, fieldRooms) {
		if err := s.node.Join(ctx, id, room); err != nil {
			return toStatus(err)
		}
	}

	connected, err := s.socketRooms(ctx, id)
	if err != nil {
		return err
	}
	connected.Fields[fieldEvent] = structpb.NewStringValue(EventConnected)
	if err := stream.SendMsg(connected); err != nil {
		return err
	}

	logger := s.logger.With(zap.String("socket", id))
	logger.Debug("attach stream opened")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("attach stream closed by client")
			return nil
		case <-socket.done:
			return status.Error(codes.Unavailable, "socket closed")
		case frame := <-socket.queue:
			if err := stream.SendMsg(frame); err != nil {
				return err
			}
		}
	}
}

func (s *Server) unaryAuth(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (s *Server) streamAuth(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if err := s.authorize(ss.Context()); err != nil {
		return err
	}
	return handler(srv, ss)
}

func (s *Server) authorize(ctx context.Context) error {
	if s.validate == nil {
		return nil
	}

	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization token")
	}
	token := strings.TrimPrefix(values[0], "Bearer ")
	if err := s.validate(token); err != nil {
		return status.Error(codes.Unauthenticated, "invalid token")
	}
	return nil
}

// toStatus maps node errors to gRPC status codes
func toStatus(err error) error {
	var configErr *broadcast.ConfigurationError

	switch {
	case errors.Is(err, roomnode.ErrEmptySocketID), errors.Is(err, roomnode.ErrEmptyRoom), errors.As(err, &configErr):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, roomnode.ErrSocketExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, roomnode.ErrSocketNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, roomnode.ErrNodeClosed), errors.Is(err, roomnode.ErrNodeNotStarted):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

var _ RoomsServer = (*Server)(nil)
