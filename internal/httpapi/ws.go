package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
	"github.com/rmacdonaldsmith/roomadapter-go/pkg/roomnode"
)

// Connection parameters.
const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// Maximum frame size allowed from peer.
	maxFrameSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS layer and the bearer token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSocket is a socket backed by a WebSocket connection.
//
// Gorilla allows one concurrent writer per connection, so every frame goes
// through the outbox and is written by writePump. readPump handles client
// frames one at a time.
type wsSocket struct {
	*outbox
	conn   *websocket.Conn
	node   roomnode.RoomNode
	logger *zap.Logger

	pingPeriod time.Duration
	pongWait   time.Duration
}

func newWSSocket(id string, conn *websocket.Conn, node roomnode.RoomNode, config Config, logger *zap.Logger) *wsSocket {
	s := &wsSocket{
		outbox:     newOutbox(id, config.SocketQueue),
		conn:       conn,
		node:       node,
		logger:     logger.With(zap.String("socket", id)),
		pingPeriod: config.KeepAlive,
		pongWait:   config.KeepAlive * 2,
	}

	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})
	return s
}

// WebSocket upgrades the request and serves a socket until either side hangs up.
// The socket ID comes from ?id= or is generated; each ?room= is joined on connect.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := h.node.Socket(id); exists {
		h.writeNodeError(w, fmt.Errorf("%w: %s", roomnode.ErrSocketExists, id))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	socket := newWSSocket(id, conn, h.node, h.config, h.logger)
	if err := h.node.Connect(ctx, socket); err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	rooms := h.joinQueryRooms(ctx, id, r)
	socket.push(ServerEvent{Event: EventConnected, Data: MembershipResponse{SocketID: id, Rooms: rooms}})

	go socket.writePump()
	socket.readPump(ctx)
}

// joinQueryRooms joins every ?room= value and returns the socket's rooms
func (h *Handlers) joinQueryRooms(ctx context.Context, id string, r *http.Request) []string {
	for _, room := range r.URL.Query()["room"] {
		if err := h.node.Join(ctx, id, room); err != nil {
			h.logger.Warn("failed to join room on connect",
				zap.String("socket", id), zap.String("room", room), zap.Error(err))
		}
	}
	rooms, _ := h.node.Rooms(ctx, id)
	return nonNil(rooms)
}

// readPump reads client frames until the connection fails, then disconnects
// the socket from the node.
func (s *wsSocket) readPump(ctx context.Context) {
	defer s.cleanup(ctx)

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.Fail(fmt.Errorf("malformed frame: %w", err))
			continue
		}
		s.handleFrame(ctx, frame)
	}
}

func (s *wsSocket) handleFrame(ctx context.Context, frame ClientFrame) {
	rooms := frame.Rooms
	if frame.Room != "" {
		rooms = append(rooms, frame.Room)
	}

	switch frame.Action {
	case ActionJoin, ActionLeave:
		op, event := s.node.Join, EventJoined
		if frame.Action == ActionLeave {
			op, event = s.node.Leave, EventLeft
		}
		if len(rooms) == 0 {
			s.Fail(roomnode.ErrEmptyRoom)
			return
		}
		for _, room := range rooms {
			if err := op(ctx, s.id, room); err != nil {
				s.Fail(err)
				return
			}
		}
		current, _ := s.node.Rooms(ctx, s.id)
		s.push(ServerEvent{Event: event, Data: MembershipResponse{SocketID: s.id, Rooms: nonNil(current)}})

	case ActionBroadcast:
		if frame.Message == nil {
			s.Fail(errors.New("message is required"))
			return
		}
		// The sender never receives its own broadcast.
		except := append(frame.Except, s.id)
		result, err := s.node.Broadcast(ctx, frame.Message, broadcast.Options{
			Rooms:  rooms,
			Except: except,
			Method: frame.Method,
		})
		if err != nil {
			s.Fail(err)
			return
		}
		s.push(ServerEvent{Event: EventResult, Data: result})

	default:
		s.Fail(fmt.Errorf("unknown action %q", frame.Action))
	}
}

// writePump writes queued frames to the connection sequentially and sends
// pings to keep the connection alive.
func (s *wsSocket) writePump() {
	ticker := time.NewTicker(s.pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.Frames():
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.Close()
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}

		case <-s.Done():
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// cleanup removes the socket from the node and stops the writer
func (s *wsSocket) cleanup(ctx context.Context) {
	if err := s.node.Disconnect(ctx, s.id); err != nil && !errors.Is(err, roomnode.ErrNodeClosed) {
		s.logger.Debug("disconnect failed", zap.Error(err))
	}
	s.Close()
	s.conn.Close()
}
