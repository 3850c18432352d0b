package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
	"github.com/rmacdonaldsmith/roomadapter-go/pkg/roomnode"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// adminClientID is the client ID that receives the admin claim at login
const adminClientID = "admin"

// Handlers contains HTTP request handlers
type Handlers struct {
	node    roomnode.RoomNode
	jwtAuth *JWTAuth
	config  Config
	logger  *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(node roomnode.RoomNode, jwtAuth *JWTAuth, config Config, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		node:    node,
		jwtAuth: jwtAuth,
		config:  config,
		logger:  logger,
	}
}

// Login handles client authentication
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "clientId is required")
		return
	}

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, req.ClientID == adminClientID)
	if err != nil {
		h.logger.Error("failed to generate token", zap.String("client", req.ClientID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		ExpiresAt: expiresAt,
	})
}

// ListRooms returns every room
func (h *Handlers) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.node.Rooms(r.Context(), "")
	if err != nil {
		h.writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RoomsResponse{Rooms: nonNil(rooms)})
}

// ListClients returns the members of a room
func (h *Handlers) ListClients(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	clients, err := h.node.Clients(r.Context(), room)
	if err != nil {
		h.writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClientsResponse{Room: room, Clients: nonNil(clients)})
}

// JoinRoom adds a socket to a room
func (h *Handlers) JoinRoom(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")

	var req JoinRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.node.Join(r.Context(), req.SocketID, room); err != nil {
		h.writeNodeError(w, err)
		return
	}
	h.writeMembership(w, r, req.SocketID, room)
}

// LeaveRoom removes a socket from a room
func (h *Handlers) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	room, id := r.PathValue("room"), r.PathValue("id")
	if err := h.node.Leave(r.Context(), id, room); err != nil {
		h.writeNodeError(w, err)
		return
	}
	h.writeMembership(w, r, id, room)
}

// EmptyRoom removes every member of a room
func (h *Handlers) EmptyRoom(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if err := h.node.Empty(r.Context(), room); err != nil {
		h.writeNodeError(w, err)
		return
	}
	empty, err := h.node.IsEmpty(r.Context(), room)
	if err != nil {
		h.writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EmptyResponse{Room: room, Empty: empty})
}

// SocketRooms returns the rooms of a socket
func (h *Handlers) SocketRooms(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.writeMembership(w, r, id, "")
}

// LeaveAll removes a socket from every room
func (h *Handlers) LeaveAll(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.node.LeaveAll(r.Context(), id); err != nil {
		h.writeNodeError(w, err)
		return
	}
	h.writeMembership(w, r, id, "")
}

// Broadcast fans a message out to the sockets connected to this node
func (h *Handlers) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Message == nil {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := h.node.Broadcast(r.Context(), req.Message, broadcast.Options{
		Rooms:  req.Rooms,
		Except: req.Except,
		Method: req.Method,
	})
	if err != nil {
		h.writeNodeError(w, err)
		return
	}

	h.logger.Debug("broadcast",
		zap.String("client", GetClientID(r)),
		zap.Strings("rooms", req.Rooms),
		zap.Int("delivered", result.Delivered))
	writeJSON(w, http.StatusOK, BroadcastResponse{Result: result})
}

// AdminGetStats returns node counters
func (h *Handlers) AdminGetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, AdminStatsResponse(h.node.Stats()))
}

// AdminClear drops all membership state
func (h *Handlers) AdminClear(w http.ResponseWriter, r *http.Request) {
	if err := h.node.Clear(r.Context()); err != nil {
		h.writeNodeError(w, err)
		return
	}
	fields := []zap.Field{zap.String("client", GetClientID(r))}
	if claims := GetClaims(r); claims != nil && claims.IssuedAt != nil {
		fields = append(fields, zap.Time("token_issued_at", claims.IssuedAt.Time))
	}
	h.logger.Info("membership cleared by admin", fields...)
	writeJSON(w, http.StatusOK, AdminClearResponse{Cleared: true})
}

// Health handles health check requests
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health, err := h.node.GetHealth(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get health status")
		return
	}

	response := HealthResponse{
		Healthy:           health.Healthy,
		RegistryHealthy:   health.RegistryHealthy,
		DispatcherHealthy: health.DispatcherHealthy,
		ConnectedSockets:  health.ConnectedSockets,
		Rooms:             health.Rooms,
		Message:           health.Message,
	}

	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}

// Helper methods

func (h *Handlers) writeMembership(w http.ResponseWriter, r *http.Request, id, room string) {
	rooms, err := h.node.Rooms(r.Context(), id)
	if err != nil {
		h.writeNodeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MembershipResponse{SocketID: id, Room: room, Rooms: nonNil(rooms)})
}

// writeNodeError maps node errors to status codes
func (h *Handlers) writeNodeError(w http.ResponseWriter, err error) {
	var configErr *broadcast.ConfigurationError

	switch {
	case errors.Is(err, roomnode.ErrEmptySocketID), errors.Is(err, roomnode.ErrEmptyRoom):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &configErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, roomnode.ErrSocketExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, roomnode.ErrSocketNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, roomnode.ErrNodeClosed), errors.Is(err, roomnode.ErrNodeNotStarted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON requires a JSON content type and decodes a bounded body into v
func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return errors.New("content-type must be application/json")
	}

	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
