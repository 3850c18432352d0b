package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stream serves a Server-Sent Events socket. Every frame is a "data:" line holding
// the same JSON a WebSocket socket would receive; comment lines keep idle
// connections open.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		id = uuid.NewString()
	}

	ctx := r.Context()
	socket := newOutbox(id, h.config.SocketQueue)
	if err := h.node.Connect(ctx, socket); err != nil {
		h.writeNodeError(w, err)
		return
	}
	defer func() {
		h.node.Disconnect(ctx, id)
		socket.Close()
	}()

	rooms := h.joinQueryRooms(ctx, id, r)

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	socket.push(ServerEvent{Event: EventConnected, Data: MembershipResponse{SocketID: id, Rooms: rooms}})

	logger := h.logger.With(zap.String("socket", id))
	logger.Debug("stream opened", zap.Strings("rooms", rooms))

	keepalive := time.NewTicker(h.config.KeepAlive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("stream closed by client")
			return

		case <-socket.Done():
			return

		case frame := <-socket.Frames():
			if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
				logger.Debug("stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()

		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
