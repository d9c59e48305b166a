package ws

import (
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/MaxwellShipley/OS-zoom-app/internal/metrics"
	"github.com/MaxwellShipley/OS-zoom-app/internal/relay"
)

// maxMessageSize bounds inbound frames; command payloads are tiny.
const maxMessageSize = 8 * 1024

// Handler upgrades HTTP requests and runs the per-connection session.
type Handler struct {
	dispatcher *relay.Dispatcher
	logger     zerolog.Logger
	upgrader   websocket.Upgrader
	live       atomic.Int64
}

func NewHandler(dispatcher *relay.Dispatcher, logger zerolog.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Session clients connect from inside the meeting host's
			// embedded browser, agents from anywhere.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Live reports the number of currently open connections.
func (h *Handler) Live() int {
	return int(h.live.Load())
}

// Handle runs one websocket session. The read loop is the session's single
// exit path, so disconnect cleanup runs exactly once per connection.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	conn := newConn(sock, h.logger)
	h.live.Add(1)
	metrics.ConnectionsActive.Inc()
	h.logger.Info().Str("conn", conn.ID()).Str("remote", r.RemoteAddr).Msg("client connected")

	go conn.writePump()

	defer func() {
		conn.close()
		h.dispatcher.HandleClose(conn)
		h.live.Add(-1)
		metrics.ConnectionsActive.Dec()
		h.logger.Info().Str("conn", conn.ID()).Msg("client disconnected")
	}()

	sock.SetReadLimit(maxMessageSize)
	for {
		_, payload, err := sock.ReadMessage()
		if err != nil {
			return
		}
		h.dispatcher.HandlePacket(r.Context(), conn, payload)
	}
}
