// WebSocket alt-transport for channel subscribe, following the teacher's
// envelope-message-plus-write-mutex shape from its terminal WebSocket
// handler, generalized from PTY I/O frames to channel message frames.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/portdaddy/daemon/internal/pubsub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The daemon is a purely local, loopback/socket service with no
	// browser-facing origin to validate — every caller is trusted the same
	// way a Unix socket peer is trusted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsEnvelope struct {
	Type    string          `json:"type"`
	Message *pubsub.Message `json:"message,omitempty"`
}

// handleSubscribeWS upgrades the connection and forwards every message
// published on channel as a "message" frame until the client disconnects or
// sends a "ping", which is answered with "pong".
func (s *Server) handleSubscribeWS(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "channel", channel, "error", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeEnvelope := func(env wsEnvelope) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(env)
	}

	_ = writeEnvelope(wsEnvelope{Type: "connected"})

	sub, err := s.deps.PubSub.Subscribe(channel, func(m pubsub.Message) {
		msg := m
		if err := writeEnvelope(wsEnvelope{Type: "message", Message: &msg}); err != nil {
			slog.Warn("websocket write failed", "channel", channel, "error", err)
		}
	})
	if err != nil {
		_ = writeEnvelope(wsEnvelope{Type: "error"})
		return
	}
	defer sub.Unsubscribe()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			continue
		}
		if in.Type == "ping" {
			_ = writeEnvelope(wsEnvelope{Type: "pong"})
		}
	}
}
