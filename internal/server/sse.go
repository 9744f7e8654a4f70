package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/portdaddy/daemon/internal/apierr"
	"github.com/portdaddy/daemon/internal/pubsub"
)

// handleSubscribeSSE implements the SSE alt-transport for channel subscribe:
// a `connected` event on open, then one `data: <json>\n\n` frame per
// published message, per spec §4.10's framing rule.
func (s *Server) handleSubscribeSSE(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")

	flusher, ok := w.(http.Flusher)
	if !ok {
		apierr.WriteJSON(w, apierr.New(apierr.Internal, "streaming unsupported", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeSSEEvent(w, "connected", "")
	flusher.Flush()

	msgCh := make(chan pubsub.Message, 16)
	sub, err := s.deps.PubSub.Subscribe(channel, func(m pubsub.Message) {
		select {
		case msgCh <- m:
		default:
			// Slow consumer: drop rather than block the broker's fan-out,
			// per spec §4.4's best-effort fan-out rule.
		}
	})
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	defer sub.Unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-msgCh:
			body, err := json.Marshal(m)
			if err != nil {
				continue
			}
			writeSSEData(w, body)
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\n", event)
	if data != "" {
		writeSSEDataLines(w, data)
	} else {
		fmt.Fprint(w, "\n")
	}
}

func writeSSEData(w http.ResponseWriter, data []byte) {
	writeSSEDataLines(w, string(data))
}

func writeSSEDataLines(w http.ResponseWriter, data string) {
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}
