package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/portdaddy/daemon/internal/apierr"
)

const longPollStep = 100 * time.Millisecond

type publishRequest struct {
	Payload interface{} `json:"payload"`
	Sender  string      `json:"sender"`
	Expires int64       `json:"expires"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")

	var req publishRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.Sender == "" {
		req.Sender = callerAgentID(r)
	}

	var expiresAfter time.Duration
	if req.Expires > 0 {
		expiresAfter = time.Duration(req.Expires) * time.Millisecond
	}

	msg, err := s.deps.PubSub.Publish(channel, req.Payload, req.Sender, expiresAfter)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": msg.ID})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	q := r.URL.Query()

	limit := 100
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			limit = v
		}
	}
	var after int64
	if a := q.Get("after"); a != "" {
		if v, err := strconv.ParseInt(a, 10, 64); err == nil {
			after = v
		}
	}

	msgs, err := s.deps.PubSub.GetMessages(channel, limit, after)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handlePoll implements the long-poll building block: it repeats poll(after)
// with short sleeps until a message arrives or the requested (capped) timeout
// elapses, per spec §4.4 and §5's cancellation policy.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	q := r.URL.Query()

	var after int64
	if a := q.Get("after"); a != "" {
		if v, err := strconv.ParseInt(a, 10, 64); err == nil {
			after = v
		}
	}

	timeout := s.cfg.LongPollMaxTimeout
	if t := q.Get("timeout"); t != "" {
		if ms, err := strconv.Atoi(t); err == nil && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
			if timeout > s.cfg.LongPollMaxTimeout {
				timeout = s.cfg.LongPollMaxTimeout
			}
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	ticker := time.NewTicker(longPollStep)
	defer ticker.Stop()

	for {
		msg, err := s.deps.PubSub.Poll(channel, after)
		if err != nil {
			apierr.WriteJSON(w, err)
			return
		}
		if msg != nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{"message": msg})
			return
		}

		select {
		case <-ctx.Done():
			writeJSON(w, http.StatusOK, map[string]interface{}{"message": nil})
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleClearChannel(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	if err := s.deps.PubSub.Clear(channel); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.deps.PubSub.ListChannels()
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}
