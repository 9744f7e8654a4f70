package server

import (
	"net/http"
	"strconv"

	"github.com/portdaddy/daemon/internal/apierr"
)

type inboxSendRequest struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

func (s *Server) handleInboxSend(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentId")

	var req inboxSendRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.Sender == "" {
		req.Sender = callerAgentID(r)
	}

	msg, err := s.deps.Inbox.Send(agentID, req.Sender, req.Content, req.Type)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleInboxList(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentId")
	q := r.URL.Query()

	unreadOnly := q.Get("unread") == "true"
	limit := 100
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			limit = v
		}
	}

	msgs, err := s.deps.Inbox.List(agentID, unreadOnly, limit)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleInboxMarkRead(w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("msgId")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.InvalidArgument, "invalid message id", nil))
		return
	}
	if err := s.deps.Inbox.MarkRead(id); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
