package server

import (
	"net/http"
	"strconv"

	"github.com/portdaddy/daemon/internal/apierr"
)

func (s *Server) handleResurrectionList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			limit = v
		}
	}
	list, err := s.deps.Resurrection.List(q.Get("project"), q.Get("stack"), limit)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleResurrectionPending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			limit = v
		}
	}
	list, err := s.deps.Resurrection.ListPending(q.Get("project"), q.Get("stack"), limit)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleResurrectionClaim implements resurrection/claim/:id from spec §4.5:
// it transitions the entry to resurrecting and hands the claiming agent its
// predecessor's session id, purpose, and recent notes so it can resume.
func (s *Server) handleResurrectionClaim(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")

	var req struct {
		NewAgentID string `json:"newAgentId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	entry, err := s.deps.Resurrection.Claim(agentID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	resp := map[string]interface{}{"entry": entry}
	if entry.SessionID != "" {
		if notes, err := s.deps.Sessions.Notes(entry.SessionID); err == nil {
			resp["notes"] = notes
		}
	}
	s.deps.Hub.Emit("resurrection.claim", req.NewAgentID, agentID, "resurrection claimed", nil)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResurrectionComplete(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")

	var req struct {
		NewAgentID string `json:"newAgentId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	if err := s.deps.Resurrection.Complete(agentID); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	s.deps.Hub.Emit("resurrection.complete", req.NewAgentID, agentID, "resurrection completed", nil)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleResurrectionAbandon(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if err := s.deps.Resurrection.Abandon(agentID); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleResurrectionDismiss(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if err := s.deps.Resurrection.Dismiss(agentID); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
