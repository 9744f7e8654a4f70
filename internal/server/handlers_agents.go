package server

import (
	"net/http"

	"github.com/portdaddy/daemon/internal/apierr"
	"github.com/portdaddy/daemon/internal/agents"
)

type agentRegisterRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PID         int    `json:"pid"`
	Type        string `json:"type"`
	Identity    string `json:"identity"`
	Purpose     string `json:"purpose"`
	WorktreeID  string `json:"worktreeId"`
	MaxServices int    `json:"maxServices"`
	MaxLocks    int    `json:"maxLocks"`
}

func (s *Server) handleAgentRegister(w http.ResponseWriter, r *http.Request) {
	var req agentRegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.PID == 0 {
		req.PID = callerPID(r)
	}

	a, err := s.deps.Agents.Register(agents.RegisterOptions{
		ID:          req.ID,
		Name:        req.Name,
		PID:         req.PID,
		Type:        req.Type,
		Identity:    req.Identity,
		Purpose:     req.Purpose,
		WorktreeID:  req.WorktreeID,
		MaxServices: req.MaxServices,
		MaxLocks:    req.MaxLocks,
	})
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	s.deps.Hub.Emit("agent.register", a.ID, a.ID, "agent registered", a)
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleAgentsList(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Agents.List(s.cfg.AgentTTL)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAgentGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := s.deps.Agents.Get(id)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleAgentUnregister(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Agents.Unregister(id); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	s.deps.Hub.Emit("agent.unregister", id, id, "agent unregistered", nil)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		PID int `json:"pid"`
	}
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.PID == 0 {
		req.PID = callerPID(r)
	}

	a, err := s.deps.Agents.Heartbeat(id, req.PID)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
