package server

import (
	"net/http"

	"github.com/portdaddy/daemon/internal/apierr"
)

type sessionCreateRequest struct {
	Purpose string   `json:"purpose"`
	AgentID string   `json:"agentId"`
	Files   []string `json:"files"`
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req sessionCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.AgentID == "" {
		req.AgentID = callerAgentID(r)
	}

	sess, err := s.deps.Sessions.Create(req.Purpose, req.AgentID, req.Files)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.deps.Sessions.Get(id)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type sessionEndRequest struct {
	Status      string `json:"status"`
	HandoffNote string `json:"handoffNote"`
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req sessionEndRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	sess, err := s.deps.Sessions.End(id, req.Status, req.HandoffNote)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	s.deps.Hub.Emit("session.end", sess.AgentID, sess.ID, "session "+sess.Status, nil)
	writeJSON(w, http.StatusOK, sess)
}

type addNoteRequest struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

func (s *Server) handleSessionAddNote(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req addNoteRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	note, err := s.deps.Sessions.AddNote(id, req.Content, req.Type)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleSessionNotes(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	notes, err := s.deps.Sessions.Notes(id)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

type claimFilesRequest struct {
	Paths []string `json:"paths"`
}

func (s *Server) handleSessionClaimFiles(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req claimFilesRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	result, err := s.deps.Sessions.ClaimFiles(id, req.Paths)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSessionReleaseFiles(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req claimFilesRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	n, err := s.deps.Sessions.ReleaseFiles(id, req.Paths)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"released": n})
}

type quickNoteRequest struct {
	AgentID string `json:"agentId"`
	Content string `json:"content"`
}

func (s *Server) handleQuickNote(w http.ResponseWriter, r *http.Request) {
	var req quickNoteRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.AgentID == "" {
		req.AgentID = callerAgentID(r)
	}

	note, err := s.deps.Sessions.QuickNote(req.AgentID, req.Content)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}
