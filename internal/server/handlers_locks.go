package server

import (
	"net/http"
	"time"

	"github.com/portdaddy/daemon/internal/apierr"
	"github.com/portdaddy/daemon/internal/locks"
)

type lockAcquireRequest struct {
	Owner    string `json:"owner"`
	PID      int    `json:"pid"`
	TTL      int64  `json:"ttlMs"`
	Metadata string `json:"metadata"`
}

func (s *Server) handleLockAcquire(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req lockAcquireRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.PID == 0 {
		req.PID = callerPID(r)
	}
	if req.Owner == "" {
		req.Owner = callerAgentID(r)
	}

	if req.Owner != "" {
		if held, err := s.deps.Locks.List(req.Owner); err == nil {
			if ok, err := s.deps.Agents.CanAcquireLock(req.Owner, len(held)); err == nil && !ok {
				apierr.WriteJSON(w, apierr.New(apierr.ResourceLimit, "agent has reached its maxLocks cap", nil))
				return
			}
		}
	}

	lock, err := s.deps.Locks.Acquire(name, locks.AcquireOptions{
		Owner:    req.Owner,
		PID:      req.PID,
		TTL:      time.Duration(req.TTL) * time.Millisecond,
		Metadata: req.Metadata,
	})
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	s.deps.Hub.Emit("lock.acquire", callerAgentID(r), name, "lock acquired", lock)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "lock": lock})
}

func (s *Server) handleLockCheck(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	lock, err := s.deps.Locks.Check(name)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"held": lock != nil, "lock": lock})
}

type lockExtendRequest struct {
	Owner string `json:"owner"`
	TTL   int64  `json:"ttlMs"`
}

func (s *Server) handleLockExtend(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req lockExtendRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.Owner == "" {
		req.Owner = callerAgentID(r)
	}

	lock, err := s.deps.Locks.Extend(name, locks.ExtendOptions{
		Owner: req.Owner,
		TTL:   time.Duration(req.TTL) * time.Millisecond,
	})
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "lock": lock})
}

func (s *Server) handleLockRelease(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	q := r.URL.Query()

	owner := q.Get("owner")
	if owner == "" {
		owner = callerAgentID(r)
	}
	force := q.Get("force") == "true"

	released, err := s.deps.Locks.Release(name, locks.ReleaseOptions{Owner: owner, Force: force})
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if released {
		s.deps.Hub.Emit("lock.release", callerAgentID(r), name, "lock released", nil)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"released": released})
}

func (s *Server) handleLocksList(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	list, err := s.deps.Locks.List(owner)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
