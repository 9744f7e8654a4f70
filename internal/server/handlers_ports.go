package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/portdaddy/daemon/internal/apierr"
	"github.com/portdaddy/daemon/internal/services"
)

type claimRequest struct {
	ID           string `json:"id"`
	PID          int    `json:"pid"`
	Port         int    `json:"port"`
	Range        *struct {
		Min int `json:"min"`
		Max int `json:"max"`
	} `json:"range"`
	Expires   int64  `json:"expires"`
	Cmd       string `json:"cmd"`
	Cwd       string `json:"cwd"`
	Restart   string `json:"restart"`
	HealthURL string `json:"healthUrl"`
	Pair      string `json:"pair"`
	Metadata  string `json:"metadata"`
}

type claimResponse struct {
	Success  bool   `json:"success"`
	ID       string `json:"id"`
	Port     int    `json:"port"`
	Status   string `json:"status"`
	Existing bool   `json:"existing"`
	Message  string `json:"message,omitempty"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.ID == "" {
		apierr.WriteJSON(w, apierr.New(apierr.InvalidArgument, "id is required", nil))
		return
	}

	agentID := callerAgentID(r)
	opts := services.ClaimOptions{
		PreferredPort: req.Port,
		Cmd:           req.Cmd,
		Cwd:           req.Cwd,
		PID:           req.PID,
		Restart:       req.Restart,
		HealthURL:     req.HealthURL,
		Pair:          req.Pair,
		Metadata:      req.Metadata,
		AgentID:       agentID,
	}
	if req.Range != nil {
		opts.Range = services.PortRange{Min: req.Range.Min, Max: req.Range.Max}
	}
	if req.Expires > 0 {
		opts.ExpiresAfter = time.Duration(req.Expires) * time.Millisecond
	}
	if req.PID == 0 {
		opts.PID = callerPID(r)
	}

	if agentID != "" {
		if _, err := s.deps.Services.Get(req.ID); err != nil {
			// Only a brand-new claim grows the agent's service count; a
			// re-claim of an identity it already owns doesn't.
			if count, err := s.deps.Services.CountByAgent(agentID); err == nil {
				if ok, err := s.deps.Agents.CanClaimService(agentID, count); err == nil && !ok {
					apierr.WriteJSON(w, apierr.New(apierr.ResourceLimit, "agent has reached its maxServices cap", nil))
					return
				}
			}
		}
	}

	svc, err := s.deps.Services.Claim(req.ID, opts)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	s.deps.Hub.Emit("service.claim", callerAgentID(r), svc.ID, "service claimed", svc)

	writeJSON(w, http.StatusOK, claimResponse{
		Success:  true,
		ID:       svc.ID,
		Port:     svc.Port,
		Status:   svc.Status,
		Existing: svc.Existing,
	})
}

type releaseRequest struct {
	ID string `json:"id"`
}

type releaseResponse struct {
	Success  bool `json:"success"`
	Released int  `json:"released"`
	Port     int  `json:"port,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.ID == "" {
		apierr.WriteJSON(w, apierr.New(apierr.InvalidArgument, "id is required", nil))
		return
	}

	var freedPort int
	if !strings.Contains(req.ID, "*") {
		if svc, err := s.deps.Services.Get(req.ID); err == nil {
			freedPort = svc.Port
		}
	}

	n, err := s.deps.Services.Release(req.ID, services.ReleaseOptions{})
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if n > 0 {
		s.deps.Hub.Emit("service.release", callerAgentID(r), req.ID, "service released", map[string]int{"count": n})
	}

	resp := releaseResponse{Success: true, Released: n}
	if n > 0 {
		resp.Port = freedPort
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleServicesFind(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pattern := q.Get("pattern")
	if pattern == "" {
		pattern = "*"
	}
	filters := services.FindFilters{
		Status:  q.Get("status"),
		Expired: q.Get("expired") == "true",
	}
	if p := q.Get("port"); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			filters.Port = port
		}
	}
	if l := q.Get("limit"); l != "" {
		if limit, err := strconv.Atoi(l); err == nil {
			filters.Limit = limit
		}
	}

	svcs, err := s.deps.Services.Find(pattern, filters)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svcs)
}

func (s *Server) handleServiceGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	svc, err := s.deps.Services.Get(id)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

type setEndpointRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleServiceSetEndpoint(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	env := r.PathValue("env")

	var req setEndpointRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.URL == "" {
		apierr.WriteJSON(w, apierr.New(apierr.InvalidArgument, "url is required", nil))
		return
	}

	if err := s.deps.Services.SetEndpoint(id, env, req.URL); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleServiceSetStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req setStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	if req.Status == "" {
		apierr.WriteJSON(w, apierr.New(apierr.InvalidArgument, "status is required", nil))
		return
	}

	if err := s.deps.Services.SetStatus(id, req.Status); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handlePortsCleanup implements the supplemented /ports/cleanup operation: it
// scans live services whose recorded pid is no longer running (best-effort,
// via signal 0) and releases them, returning the freed identities.
func (s *Server) handlePortsCleanup(w http.ResponseWriter, r *http.Request) {
	svcs, err := s.deps.Services.Find("*", services.FindFilters{})
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	var freed []string
	for _, svc := range svcs {
		if svc.PID == 0 || processAlive(svc.PID) {
			continue
		}
		if _, err := s.deps.Services.Release(svc.ID, services.ReleaseOptions{}); err != nil {
			continue
		}
		freed = append(freed, svc.ID)
		s.deps.Hub.Emit("service.release", "", svc.ID, "port cleanup: owning process gone", nil)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"freed": freed})
}
