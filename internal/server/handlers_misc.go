package server

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/portdaddy/daemon/internal/apierr"
	"github.com/portdaddy/daemon/internal/services"
)

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	ActivePorts   int    `json:"active_ports"`
	PID           int    `json:"pid"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	svcs, err := s.deps.Services.Find("*", services.FindFilters{})
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		ActivePorts:   len(svcs),
		PID:           os.Getpid(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":   version,
		"startedAt": s.startedAt.UnixMilli(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	svcs, err := s.deps.Services.Find("*", services.FindFilters{})
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	locks, err := s.deps.Locks.List("")
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	channels, err := s.deps.PubSub.ListChannels()
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	webhooks, err := s.deps.Webhooks.List()
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	agentsList, err := s.deps.Agents.List(s.cfg.AgentTTL)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"services":          len(svcs),
		"locks":             len(locks),
		"channels":          len(channels),
		"webhooks":          len(webhooks),
		"agents":            len(agentsList),
		"webhookOverflow":   s.deps.Webhooks.OverflowCount(),
		"uptimeSeconds":     strconv.FormatInt(int64(time.Since(s.startedAt).Seconds()), 10),
	})
}
