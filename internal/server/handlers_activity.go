package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/portdaddy/daemon/internal/apierr"
)

func (s *Server) handleActivityRecent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			limit = v
		}
	}

	entries, err := s.deps.Activity.GetRecent(q.Get("type"), q.Get("agentId"), limit)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleActivitySummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := int64(0), time.Now().UnixMilli()
	if v := q.Get("from"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			from = parsed
		}
	}
	if v := q.Get("to"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			to = parsed
		}
	}

	summary, err := s.deps.Activity.GetSummary(from, to)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
