package server

import (
	"net/http"
	"strconv"

	"github.com/portdaddy/daemon/internal/apierr"
	"github.com/portdaddy/daemon/internal/webhooks"
)

type webhookRegisterRequest struct {
	URL           string   `json:"url"`
	Secret        string   `json:"secret"`
	Events        []string `json:"events"`
	FilterPattern string   `json:"filterPattern"`
	Metadata      string   `json:"metadata"`
}

func (s *Server) handleWebhookRegister(w http.ResponseWriter, r *http.Request) {
	var req webhookRegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	hook, err := s.deps.Webhooks.Register(req.URL, webhooks.RegisterOptions{
		Secret:        req.Secret,
		Events:        req.Events,
		FilterPattern: req.FilterPattern,
		Metadata:      req.Metadata,
	})
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "webhook": hook})
}

func (s *Server) handleWebhooksList(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Webhooks.List()
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleWebhookGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	hook, err := s.deps.Webhooks.Get(id)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (s *Server) handleWebhookSetActive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Active bool `json:"active"`
	}
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	if err := s.deps.Webhooks.SetActive(id, req.Active); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleWebhookDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Webhooks.Delete(id); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			limit = v
		}
	}

	list, err := s.deps.Webhooks.Deliveries(id, limit)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleWebhookTest implements the supplemented manual test-fire endpoint:
// it triggers a synthetic "webhook.test" event with this webhook's id as the
// target, so a caller can exercise signing and delivery without waiting for
// a real domain event. The event goes through the normal Trigger matching:
// every active webhook whose events and filter accept it gets a delivery,
// and this webhook gets none if its events or filter exclude it.
func (s *Server) handleWebhookTest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	hook, err := s.deps.Webhooks.Get(id)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	if err := s.deps.Webhooks.Trigger("webhook.test", hook.ID, map[string]string{"webhookId": hook.ID}); err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"triggered": true})
}
