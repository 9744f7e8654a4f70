package server

import "net/http"

// setupRoutes registers every operation from the external interface table in
// one place, Go 1.22 method+path patterns, no router library.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /claim", s.handleClaim)
	mux.HandleFunc("DELETE /release", s.handleRelease)
	mux.HandleFunc("POST /ports/cleanup", s.handlePortsCleanup)
	mux.HandleFunc("GET /services", s.handleServicesFind)
	mux.HandleFunc("GET /services/{id}", s.handleServiceGet)
	mux.HandleFunc("PUT /services/{id}/endpoints/{env}", s.handleServiceSetEndpoint)
	mux.HandleFunc("PUT /services/{id}/status", s.handleServiceSetStatus)

	mux.HandleFunc("POST /locks/{name}", s.handleLockAcquire)
	mux.HandleFunc("GET /locks/{name}", s.handleLockCheck)
	mux.HandleFunc("PUT /locks/{name}", s.handleLockExtend)
	mux.HandleFunc("DELETE /locks/{name}", s.handleLockRelease)
	mux.HandleFunc("GET /locks", s.handleLocksList)

	mux.HandleFunc("POST /msg/{channel}", s.handlePublish)
	mux.HandleFunc("GET /msg/{channel}", s.handleGetMessages)
	mux.HandleFunc("GET /msg/{channel}/poll", s.handlePoll)
	mux.HandleFunc("GET /msg/{channel}/subscribe", s.handleSubscribeSSE)
	mux.HandleFunc("GET /msg/{channel}/ws", s.handleSubscribeWS)
	mux.HandleFunc("DELETE /msg/{channel}", s.handleClearChannel)
	mux.HandleFunc("GET /channels", s.handleListChannels)

	mux.HandleFunc("POST /inbox/{agentId}", s.handleInboxSend)
	mux.HandleFunc("GET /inbox/{agentId}", s.handleInboxList)
	mux.HandleFunc("POST /inbox/{agentId}/{msgId}/read", s.handleInboxMarkRead)

	mux.HandleFunc("POST /agents", s.handleAgentRegister)
	mux.HandleFunc("GET /agents", s.handleAgentsList)
	mux.HandleFunc("GET /agents/{id}", s.handleAgentGet)
	mux.HandleFunc("DELETE /agents/{id}", s.handleAgentUnregister)
	mux.HandleFunc("POST /agents/{id}/heartbeat", s.handleAgentHeartbeat)

	mux.HandleFunc("POST /webhooks", s.handleWebhookRegister)
	mux.HandleFunc("GET /webhooks", s.handleWebhooksList)
	mux.HandleFunc("GET /webhooks/{id}", s.handleWebhookGet)
	mux.HandleFunc("PUT /webhooks/{id}", s.handleWebhookSetActive)
	mux.HandleFunc("DELETE /webhooks/{id}", s.handleWebhookDelete)
	mux.HandleFunc("GET /webhooks/{id}/deliveries", s.handleWebhookDeliveries)
	mux.HandleFunc("POST /webhooks/{id}/test", s.handleWebhookTest)

	mux.HandleFunc("GET /resurrection", s.handleResurrectionList)
	mux.HandleFunc("GET /resurrection/pending", s.handleResurrectionPending)
	mux.HandleFunc("POST /resurrection/claim/{id}", s.handleResurrectionClaim)
	mux.HandleFunc("POST /resurrection/complete/{id}", s.handleResurrectionComplete)
	mux.HandleFunc("POST /resurrection/abandon/{id}", s.handleResurrectionAbandon)
	mux.HandleFunc("DELETE /resurrection/{id}", s.handleResurrectionDismiss)

	mux.HandleFunc("POST /sessions", s.handleSessionCreate)
	mux.HandleFunc("GET /sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("PUT /sessions/{id}", s.handleSessionEnd)
	mux.HandleFunc("POST /sessions/{id}/notes", s.handleSessionAddNote)
	mux.HandleFunc("GET /sessions/{id}/notes", s.handleSessionNotes)
	mux.HandleFunc("POST /sessions/{id}/files", s.handleSessionClaimFiles)
	mux.HandleFunc("DELETE /sessions/{id}/files", s.handleSessionReleaseFiles)
	mux.HandleFunc("POST /sessions/quicknote", s.handleQuickNote)

	mux.HandleFunc("GET /activity", s.handleActivityRecent)
	mux.HandleFunc("GET /activity/summary", s.handleActivitySummary)
}
