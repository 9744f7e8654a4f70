// Package hub fans every domain event out to the activity log and the
// webhook dispatcher from one call site, so subsystems don't each need to
// know about both.
package hub

import (
	"log/slog"

	"github.com/portdaddy/daemon/internal/activity"
	"github.com/portdaddy/daemon/internal/webhooks"
)

// Hub is constructed once at daemon startup and injected into every
// subsystem that emits domain events.
type Hub struct {
	log        *activity.Log
	dispatcher *webhooks.Dispatcher
}

// New builds a Hub over an already-constructed activity log and webhook
// dispatcher. Either may be nil in tests that don't need fan-out.
func New(log *activity.Log, dispatcher *webhooks.Dispatcher) *Hub {
	return &Hub{log: log, dispatcher: dispatcher}
}

// Emit records entryType/agentID/target/detail in the activity log and
// triggers any matching webhooks with target as the glob-match subject.
// Both sinks are best-effort: failures are logged, never propagated, per
// spec's error propagation policy for fan-out.
func (h *Hub) Emit(entryType, agentID, target, detail string, data interface{}) {
	if h == nil {
		return
	}

	if h.log != nil {
		if err := h.log.Record(entryType, agentID, target, detail, ""); err != nil {
			slog.Error("hub: activity log record failed", "type", entryType, "error", err)
		}
	}

	if h.dispatcher != nil {
		if err := h.dispatcher.Trigger(entryType, target, data); err != nil {
			slog.Error("hub: webhook trigger failed", "type", entryType, "error", err)
		}
	}
}
