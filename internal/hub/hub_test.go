package hub

import (
	"testing"

	"github.com/portdaddy/daemon/internal/activity"
	"github.com/portdaddy/daemon/internal/store"
)

func TestEmitRecordsToActivityLog(t *testing.T) {
	s, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	log := activity.NewLog(s.DB())
	h := New(log, nil)

	h.Emit("service.claim", "agent-1", "myapp:api", "claimed", nil)

	entries, err := log.GetRecent("", "", 10)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Target != "myapp:api" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestEmitOnNilHubIsNoop(t *testing.T) {
	var h *Hub
	h.Emit("service.claim", "", "", "", nil)
}
