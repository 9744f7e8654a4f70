package resurrection

import (
	"testing"

	"github.com/portdaddy/daemon/internal/apierr"
	"github.com/portdaddy/daemon/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewStore(s.DB())
}

func TestUpsertAndListByProject(t *testing.T) {
	s := newTestStore(t)
	if err := s.Upsert(Entry{AgentID: "agent-1", Project: "proj", Stack: "api"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	entries, err := s.List("proj", "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != StatusStale {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestStaleToPendingTransition(t *testing.T) {
	s := newTestStore(t)
	if err := s.Upsert(Entry{AgentID: "agent-1", Project: "proj"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpdateStatus("agent-1", StatusPending); err != nil {
		t.Fatalf("update status: %v", err)
	}

	pending, err := s.ListPending("proj", "", 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending entry, got %d", len(pending))
	}
}

func TestClaimCompleteLifecycle(t *testing.T) {
	s := newTestStore(t)
	if err := s.Upsert(Entry{AgentID: "agent-1", SessionID: "session-abc", Purpose: "fix bug"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpdateStatus("agent-1", StatusPending); err != nil {
		t.Fatalf("update status: %v", err)
	}

	claimed, err := s.Claim("agent-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusResurrecting || claimed.SessionID != "session-abc" {
		t.Fatalf("unexpected claimed entry: %+v", claimed)
	}

	if err := s.Complete("agent-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := s.Claim("agent-1"); apierr.As(err).Code != apierr.NotFound {
		t.Fatalf("expected entry gone after complete, got %v", err)
	}
}

func TestClaimRejectsNonPending(t *testing.T) {
	s := newTestStore(t)
	if err := s.Upsert(Entry{AgentID: "agent-1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	_, err := s.Claim("agent-1")
	apiErr := apierr.As(err)
	if apiErr == nil || apiErr.Code != apierr.InvalidArgument {
		t.Fatalf("expected InvalidArgument for claiming a stale (non-pending) entry, got %v", err)
	}
}

func TestAbandonReturnsToQueue(t *testing.T) {
	s := newTestStore(t)
	if err := s.Upsert(Entry{AgentID: "agent-1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpdateStatus("agent-1", StatusPending); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if _, err := s.Claim("agent-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.Abandon("agent-1"); err != nil {
		t.Fatalf("abandon: %v", err)
	}

	pending, err := s.ListPending("", "", 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected entry back in pending queue, got %d", len(pending))
	}
}

func TestCountByProject(t *testing.T) {
	s := newTestStore(t)
	if err := s.Upsert(Entry{AgentID: "a1", Project: "proj"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(Entry{AgentID: "a2", Project: "proj"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpdateStatus("a2", StatusPending); err != nil {
		t.Fatalf("update status: %v", err)
	}

	n, err := s.CountByProject("proj")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}
