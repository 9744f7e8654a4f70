package agents

import (
	"testing"
	"time"

	"github.com/portdaddy/daemon/internal/apierr"
	"github.com/portdaddy/daemon/internal/store"
)

type fakeCounter struct{ n int }

func (f fakeCounter) CountByProject(string) (int, error) { return f.n, nil }

func newTestManager(t *testing.T, counter ResurrectionCounter) *Manager {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewManager(s.DB(), counter)
}

func TestRegisterParsesIdentityAndSetsSalvageHint(t *testing.T) {
	m := newTestManager(t, fakeCounter{n: 3})

	a, err := m.Register(RegisterOptions{ID: "agent-1", Identity: "proj:api:main"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if a.Project != "proj" || a.Stack != "api" || a.Context != "main" {
		t.Errorf("identity not parsed: %+v", a)
	}
	if a.SalvageHint != 3 {
		t.Errorf("salvageHint = %d, want 3", a.SalvageHint)
	}
	if a.MaxServices != defaultMaxServices || a.MaxLocks != defaultMaxLocks {
		t.Errorf("unexpected defaults: %+v", a)
	}
}

func TestHeartbeatUpdatesLastHeartbeat(t *testing.T) {
	m := newTestManager(t, nil)
	a, err := m.Register(RegisterOptions{ID: "agent-1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	updated, err := m.Heartbeat("agent-1", 1234)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if updated.LastHeartbeat <= a.LastHeartbeat {
		t.Errorf("heartbeat not advanced")
	}
	if updated.PID != 1234 {
		t.Errorf("pid = %d, want 1234", updated.PID)
	}
}

func TestHeartbeatUnknownAgent(t *testing.T) {
	m := newTestManager(t, nil)
	_, err := m.Heartbeat("nope", 0)
	apiErr := apierr.As(err)
	if apiErr == nil || apiErr.Code != apierr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestListOnlyReturnsActiveAgents(t *testing.T) {
	m := newTestManager(t, nil)
	if _, err := m.Register(RegisterOptions{ID: "fresh"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.Register(RegisterOptions{ID: "ancient"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.db.Exec("UPDATE agents SET last_heartbeat = 0 WHERE id = 'ancient'"); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	active, err := m.List(time.Minute)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].ID != "fresh" {
		t.Fatalf("unexpected active set: %+v", active)
	}
}

func TestCanClaimServiceRespectsCap(t *testing.T) {
	m := newTestManager(t, nil)
	if _, err := m.Register(RegisterOptions{ID: "agent-1", MaxServices: 2}); err != nil {
		t.Fatalf("register: %v", err)
	}

	ok, err := m.CanClaimService("agent-1", 1)
	if err != nil || !ok {
		t.Fatalf("expected ok=true, got %v %v", ok, err)
	}
	ok, err = m.CanClaimService("agent-1", 2)
	if err != nil || ok {
		t.Fatalf("expected ok=false at cap, got %v %v", ok, err)
	}
}

func TestStaleAgents(t *testing.T) {
	m := newTestManager(t, nil)
	if _, err := m.Register(RegisterOptions{ID: "agent-1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.db.Exec("UPDATE agents SET last_heartbeat = 0 WHERE id = 'agent-1'"); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	stale, err := m.StaleAgents(time.Now())
	if err != nil {
		t.Fatalf("stale agents: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("expected 1 stale agent, got %d", len(stale))
	}
}
