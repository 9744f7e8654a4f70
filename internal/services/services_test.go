package services

import (
	"testing"

	"github.com/portdaddy/daemon/internal/apierr"
	"github.com/portdaddy/daemon/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewManager(s.DB(), nil, 9876)
}

func TestClaimAssignsLowestFreePort(t *testing.T) {
	m := newTestManager(t)

	svc, err := m.Claim("myapp:api", ClaimOptions{})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if svc.Port != 3100 {
		t.Errorf("port = %d, want 3100", svc.Port)
	}
	if svc.Existing {
		t.Error("expected existing=false on first claim")
	}
	if svc.Endpoints["local"] == "" {
		t.Error("expected local endpoint to be set")
	}
}

func TestClaimIsIdempotentForSameIdentity(t *testing.T) {
	m := newTestManager(t)

	first, err := m.Claim("myapp:api", ClaimOptions{})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	second, err := m.Claim("myapp:api", ClaimOptions{})
	if err != nil {
		t.Fatalf("re-claim: %v", err)
	}
	if !second.Existing {
		t.Error("expected existing=true on re-claim")
	}
	if second.Port != first.Port {
		t.Errorf("port changed on re-claim: %d -> %d", first.Port, second.Port)
	}
}

func TestClaimRejectsWildcard(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Claim("myapp:*", ClaimOptions{})
	apiErr := apierr.As(err)
	if apiErr == nil || apiErr.Code != apierr.InvalidIdentity {
		t.Fatalf("expected InvalidIdentity, got %v", err)
	}
}

func TestClaimHonorsPreferredPort(t *testing.T) {
	m := newTestManager(t)
	svc, err := m.Claim("myapp:api", ClaimOptions{PreferredPort: 4000})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if svc.Port != 4000 {
		t.Errorf("port = %d, want 4000", svc.Port)
	}
}

func TestClaimNoPortAvailable(t *testing.T) {
	m := newTestManager(t)
	rng := PortRange{Min: 3100, Max: 3100}

	if _, err := m.Claim("one:a", ClaimOptions{Range: rng}); err != nil {
		t.Fatalf("claim one: %v", err)
	}
	_, err := m.Claim("two:b", ClaimOptions{Range: rng})
	apiErr := apierr.As(err)
	if apiErr == nil || apiErr.Code != apierr.NoPortAvailable {
		t.Fatalf("expected NoPortAvailable, got %v", err)
	}
}

func TestReleaseSingleAndPattern(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Claim("myapp:api", ClaimOptions{}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := m.Claim("myapp:worker", ClaimOptions{}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := m.Release("myapp:*", ReleaseOptions{})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if n != 2 {
		t.Fatalf("released = %d, want 2", n)
	}

	if _, err := m.Get("myapp:api"); apierr.As(err).Code != apierr.NotFound {
		t.Errorf("expected NotFound after release, got %v", err)
	}
}

func TestFindOrdersByIdentity(t *testing.T) {
	m := newTestManager(t)
	for _, id := range []string{"zeta:svc", "alpha:svc", "mid:svc"} {
		if _, err := m.Claim(id, ClaimOptions{}); err != nil {
			t.Fatalf("claim %s: %v", id, err)
		}
	}

	found, err := m.Find("", FindFilters{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != 3 {
		t.Fatalf("len = %d, want 3", len(found))
	}
	if found[0].ID != "alpha:svc" || found[2].ID != "zeta:svc" {
		t.Errorf("not sorted: %v", found)
	}
}

func TestSetEndpointAndSetStatus(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Claim("myapp:api", ClaimOptions{}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := m.SetEndpoint("myapp:api", "staging", "https://staging.example.com"); err != nil {
		t.Fatalf("set endpoint: %v", err)
	}
	if err := m.SetStatus("myapp:api", "running"); err != nil {
		t.Fatalf("set status: %v", err)
	}

	svc, err := m.Get("myapp:api")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if svc.Status != "running" {
		t.Errorf("status = %q, want running", svc.Status)
	}
	if svc.Endpoints["staging"] != "https://staging.example.com" {
		t.Errorf("endpoints = %v", svc.Endpoints)
	}
}
