package locks

import (
	"testing"
	"time"

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
	return NewManager(s.DB())
}

func TestAcquireAndConflict(t *testing.T) {
	m := newTestManager(t)

	lock, err := m.Acquire("deploy", AcquireOptions{Owner: "A", TTL: time.Minute})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lock.Owner != "A" {
		t.Errorf("owner = %q", lock.Owner)
	}

	_, err = m.Acquire("deploy", AcquireOptions{Owner: "B"})
	apiErr := apierr.As(err)
	if apiErr == nil || apiErr.Code != apierr.LockHeld {
		t.Fatalf("expected LockHeld, got %v", err)
	}
	if apiErr.Extra["holder"] != "A" {
		t.Errorf("holder = %v", apiErr.Extra["holder"])
	}
}

func TestReleaseOwnerMismatch(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Acquire("deploy", AcquireOptions{Owner: "A"}); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	_, err := m.Release("deploy", ReleaseOptions{Owner: "B"})
	apiErr := apierr.As(err)
	if apiErr == nil || apiErr.Code != apierr.LockHeldByOther {
		t.Fatalf("expected LockHeldByOther, got %v", err)
	}

	released, err := m.Release("deploy", ReleaseOptions{Owner: "A"})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if !released {
		t.Error("expected released=true")
	}
}

func TestReleaseMissingIsSoftSuccess(t *testing.T) {
	m := newTestManager(t)
	released, err := m.Release("nope", ReleaseOptions{Owner: "A"})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released {
		t.Error("expected released=false for missing lock")
	}
}

func TestExtendUpdatesExpiry(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Acquire("deploy", AcquireOptions{Owner: "A", TTL: time.Second}); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	extended, err := m.Extend("deploy", ExtendOptions{Owner: "A", TTL: time.Hour})
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if extended.ExpiresAt == nil || *extended.ExpiresAt < time.Now().Add(30*time.Minute).UnixMilli() {
		t.Errorf("expiry not extended: %v", extended.ExpiresAt)
	}
}

func TestExtendNotHeld(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Extend("nope", ExtendOptions{Owner: "A"})
	apiErr := apierr.As(err)
	if apiErr == nil || apiErr.Code != apierr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCheckSweepsExpiredFirst(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Acquire("deploy", AcquireOptions{Owner: "A", TTL: time.Millisecond}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	lock, err := m.Check("deploy")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if lock != nil {
		t.Errorf("expected lock to be swept away, got %+v", lock)
	}
}

func TestListOrdersByNameAndFiltersByOwner(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Acquire("zeta", AcquireOptions{Owner: "A"}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := m.Acquire("alpha", AcquireOptions{Owner: "B"}); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	all, err := m.List("")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].Name != "alpha" {
		t.Fatalf("unexpected order: %v", all)
	}

	onlyA, err := m.List("A")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(onlyA) != 1 || onlyA[0].Name != "zeta" {
		t.Fatalf("unexpected filter result: %v", onlyA)
	}
}

func TestAcquireWithRetryTimesOut(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Acquire("deploy", AcquireOptions{Owner: "A", TTL: time.Minute}); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	_, err := m.AcquireWithRetry("deploy", AcquireOptions{Owner: "B"}, 5*time.Millisecond, time.Now().Add(20*time.Millisecond))
	apiErr := apierr.As(err)
	if apiErr == nil || apiErr.Code != apierr.Timeout {
		t.Fatalf("expected Timeout, got %v", err)
	}
}
