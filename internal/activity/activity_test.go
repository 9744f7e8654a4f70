package activity

import (
	"testing"
	"time"

	"github.com/portdaddy/daemon/internal/store"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewLog(s.DB())
}

func TestRecordAndGetRecent(t *testing.T) {
	l := newTestLog(t)
	if err := l.Record("service.claim", "agent-1", "myapp:api", "claimed port 3100", ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	entries, err := l.GetRecent("", "", 10)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != "service.claim" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestGetRecentFiltersByType(t *testing.T) {
	l := newTestLog(t)
	if err := l.Record("service.claim", "", "", "", ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.Record("lock.acquire", "", "", "", ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	entries, err := l.GetRecent("lock.acquire", "", 10)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != "lock.acquire" {
		t.Fatalf("unexpected filtered entries: %+v", entries)
	}
}

func TestGetSummary(t *testing.T) {
	l := newTestLog(t)
	for i := 0; i < 3; i++ {
		if err := l.Record("service.claim", "", "", "", ""); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := l.Record("lock.acquire", "", "", "", ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	summary, err := l.GetSummary(0, time.Now().Add(time.Hour).UnixMilli())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(summary) != 2 || summary[0].Type != "service.claim" || summary[0].Count != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestTrimKeepsEntriesUnderSizeCap(t *testing.T) {
	l := newTestLog(t)
	for i := 0; i < 5; i++ {
		if err := l.Record("event", "", "", "", ""); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	// Can't exceed maxEntries=10000 in a unit test feasibly, but Trim should
	// be a safe no-op well under the cap.
	if err := l.Trim(); err != nil {
		t.Fatalf("trim: %v", err)
	}

	entries, err := l.GetRecent("", "", 100)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected all 5 entries to survive trim under cap, got %d", len(entries))
	}
}
