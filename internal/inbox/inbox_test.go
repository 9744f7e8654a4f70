package inbox

import (
	"testing"

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

func TestSendAndList(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Send("agent-1", "agent-2", "hello", ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	msgs, err := s.List("agent-1", false, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" || msgs[0].Type != "note" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestMarkReadFiltersUnread(t *testing.T) {
	s := newTestStore(t)
	m, err := s.Send("agent-1", "", "x", "alert")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	unread, err := s.List("agent-1", true, 10)
	if err != nil || len(unread) != 1 {
		t.Fatalf("unread list = %v, err = %v", unread, err)
	}

	if err := s.MarkRead(m.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	unread, err = s.List("agent-1", true, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(unread) != 0 {
		t.Fatalf("expected no unread messages, got %d", len(unread))
	}
}
