package store

import (
	"path/filepath"
	"testing"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

func TestOpenAndClose(t *testing.T) {
	s, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestMigrationCreatesAllTables(t *testing.T) {
	s, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	want := []string{
		"services", "endpoints", "locks", "agents", "inbox_messages",
		"sessions", "session_notes", "file_claims", "channel_messages",
		"resurrection_entries", "webhooks", "deliveries", "activity_log",
		"projects",
	}
	for _, table := range want {
		var name string
		err := s.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %q missing: %v", table, err)
		}
	}
}

func TestMigrationIdempotent(t *testing.T) {
	dbPath := tempDBPath(t)

	s1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open 1: %v", err)
	}
	if _, err := s1.DB().Exec("INSERT INTO locks (name, acquired_at) VALUES (?, ?)", "l1", 1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	s1.Close()

	s2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open 2: %v", err)
	}
	defer s2.Close()

	var count int
	if err := s2.DB().QueryRow("SELECT COUNT(*) FROM locks").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 lock after reopen, got %d", count)
	}
}

func TestForeignKeyCascade(t *testing.T) {
	s, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	db := s.DB()
	if _, err := db.Exec("INSERT INTO sessions (id, purpose, created_at, updated_at) VALUES (?, ?, ?, ?)", "session-1", "test", 1, 1); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	if _, err := db.Exec("INSERT INTO file_claims (session_id, path, claimed_at) VALUES (?, ?, ?)", "session-1", "a.go", 1); err != nil {
		t.Fatalf("insert claim: %v", err)
	}
	if _, err := db.Exec("DELETE FROM sessions WHERE id = ?", "session-1"); err != nil {
		t.Fatalf("delete session: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM file_claims WHERE session_id = ?", "session-1").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected file claims to cascade-delete, got %d remaining", count)
	}
}
