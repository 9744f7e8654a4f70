// Package resurrection implements the durable record of an agent's
// stale -> dead -> pending -> resurrecting -> gone lifecycle, queryable by
// project and project+stack.
package resurrection

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/portdaddy/daemon/internal/apierr"
)

const (
	StatusStale        = "stale"
	StatusPending       = "pending"
	StatusResurrecting = "resurrecting"
)

// Entry is one resurrection queue row.
type Entry struct {
	AgentID       string `json:"agentId"`
	Name          string `json:"name,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	Purpose       string `json:"purpose,omitempty"`
	Project       string `json:"project,omitempty"`
	Stack         string `json:"stack,omitempty"`
	Context       string `json:"context,omitempty"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	DetectedAt    int64  `json:"detectedAt"`
	LastAttemptAt *int64 `json:"lastAttemptAt,omitempty"`
	Metadata      string `json:"metadata,omitempty"`
}

// Store owns the resurrection_entries table.
type Store struct {
	db *sql.DB
}

// NewStore builds a Store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func now() int64 { return time.Now().UnixMilli() }

// StatusOf returns the current status of agentID's entry, or ok=false if no
// entry exists yet. The janitor uses this to avoid re-recording the same
// threshold crossing on every tick while an agent sits in one state.
func (s *Store) StatusOf(agentID string) (status string, ok bool, err error) {
	err = s.db.QueryRow("SELECT status FROM resurrection_entries WHERE agent_id = ?", agentID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("status of resurrection entry: %w", err)
	}
	return status, true, nil
}

// Upsert inserts a new entry for agentID, or leaves it unchanged and just
// updates status if one already exists (the janitor calls this when an agent
// first crosses a threshold with no entry yet; the later promotion to pending
// goes through UpdateStatus).
func (s *Store) Upsert(e Entry) error {
	if e.Status == "" {
		e.Status = StatusStale
	}
	if e.DetectedAt == 0 {
		e.DetectedAt = now()
	}

	_, err := s.db.Exec(`INSERT INTO resurrection_entries
		(agent_id, name, session_id, purpose, project, stack, context, status, attempts, detected_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET status = excluded.status`,
		e.AgentID, e.Name, e.SessionID, e.Purpose, e.Project, e.Stack, e.Context, e.Status, e.DetectedAt, e.Metadata)
	if err != nil {
		return fmt.Errorf("upsert resurrection entry: %w", err)
	}
	return nil
}

// UpdateStatus transitions an existing entry's status field (used by the
// janitor's stale->pending promotion).
func (s *Store) UpdateStatus(agentID, status string) error {
	res, err := s.db.Exec("UPDATE resurrection_entries SET status = ? WHERE agent_id = ?", status, agentID)
	if err != nil {
		return fmt.Errorf("update resurrection status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierr.New(apierr.NotFound, "resurrection entry not found: "+agentID, nil)
	}
	return nil
}

// List returns resurrection entries, optionally filtered by project and
// stack, ordered by detection time.
func (s *Store) List(project, stack string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	query := "SELECT agent_id, name, session_id, purpose, project, stack, context, status, attempts, detected_at, last_attempt_at, metadata FROM resurrection_entries WHERE 1=1"
	args := []interface{}{}
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}
	if stack != "" {
		query += " AND stack = ?"
		args = append(args, stack)
	}
	query += " ORDER BY detected_at ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list resurrection entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListPending returns only entries with status pending, the claimable set.
func (s *Store) ListPending(project, stack string, limit int) ([]Entry, error) {
	all, err := s.List(project, stack, limit)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range all {
		if e.Status == StatusPending {
			out = append(out, e)
		}
	}
	return out, nil
}

// CountByProject counts stale/pending entries for a project — the salvageHint
// source for newly-registered agents.
func (s *Store) CountByProject(project string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM resurrection_entries
		WHERE project = ? AND status IN ('stale', 'pending')`, project).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count resurrection entries: %w", err)
	}
	return n, nil
}

// Claim transitions pending -> resurrecting for agentID, returning its saved
// context so the claiming agent can resume.
func (s *Store) Claim(agentID string) (*Entry, error) {
	row := s.db.QueryRow(`SELECT agent_id, name, session_id, purpose, project, stack, context, status,
		attempts, detected_at, last_attempt_at, metadata FROM resurrection_entries WHERE agent_id = ?`, agentID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.NotFound, "resurrection entry not found: "+agentID, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	if e.Status != StatusPending {
		return nil, apierr.New(apierr.InvalidArgument, "entry not pending: "+e.Status, nil)
	}

	ts := now()
	_, err = s.db.Exec(`UPDATE resurrection_entries SET status = ?, attempts = attempts + 1, last_attempt_at = ?
		WHERE agent_id = ?`, StatusResurrecting, ts, agentID)
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	e.Status = StatusResurrecting
	e.Attempts++
	e.LastAttemptAt = &ts
	return &e, nil
}

// Complete removes a resurrecting entry once the new agent has taken over.
func (s *Store) Complete(agentID string) error {
	res, err := s.db.Exec("DELETE FROM resurrection_entries WHERE agent_id = ? AND status = ?",
		agentID, StatusResurrecting)
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierr.New(apierr.NotFound, "resurrecting entry not found: "+agentID, nil)
	}
	return nil
}

// Abandon returns a resurrecting entry to the pending queue.
func (s *Store) Abandon(agentID string) error {
	res, err := s.db.Exec("UPDATE resurrection_entries SET status = ? WHERE agent_id = ? AND status = ?",
		StatusPending, agentID, StatusResurrecting)
	if err != nil {
		return fmt.Errorf("abandon: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierr.New(apierr.NotFound, "resurrecting entry not found: "+agentID, nil)
	}
	return nil
}

// Dismiss removes an entry outright (any -> gone).
func (s *Store) Dismiss(agentID string) error {
	res, err := s.db.Exec("DELETE FROM resurrection_entries WHERE agent_id = ?", agentID)
	if err != nil {
		return fmt.Errorf("dismiss: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierr.New(apierr.NotFound, "resurrection entry not found: "+agentID, nil)
	}
	return nil
}

// ExpireBefore deletes resurrection rows older than the retention window.
func (s *Store) ExpireBefore(cutoff int64) (int, error) {
	res, err := s.db.Exec("DELETE FROM resurrection_entries WHERE detected_at <= ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire resurrection entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var lastAttempt sql.NullInt64
	err := row.Scan(&e.AgentID, &e.Name, &e.SessionID, &e.Purpose, &e.Project, &e.Stack, &e.Context,
		&e.Status, &e.Attempts, &e.DetectedAt, &lastAttempt, &e.Metadata)
	if err != nil {
		return Entry{}, err
	}
	if lastAttempt.Valid {
		v := lastAttempt.Int64
		e.LastAttemptAt = &v
	}
	return e, nil
}
