// Package activity implements the append-only, bounded, retained audit log
// that every state-changing daemon operation writes to.
package activity

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	maxEntries    = 10000
	retentionDays = 7
)

// Entry is one audit log row.
type Entry struct {
	ID        int64  `json:"id"`
	CreatedAt int64  `json:"createdAt"`
	Type      string `json:"type"`
	AgentID   string `json:"agentId,omitempty"`
	Target    string `json:"target,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Metadata  string `json:"metadata,omitempty"`
}

// Summary aggregates counts per type over the queried window.
type Summary struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Log owns the activity_log table.
type Log struct {
	db *sql.DB
}

// NewLog builds a Log over db.
func NewLog(db *sql.DB) *Log {
	return &Log{db: db}
}

func now() int64 { return time.Now().UnixMilli() }

// Record appends one entry. Every state-changing operation in the daemon
// calls this; it never returns an error to its caller's caller — record
// failures are logged by the caller, not propagated into business logic.
func (l *Log) Record(entryType, agentID, target, detail, metadata string) error {
	_, err := l.db.Exec(`INSERT INTO activity_log (created_at, type, agent_id, target, detail, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`, now(), entryType, agentID, target, detail, metadata)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// GetRecent returns the most recent entries, optionally filtered by type
// and/or agent, capped at 1000.
func (l *Log) GetRecent(entryType, agentID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	query := "SELECT id, created_at, type, agent_id, target, detail, metadata FROM activity_log WHERE 1=1"
	args := []interface{}{}
	if entryType != "" {
		query += " AND type = ?"
		args = append(args, entryType)
	}
	if agentID != "" {
		query += " AND agent_id = ?"
		args = append(args, agentID)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	return l.query(query, args...)
}

// GetByTimeRange returns entries in [from, to], capped at 10000.
func (l *Log) GetByTimeRange(from, to int64, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 10000 {
		limit = 10000
	}
	return l.query(`SELECT id, created_at, type, agent_id, target, detail, metadata FROM activity_log
		WHERE created_at >= ? AND created_at <= ? ORDER BY created_at ASC LIMIT ?`, from, to, limit)
}

func (l *Log) query(query string, args ...interface{}) ([]Entry, error) {
	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.Type, &e.AgentID, &e.Target, &e.Detail, &e.Metadata); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetSummary returns counts per event type within [from, to].
func (l *Log) GetSummary(from, to int64) ([]Summary, error) {
	rows, err := l.db.Query(`SELECT type, COUNT(*) FROM activity_log WHERE created_at >= ? AND created_at <= ?
		GROUP BY type ORDER BY COUNT(*) DESC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("summarize activity log: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.Type, &s.Count); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Trim enforces the size and age caps: delete entries older than the
// retention window, then delete the oldest rows beyond maxEntries.
func (l *Log) Trim() error {
	cutoff := now() - int64(retentionDays)*24*60*60*1000
	if _, err := l.db.Exec("DELETE FROM activity_log WHERE created_at < ?", cutoff); err != nil {
		return fmt.Errorf("trim activity log by age: %w", err)
	}

	var count int
	if err := l.db.QueryRow("SELECT COUNT(*) FROM activity_log").Scan(&count); err != nil {
		return fmt.Errorf("count activity log: %w", err)
	}
	if count <= maxEntries {
		return nil
	}

	excess := count - maxEntries
	_, err := l.db.Exec(`DELETE FROM activity_log WHERE id IN
		(SELECT id FROM activity_log ORDER BY created_at ASC LIMIT ?)`, excess)
	if err != nil {
		return fmt.Errorf("trim activity log by size: %w", err)
	}
	return nil
}
