// Package sessions implements work sessions: a status state machine,
// immutable notes, and advisory file claims, reimplemented against SQLite
// from the teacher's in-memory session-manager shape.
package sessions

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/portdaddy/daemon/internal/apierr"
	"github.com/portdaddy/daemon/internal/idgen"
)

const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"

	NoteKindNote    = "note"
	NoteKindHandoff = "handoff"
)

// Session is a named unit of work started (optionally) by an agent.
type Session struct {
	ID        string `json:"id"`
	Purpose   string `json:"purpose"`
	Status    string `json:"status"`
	AgentID   string `json:"agentId,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
	EndedAt   *int64 `json:"endedAt,omitempty"`
}

// Note is one immutable session note.
type Note struct {
	ID        int64  `json:"id"`
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"createdAt"`
}

// FileClaim is one advisory claim of a path by a session.
type FileClaim struct {
	ID         int64  `json:"id"`
	SessionID  string `json:"sessionId"`
	Path       string `json:"path"`
	ClaimedAt  int64  `json:"claimedAt"`
	ReleasedAt *int64 `json:"releasedAt,omitempty"`
}

// ClaimResult reports the files claimed and any conflicting active claims
// held by other sessions on the same paths.
type ClaimResult struct {
	Claimed   []FileClaim `json:"claimed"`
	Conflicts []FileClaim `json:"conflicts"`
}

// Manager owns the sessions, session_notes, and file_claims tables.
type Manager struct {
	db *sql.DB
}

// NewManager builds a Manager over db.
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db}
}

func now() int64 { return time.Now().UnixMilli() }

// Create starts a new session, optionally claiming an initial set of files.
func (m *Manager) Create(purpose, agentID string, files []string) (*Session, error) {
	if purpose == "" {
		purpose = "Quick notes"
	}
	id := idgen.Session()
	ts := now()

	_, err := m.db.Exec(`INSERT INTO sessions (id, purpose, status, agent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`, id, purpose, StatusActive, agentID, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if len(files) > 0 {
		if _, err := m.ClaimFiles(id, files); err != nil {
			return nil, err
		}
	}

	return &Session{ID: id, Purpose: purpose, Status: StatusActive, AgentID: agentID, CreatedAt: ts, UpdatedAt: ts}, nil
}

// Get fetches one session by id.
func (m *Manager) Get(id string) (*Session, error) {
	var s Session
	var endedAt sql.NullInt64
	err := m.db.QueryRow(`SELECT id, purpose, status, agent_id, created_at, updated_at, ended_at
		FROM sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.Purpose, &s.Status, &s.AgentID, &s.CreatedAt, &s.UpdatedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.NotFound, "session not found: "+id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if endedAt.Valid {
		v := endedAt.Int64
		s.EndedAt = &v
	}
	return &s, nil
}

// End transitions a session to completed or abandoned, optionally appending
// a handoff note, and releases all of its active file claims.
func (m *Manager) End(id, status, handoffNote string) (*Session, error) {
	if status != StatusCompleted && status != StatusAbandoned {
		return nil, apierr.New(apierr.InvalidArgument, "status must be completed or abandoned", nil)
	}

	sess, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusActive {
		return nil, apierr.New(apierr.InvalidArgument, "session is not active: "+sess.Status, nil)
	}

	tx, err := m.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	if _, err := tx.Exec("UPDATE sessions SET status = ?, updated_at = ?, ended_at = ? WHERE id = ?",
		status, ts, ts, id); err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	if _, err := tx.Exec("UPDATE file_claims SET released_at = ? WHERE session_id = ? AND released_at IS NULL",
		ts, id); err != nil {
		return nil, fmt.Errorf("release file claims: %w", err)
	}
	if handoffNote != "" {
		if _, err := tx.Exec(`INSERT INTO session_notes (session_id, content, type, created_at)
			VALUES (?, ?, ?, ?)`, id, handoffNote, NoteKindHandoff, ts); err != nil {
			return nil, fmt.Errorf("append handoff note: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit end session: %w", err)
	}

	sess.Status = status
	sess.UpdatedAt = ts
	sess.EndedAt = &ts
	return sess, nil
}

// AddNote appends an immutable note to session id.
func (m *Manager) AddNote(sessionID, content, noteType string) (*Note, error) {
	if noteType == "" {
		noteType = NoteKindNote
	}
	if _, err := m.Get(sessionID); err != nil {
		return nil, err
	}

	ts := now()
	res, err := m.db.Exec(`INSERT INTO session_notes (session_id, content, type, created_at)
		VALUES (?, ?, ?, ?)`, sessionID, content, noteType, ts)
	if err != nil {
		return nil, fmt.Errorf("add note: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("add note: %w", err)
	}
	return &Note{ID: id, SessionID: sessionID, Content: content, Type: noteType, CreatedAt: ts}, nil
}

// Notes returns all notes for a session, oldest first.
func (m *Manager) Notes(sessionID string) ([]Note, error) {
	rows, err := m.db.Query(`SELECT id, session_id, content, type, created_at FROM session_notes
		WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.SessionID, &n.Content, &n.Type, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ClaimFiles claims a set of paths for sessionID, cooperatively: overlapping
// active claims from other sessions are reported but never block the claim.
func (m *Manager) ClaimFiles(sessionID string, paths []string) (*ClaimResult, error) {
	if _, err := m.Get(sessionID); err != nil {
		return nil, err
	}

	tx, err := m.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	result := &ClaimResult{}
	ts := now()

	for _, path := range paths {
		rows, err := tx.Query(`SELECT id, session_id, path, claimed_at, released_at FROM file_claims
			WHERE path = ? AND released_at IS NULL AND session_id != ?`, path, sessionID)
		if err != nil {
			return nil, fmt.Errorf("check conflicts: %w", err)
		}
		for rows.Next() {
			c, err := scanClaim(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			result.Conflicts = append(result.Conflicts, c)
		}
		rows.Close()

		res, err := tx.Exec(`INSERT INTO file_claims (session_id, path, claimed_at) VALUES (?, ?, ?)`,
			sessionID, path, ts)
		if err != nil {
			return nil, fmt.Errorf("claim file: %w", err)
		}
		id, _ := res.LastInsertId()
		result.Claimed = append(result.Claimed, FileClaim{ID: id, SessionID: sessionID, Path: path, ClaimedAt: ts})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim files: %w", err)
	}
	return result, nil
}

// ReleaseFiles releases sessionID's active claims on paths (or all of its
// active claims when paths is empty).
func (m *Manager) ReleaseFiles(sessionID string, paths []string) (int, error) {
	ts := now()
	if len(paths) == 0 {
		res, err := m.db.Exec(`UPDATE file_claims SET released_at = ?
			WHERE session_id = ? AND released_at IS NULL`, ts, sessionID)
		if err != nil {
			return 0, fmt.Errorf("release files: %w", err)
		}
		n, _ := res.RowsAffected()
		return int(n), nil
	}

	count := 0
	for _, path := range paths {
		res, err := m.db.Exec(`UPDATE file_claims SET released_at = ?
			WHERE session_id = ? AND path = ? AND released_at IS NULL`, ts, sessionID, path)
		if err != nil {
			return count, fmt.Errorf("release file %s: %w", path, err)
		}
		n, _ := res.RowsAffected()
		count += int(n)
	}
	return count, nil
}

// QuickNote finds the most recent active session for agentID (or anonymous
// when agentID is empty), creating one with purpose "Quick notes" if none
// exists, and appends the note atomically.
func (m *Manager) QuickNote(agentID, content string) (*Note, error) {
	var id string
	err := m.db.QueryRow(`SELECT id FROM sessions WHERE agent_id = ? AND status = ?
		ORDER BY created_at DESC LIMIT 1`, agentID, StatusActive).Scan(&id)

	if err == sql.ErrNoRows {
		sess, err := m.Create("Quick notes", agentID, nil)
		if err != nil {
			return nil, err
		}
		id = sess.ID
	} else if err != nil {
		return nil, fmt.Errorf("find active session: %w", err)
	}

	return m.AddNote(id, content, NoteKindNote)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanClaim(row scanner) (FileClaim, error) {
	var c FileClaim
	var releasedAt sql.NullInt64
	if err := row.Scan(&c.ID, &c.SessionID, &c.Path, &c.ClaimedAt, &releasedAt); err != nil {
		return FileClaim{}, err
	}
	if releasedAt.Valid {
		v := releasedAt.Int64
		c.ReleasedAt = &v
	}
	return c, nil
}
