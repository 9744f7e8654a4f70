// Package agents implements agent registration, heartbeats, and the
// per-agent resource caps (maxServices/maxLocks), generalizing the teacher's
// single-workspace idle clock to many independently-clocked agents.
package agents

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/portdaddy/daemon/internal/apierr"
	"github.com/portdaddy/daemon/internal/identity"
	"github.com/portdaddy/daemon/internal/idgen"
)

const (
	defaultMaxServices = 50
	defaultMaxLocks    = 20
)

// Agent is one registered agent's durable state.
type Agent struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	PID            int    `json:"pid,omitempty"`
	Type           string `json:"type,omitempty"`
	Project        string `json:"project,omitempty"`
	Stack          string `json:"stack,omitempty"`
	Context        string `json:"context,omitempty"`
	Purpose        string `json:"purpose,omitempty"`
	WorktreeID     string `json:"worktreeId,omitempty"`
	MaxServices    int    `json:"maxServices"`
	MaxLocks       int    `json:"maxLocks"`
	RegisteredAt   int64  `json:"registeredAt"`
	LastHeartbeat  int64  `json:"lastHeartbeat"`
	SalvageHint    int    `json:"salvageHint,omitempty"`
}

// RegisterOptions carries register()'s optional inputs.
type RegisterOptions struct {
	ID          string
	Name        string
	PID         int
	Type        string
	Identity    string
	Purpose     string
	WorktreeID  string
	MaxServices int
	MaxLocks    int
}

// Manager owns the agents table.
type Manager struct {
	db              *sql.DB
	resurrectionDB  ResurrectionCounter
}

// ResurrectionCounter is the subset of the resurrection package's behavior
// this package needs: counting stale/dead agents to compute a salvageHint
// without importing the resurrection package directly (it, in turn, depends
// on agent liveness concepts owned here).
type ResurrectionCounter interface {
	CountByProject(project string) (int, error)
}

// NewManager builds a Manager over db. counter may be nil if salvage hints
// aren't needed (e.g. in tests exercising only registration).
func NewManager(db *sql.DB, counter ResurrectionCounter) *Manager {
	return &Manager{db: db, resurrectionDB: counter}
}

func now() int64 { return time.Now().UnixMilli() }

// Register implements register(): parses any semantic identity into
// (project, stack, context), stores an agent row, and returns a salvageHint
// counting stale/dead agents in the same project.
func (m *Manager) Register(opts RegisterOptions) (*Agent, error) {
	id := opts.ID
	if id == "" {
		id = idgen.Agent()
	}

	a := &Agent{
		ID:            id,
		Name:          opts.Name,
		PID:           opts.PID,
		Type:          opts.Type,
		Purpose:       opts.Purpose,
		WorktreeID:    opts.WorktreeID,
		MaxServices:   orDefault(opts.MaxServices, defaultMaxServices),
		MaxLocks:      orDefault(opts.MaxLocks, defaultMaxLocks),
		RegisteredAt:  now(),
		LastHeartbeat: now(),
	}

	if opts.Identity != "" {
		if parsed, ok := identity.Parse(opts.Identity); ok {
			a.Project, a.Stack, a.Context = parsed.Project, parsed.Stack, parsed.Context
		}
	}

	_, err := m.db.Exec(`INSERT INTO agents
		(id, name, pid, type, project, stack, context, purpose, worktree_id, max_services, max_locks, registered_at, last_heartbeat)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, nullableInt(a.PID), a.Type, a.Project, a.Stack, a.Context, a.Purpose, a.WorktreeID,
		a.MaxServices, a.MaxLocks, a.RegisteredAt, a.LastHeartbeat)
	if err != nil {
		return nil, fmt.Errorf("register agent: %w", err)
	}

	if m.resurrectionDB != nil && a.Project != "" {
		hint, err := m.resurrectionDB.CountByProject(a.Project)
		if err == nil {
			a.SalvageHint = hint
		}
	}

	return a, nil
}

// Heartbeat updates last_heartbeat (and pid, if supplied) for id.
func (m *Manager) Heartbeat(id string, pid int) (*Agent, error) {
	res, err := m.db.Exec("UPDATE agents SET last_heartbeat = ?, pid = COALESCE(?, pid) WHERE id = ?",
		now(), nullableInt(pid), id)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, apierr.New(apierr.NotFound, "agent not found: "+id, nil)
	}
	return m.Get(id)
}

// Get fetches one agent by id.
func (m *Manager) Get(id string) (*Agent, error) {
	row := m.db.QueryRow(`SELECT id, name, pid, type, project, stack, context, purpose, worktree_id,
		max_services, max_locks, registered_at, last_heartbeat FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.NotFound, "agent not found: "+id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

// List returns agents whose last_heartbeat is within activeWithin of now,
// i.e. those the daemon still considers active (AGENT_TTL cutoff).
func (m *Manager) List(activeWithin time.Duration) ([]Agent, error) {
	cutoff := now() - activeWithin.Milliseconds()
	rows, err := m.db.Query(`SELECT id, name, pid, type, project, stack, context, purpose, worktree_id,
		max_services, max_locks, registered_at, last_heartbeat FROM agents WHERE last_heartbeat >= ?
		ORDER BY registered_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Unregister removes an agent (dismiss -> gone).
func (m *Manager) Unregister(id string) error {
	res, err := m.db.Exec("DELETE FROM agents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("unregister agent: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierr.New(apierr.NotFound, "agent not found: "+id, nil)
	}
	return nil
}

// StaleAgents returns agents whose last_heartbeat predates the cutoff — the
// janitor's liveness scan.
func (m *Manager) StaleAgents(cutoff time.Time) ([]Agent, error) {
	rows, err := m.db.Query(`SELECT id, name, pid, type, project, stack, context, purpose, worktree_id,
		max_services, max_locks, registered_at, last_heartbeat FROM agents WHERE last_heartbeat < ?`,
		cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("scan stale agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAgent removes the agent row outright (used after the janitor has
// recorded it in the resurrection queue).
func (m *Manager) DeleteAgent(id string) error {
	_, err := m.db.Exec("DELETE FROM agents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return nil
}

// CanClaimService reports whether agentID is still under its maxServices cap.
func (m *Manager) CanClaimService(agentID string, currentCount int) (bool, error) {
	a, err := m.Get(agentID)
	if err != nil {
		return false, err
	}
	return currentCount < a.MaxServices, nil
}

// CanAcquireLock reports whether agentID is still under its maxLocks cap.
func (m *Manager) CanAcquireLock(agentID string, currentCount int) (bool, error) {
	a, err := m.Get(agentID)
	if err != nil {
		return false, err
	}
	return currentCount < a.MaxLocks, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row scanner) (Agent, error) {
	var a Agent
	var pid sql.NullInt64
	err := row.Scan(&a.ID, &a.Name, &pid, &a.Type, &a.Project, &a.Stack, &a.Context, &a.Purpose, &a.WorktreeID,
		&a.MaxServices, &a.MaxLocks, &a.RegisteredAt, &a.LastHeartbeat)
	if err != nil {
		return Agent{}, err
	}
	if pid.Valid {
		a.PID = int(pid.Int64)
	}
	return a, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func nullableInt(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
