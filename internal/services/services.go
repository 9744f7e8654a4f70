// Package services implements the port allocator: claiming, releasing, and
// querying named services and their environment endpoint aliases.
package services

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/portdaddy/daemon/internal/apierr"
	"github.com/portdaddy/daemon/internal/identity"
)

// Restart policies accepted by claim.
const (
	RestartNever     = "never"
	RestartOnFailure = "on-failure"
	RestartAlways    = "always"
)

// PortRange is an inclusive scan range for port selection.
type PortRange struct {
	Min int
	Max int
}

// Service is one claimed port registration plus its endpoint aliases.
type Service struct {
	ID          string            `json:"id"`
	Port        int               `json:"port"`
	PID         int               `json:"pid,omitempty"`
	Cmd         string            `json:"cmd,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	Status      string            `json:"status"`
	Restart     string            `json:"restart"`
	HealthURL   string            `json:"healthUrl,omitempty"`
	Pair        string            `json:"pair,omitempty"`
	Metadata    string            `json:"metadata,omitempty"`
	AgentID     string            `json:"agentId,omitempty"`
	CreatedAt   int64             `json:"createdAt"`
	LastSeenAt  int64             `json:"lastSeenAt"`
	ExpiresAt   *int64            `json:"expiresAt,omitempty"`
	Endpoints   map[string]string `json:"endpoints,omitempty"`
	Existing    bool              `json:"existing,omitempty"`
}

// ClaimOptions carries every optional claim() input from spec §4.2.
type ClaimOptions struct {
	PreferredPort int
	Range         PortRange
	ExpiresAfter  time.Duration
	Cmd           string
	Cwd           string
	PID           int
	Restart       string
	HealthURL     string
	Pair          string
	Metadata      string
	AgentID       string
	SystemPorts   []int
}

// FindFilters narrows a find() scan.
type FindFilters struct {
	Status  string
	Port    int
	Expired bool
	Limit   int
}

// ReleaseOptions modifies release() semantics.
type ReleaseOptions struct {
	Expired bool
}

// Manager owns the services+endpoints tables and the reserved-port set.
type Manager struct {
	db       *sql.DB
	mu       sync.Mutex
	reserved map[int]bool
}

// NewManager builds a Manager. daemonPort and any caller-reserved ports are
// folded into the reserved set so claim() never hands them out.
func NewManager(db *sql.DB, reservedPorts []int, daemonPort int) *Manager {
	reserved := map[int]bool{8080: true, 8000: true, daemonPort: true}
	for _, p := range reservedPorts {
		reserved[p] = true
	}
	return &Manager{db: db, reserved: reserved}
}

func now() int64 { return time.Now().UnixMilli() }

// Claim implements spec §4.2's claim() operation.
func (m *Manager) Claim(id string, opts ClaimOptions) (*Service, error) {
	parsed, ok := identity.Parse(id)
	if !ok || strings.Contains(id, "*") {
		return nil, apierr.New(apierr.InvalidIdentity, "invalid identity: "+id, nil)
	}
	id = parsed.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, err := m.getLocked(id); err == nil {
		ts := now()
		fields := map[string]interface{}{"last_seen_at": ts}
		if opts.Cmd != "" {
			fields["cmd"] = opts.Cmd
		}
		if opts.Cwd != "" {
			fields["cwd"] = opts.Cwd
		}
		if opts.PID != 0 {
			fields["pid"] = opts.PID
		}
		if opts.HealthURL != "" {
			fields["health_url"] = opts.HealthURL
		}
		if opts.Pair != "" {
			fields["pair"] = opts.Pair
		}
		if opts.Metadata != "" {
			fields["metadata"] = opts.Metadata
		}
		if opts.AgentID != "" {
			fields["agent_id"] = opts.AgentID
		}
		if err := m.updateFieldsLocked(id, fields); err != nil {
			return nil, err
		}
		existing, err = m.getLocked(id)
		if err != nil {
			return nil, err
		}
		existing.Existing = true
		return existing, nil
	}

	rng := opts.Range
	if rng.Min == 0 && rng.Max == 0 {
		rng = PortRange{Min: 3100, Max: 9999}
	}
	systemOccupied := map[int]bool{}
	for _, p := range opts.SystemPorts {
		systemOccupied[p] = true
	}

	port, err := m.pickPortLocked(opts.PreferredPort, rng, systemOccupied)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		ID:         id,
		Port:       port,
		PID:        opts.PID,
		Cmd:        opts.Cmd,
		Cwd:        opts.Cwd,
		Status:     "assigned",
		Restart:    restartOrDefault(opts.Restart),
		HealthURL:  opts.HealthURL,
		Pair:       opts.Pair,
		Metadata:   opts.Metadata,
		AgentID:    opts.AgentID,
		CreatedAt:  now(),
		LastSeenAt: now(),
	}
	if opts.ExpiresAfter > 0 {
		exp := now() + opts.ExpiresAfter.Milliseconds()
		svc.ExpiresAt = &exp
	}

	if err := m.insertLocked(svc); err != nil {
		if isUniqueViolation(err) {
			// Another claimant raced us onto this port; retry the scan once.
			port2, err2 := m.pickPortLocked(0, rng, systemOccupied)
			if err2 != nil {
				return nil, err2
			}
			svc.Port = port2
			if err := m.insertLocked(svc); err != nil {
				return nil, apierr.New(apierr.PortInUse, "port in use", nil)
			}
			return svc, nil
		}
		return nil, fmt.Errorf("insert service: %w", err)
	}

	return svc, nil
}

func restartOrDefault(r string) string {
	switch r {
	case RestartNever, RestartOnFailure, RestartAlways:
		return r
	default:
		return RestartNever
	}
}

func (m *Manager) pickPortLocked(preferred int, rng PortRange, systemOccupied map[int]bool) (int, error) {
	used, err := m.usedPortsLocked()
	if err != nil {
		return 0, err
	}

	if preferred != 0 {
		if !used[preferred] && !m.reserved[preferred] && !systemOccupied[preferred] {
			return preferred, nil
		}
	}

	for p := rng.Min; p <= rng.Max; p++ {
		if used[p] || m.reserved[p] || systemOccupied[p] {
			continue
		}
		return p, nil
	}
	return 0, apierr.New(apierr.NoPortAvailable, "no port available in range", nil)
}

func (m *Manager) usedPortsLocked() (map[int]bool, error) {
	rows, err := m.db.Query("SELECT port FROM services")
	if err != nil {
		return nil, fmt.Errorf("scan used ports: %w", err)
	}
	defer rows.Close()

	used := map[int]bool{}
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan port row: %w", err)
		}
		used[p] = true
	}
	return used, rows.Err()
}

func (m *Manager) insertLocked(s *Service) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO services
		(id, port, pid, cmd, cwd, status, restart, health_url, pair, metadata, agent_id, created_at, last_seen_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Port, nullableInt(s.PID), s.Cmd, s.Cwd, s.Status, s.Restart, s.HealthURL, s.Pair, s.Metadata,
		s.AgentID, s.CreatedAt, s.LastSeenAt, nullableInt64(s.ExpiresAt))
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`INSERT INTO endpoints (service_id, environment, url) VALUES (?, 'local', ?)`,
		s.ID, fmt.Sprintf("http://localhost:%d", s.Port)); err != nil {
		return err
	}

	return tx.Commit()
}

func (m *Manager) updateFieldsLocked(id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	set := make([]string, 0, len(fields))
	args := make([]interface{}, 0, len(fields)+1)
	for k, v := range fields {
		set = append(set, k+" = ?")
		args = append(args, v)
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE services SET %s WHERE id = ?", strings.Join(set, ", "))
	_, err := m.db.Exec(query, args...)
	return err
}

// Release implements release(idOrPattern, opts).
func (m *Manager) Release(idOrPattern string, opts ReleaseOptions) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if opts.Expired {
		res, err := m.db.Exec("DELETE FROM services WHERE expires_at IS NOT NULL AND expires_at <= ?", now())
		if err != nil {
			return 0, fmt.Errorf("release expired: %w", err)
		}
		n, _ := res.RowsAffected()
		return int(n), nil
	}

	if strings.Contains(idOrPattern, "*") {
		ids, err := m.matchingIDsLocked(idOrPattern)
		if err != nil {
			return 0, err
		}
		count := 0
		for _, id := range ids {
			res, err := m.db.Exec("DELETE FROM services WHERE id = ?", id)
			if err != nil {
				return count, fmt.Errorf("release %s: %w", id, err)
			}
			n, _ := res.RowsAffected()
			count += int(n)
		}
		return count, nil
	}

	res, err := m.db.Exec("DELETE FROM services WHERE id = ?", idOrPattern)
	if err != nil {
		return 0, fmt.Errorf("release: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (m *Manager) matchingIDsLocked(pattern string) ([]string, error) {
	rows, err := m.db.Query("SELECT id FROM services")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if identity.Match(pattern, id) {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// Find implements find(pattern, filters).
func (m *Manager) Find(pattern string, filters FindFilters) ([]Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.db.Query(`SELECT id, port, pid, cmd, cwd, status, restart, health_url, pair, metadata,
		agent_id, created_at, last_seen_at, expires_at FROM services`)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		if pattern != "" && !identity.Match(pattern, s.ID) {
			continue
		}
		if filters.Status != "" && s.Status != filters.Status {
			continue
		}
		if filters.Port != 0 && s.Port != filters.Port {
			continue
		}
		if filters.Expired && (s.ExpiresAt == nil || *s.ExpiresAt > now()) {
			continue
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	limit := filters.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	if len(out) > limit {
		out = out[:limit]
	}

	for i := range out {
		eps, err := m.endpointsLocked(out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Endpoints = eps
	}

	return out, nil
}

// CountByAgent returns how many services agentID currently has claimed, for
// the per-agent maxServices cap (canClaimService).
func (m *Manager) CountByAgent(agentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	if err := m.db.QueryRow("SELECT COUNT(*) FROM services WHERE agent_id = ?", agentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count services by agent: %w", err)
	}
	return n, nil
}

// Get implements get(id).
func (m *Manager) Get(id string) (*Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(id)
}

func (m *Manager) getLocked(id string) (*Service, error) {
	row := m.db.QueryRow(`SELECT id, port, pid, cmd, cwd, status, restart, health_url, pair, metadata,
		agent_id, created_at, last_seen_at, expires_at FROM services WHERE id = ?`, id)
	s, err := scanService(row)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.NotFound, "service not found: "+id, nil)
	}
	if err != nil {
		return nil, err
	}
	eps, err := m.endpointsLocked(id)
	if err != nil {
		return nil, err
	}
	s.Endpoints = eps
	return s, nil
}

func (m *Manager) endpointsLocked(id string) (map[string]string, error) {
	rows, err := m.db.Query("SELECT environment, url FROM endpoints WHERE service_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("load endpoints: %w", err)
	}
	defer rows.Close()

	eps := map[string]string{}
	for rows.Next() {
		var env, url string
		if err := rows.Scan(&env, &url); err != nil {
			return nil, err
		}
		eps[env] = url
	}
	return eps, rows.Err()
}

// SetEndpoint implements setEndpoint(id, env, url).
func (m *Manager) SetEndpoint(id, env, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.getLocked(id); err != nil {
		return err
	}
	_, err := m.db.Exec(`INSERT INTO endpoints (service_id, environment, url) VALUES (?, ?, ?)
		ON CONFLICT(service_id, environment) DO UPDATE SET url = excluded.url`, id, env, url)
	if err != nil {
		return fmt.Errorf("set endpoint: %w", err)
	}
	return nil
}

// SetStatus implements setStatus(id, status).
func (m *Manager) SetStatus(id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.db.Exec("UPDATE services SET status = ?, last_seen_at = ? WHERE id = ?", status, now(), id)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierr.New(apierr.NotFound, "service not found: "+id, nil)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanService(row scanner) (Service, error) {
	var s Service
	var pid sql.NullInt64
	var expiresAt sql.NullInt64
	err := row.Scan(&s.ID, &s.Port, &pid, &s.Cmd, &s.Cwd, &s.Status, &s.Restart, &s.HealthURL, &s.Pair,
		&s.Metadata, &s.AgentID, &s.CreatedAt, &s.LastSeenAt, &expiresAt)
	if err != nil {
		return Service{}, err
	}
	if pid.Valid {
		s.PID = int(pid.Int64)
	}
	if expiresAt.Valid {
		v := expiresAt.Int64
		s.ExpiresAt = &v
	}
	return s, nil
}

func nullableInt(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}
