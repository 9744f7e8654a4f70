// Package locks implements the named mutual-exclusion lock manager: acquire,
// release, extend, check, and list over the durable locks table.
package locks

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/portdaddy/daemon/internal/apierr"
)

const (
	defaultTTL = 5 * time.Minute
	maxTTL     = 1 * time.Hour
)

// Lock is the observable state of a held lock.
type Lock struct {
	Name       string         `json:"name"`
	Owner      string         `json:"owner"`
	PID        int            `json:"pid,omitempty"`
	AcquiredAt int64          `json:"acquiredAt"`
	ExpiresAt  *int64         `json:"expiresAt,omitempty"`
	Metadata   string         `json:"metadata,omitempty"`
}

// AcquireOptions carries acquire()'s optional inputs.
type AcquireOptions struct {
	Owner    string
	PID      int
	TTL      time.Duration
	Metadata string
}

// ReleaseOptions carries release()'s optional inputs.
type ReleaseOptions struct {
	Owner string
	Force bool
}

// ExtendOptions carries extend()'s optional inputs.
type ExtendOptions struct {
	Owner string
	TTL   time.Duration
}

// Manager owns the locks table.
type Manager struct {
	db *sql.DB
}

// NewManager builds a Manager over db.
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db}
}

func now() int64 { return time.Now().UnixMilli() }

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || math.IsNaN(float64(ttl)) || math.IsInf(float64(ttl), 0) {
		return defaultTTL
	}
	if ttl > maxTTL {
		return maxTTL
	}
	return ttl
}

// sweepExpired deletes any lock row whose expiry has passed, so every
// read and write observes only live locks.
func (m *Manager) sweepExpired(tx *sql.Tx) error {
	_, err := tx.Exec("DELETE FROM locks WHERE expires_at IS NOT NULL AND expires_at <= ?", now())
	return err
}

// Acquire implements acquire(name, opts).
func (m *Manager) Acquire(name string, opts AcquireOptions) (*Lock, error) {
	if name == "" {
		return nil, apierr.New(apierr.InvalidArgument, "lock name required", nil)
	}

	ttl := normalizeTTL(opts.TTL)

	tx, err := m.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := m.sweepExpired(tx); err != nil {
		return nil, fmt.Errorf("sweep expired locks: %w", err)
	}

	var existingOwner string
	err = tx.QueryRow("SELECT owner FROM locks WHERE name = ?", name).Scan(&existingOwner)
	if err == nil {
		return nil, apierr.New(apierr.LockHeld, "lock held", map[string]interface{}{"holder": existingOwner})
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("check existing lock: %w", err)
	}

	acquiredAt := now()
	expiresAt := acquiredAt + ttl.Milliseconds()

	_, err = tx.Exec(`INSERT INTO locks (name, owner, pid, acquired_at, expires_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`, name, opts.Owner, nullableInt(opts.PID), acquiredAt, expiresAt, opts.Metadata)
	if err != nil {
		return nil, apierr.New(apierr.LockHeld, "lock held", nil)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit acquire: %w", err)
	}

	return &Lock{Name: name, Owner: opts.Owner, PID: opts.PID, AcquiredAt: acquiredAt, ExpiresAt: &expiresAt, Metadata: opts.Metadata}, nil
}

// Release implements release(name, opts). A missing lock is a soft success.
func (m *Manager) Release(name string, opts ReleaseOptions) (bool, error) {
	if opts.Force || opts.Owner == "" {
		res, err := m.db.Exec("DELETE FROM locks WHERE name = ?", name)
		if err != nil {
			return false, fmt.Errorf("release: %w", err)
		}
		n, _ := res.RowsAffected()
		return n > 0, nil
	}

	var owner string
	err := m.db.QueryRow("SELECT owner FROM locks WHERE name = ?", name).Scan(&owner)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup lock: %w", err)
	}
	if owner != opts.Owner {
		return false, apierr.New(apierr.LockHeldByOther, "lock held by other owner", map[string]interface{}{"holder": owner})
	}

	res, err := m.db.Exec("DELETE FROM locks WHERE name = ? AND owner = ?", name, opts.Owner)
	if err != nil {
		return false, fmt.Errorf("release: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Extend implements extend(name, opts).
func (m *Manager) Extend(name string, opts ExtendOptions) (*Lock, error) {
	tx, err := m.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := m.sweepExpired(tx); err != nil {
		return nil, fmt.Errorf("sweep expired locks: %w", err)
	}

	var owner string
	var pid sql.NullInt64
	var acquiredAt int64
	var metadata string
	err = tx.QueryRow("SELECT owner, pid, acquired_at, metadata FROM locks WHERE name = ?", name).
		Scan(&owner, &pid, &acquiredAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.NotFound, "lock not held: "+name, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup lock: %w", err)
	}
	if opts.Owner != "" && owner != opts.Owner {
		return nil, apierr.New(apierr.LockHeldByOther, "lock held by other owner", map[string]interface{}{"holder": owner})
	}

	ttl := normalizeTTL(opts.TTL)
	expiresAt := now() + ttl.Milliseconds()

	if _, err := tx.Exec("UPDATE locks SET expires_at = ? WHERE name = ?", expiresAt, name); err != nil {
		return nil, fmt.Errorf("extend: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit extend: %w", err)
	}

	l := &Lock{Name: name, Owner: owner, AcquiredAt: acquiredAt, ExpiresAt: &expiresAt, Metadata: metadata}
	if pid.Valid {
		l.PID = int(pid.Int64)
	}
	return l, nil
}

// Check implements check(name): sweep expired first, then report.
func (m *Manager) Check(name string) (*Lock, error) {
	if err := m.sweepAuto(); err != nil {
		return nil, err
	}

	var l Lock
	var pid sql.NullInt64
	var expiresAt sql.NullInt64
	err := m.db.QueryRow("SELECT name, owner, pid, acquired_at, expires_at, metadata FROM locks WHERE name = ?", name).
		Scan(&l.Name, &l.Owner, &pid, &l.AcquiredAt, &expiresAt, &l.Metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check lock: %w", err)
	}
	if pid.Valid {
		l.PID = int(pid.Int64)
	}
	if expiresAt.Valid {
		v := expiresAt.Int64
		l.ExpiresAt = &v
	}
	return &l, nil
}

// List implements list(opts): sweep expired first, then report.
func (m *Manager) List(owner string) ([]Lock, error) {
	if err := m.sweepAuto(); err != nil {
		return nil, err
	}

	query := "SELECT name, owner, pid, acquired_at, expires_at, metadata FROM locks"
	args := []interface{}{}
	if owner != "" {
		query += " WHERE owner = ?"
		args = append(args, owner)
	}
	query += " ORDER BY name ASC"

	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()

	var out []Lock
	for rows.Next() {
		var l Lock
		var pid sql.NullInt64
		var expiresAt sql.NullInt64
		if err := rows.Scan(&l.Name, &l.Owner, &pid, &l.AcquiredAt, &expiresAt, &l.Metadata); err != nil {
			return nil, err
		}
		if pid.Valid {
			l.PID = int(pid.Int64)
		}
		if expiresAt.Valid {
			v := expiresAt.Int64
			l.ExpiresAt = &v
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (m *Manager) sweepAuto() error {
	_, err := m.db.Exec("DELETE FROM locks WHERE expires_at IS NOT NULL AND expires_at <= ?", now())
	if err != nil {
		return fmt.Errorf("sweep expired locks: %w", err)
	}
	return nil
}

func nullableInt(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

// AcquireWithRetry is the client-side wrapper from spec §4.3: on LockHeld it
// sleeps for interval and retries until deadline, translating exhaustion to
// Timeout. acquire is the only source of truth for "I hold it" — Check
// between retries is informational only.
func (m *Manager) AcquireWithRetry(name string, opts AcquireOptions, interval time.Duration, deadline time.Time) (*Lock, error) {
	for {
		lock, err := m.Acquire(name, opts)
		if err == nil {
			return lock, nil
		}
		apiErr := apierr.As(err)
		if apiErr.Code != apierr.LockHeld {
			return nil, err
		}
		if time.Now().Add(interval).After(deadline) {
			return nil, apierr.New(apierr.Timeout, "lock acquire timed out: "+name, nil)
		}
		time.Sleep(interval)
	}
}
