package store

import "database/sql"

// migrations holds one function per schema version, applied in order and
// recorded in schema_version. Each function's DDL is idempotent so re-runs
// against an already-migrated database are safe.
var migrations = []func(*sql.DB) error{
	migrateServices,
	migrateEndpoints,
	migrateLocks,
	migrateAgents,
	migrateInboxMessages,
	migrateSessions,
	migrateSessionNotes,
	migrateFileClaims,
	migrateChannelMessages,
	migrateResurrectionEntries,
	migrateWebhooks,
	migrateDeliveries,
	migrateActivityLog,
	migrateProjects,
}

func migrateServices(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS services (
			id            TEXT PRIMARY KEY,
			port          INTEGER NOT NULL UNIQUE,
			pid           INTEGER,
			cmd           TEXT NOT NULL DEFAULT '',
			cwd           TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT 'assigned',
			restart       TEXT NOT NULL DEFAULT 'never',
			health_url    TEXT NOT NULL DEFAULT '',
			pair          TEXT NOT NULL DEFAULT '',
			metadata      TEXT NOT NULL DEFAULT '',
			agent_id      TEXT NOT NULL DEFAULT '',
			created_at    INTEGER NOT NULL,
			last_seen_at  INTEGER NOT NULL,
			expires_at    INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_services_expires ON services(expires_at);
		CREATE INDEX IF NOT EXISTS idx_services_status ON services(status);
		CREATE INDEX IF NOT EXISTS idx_services_agent ON services(agent_id);
	`)
	return err
}

func migrateEndpoints(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS endpoints (
			service_id  TEXT NOT NULL REFERENCES services(id) ON DELETE CASCADE,
			environment TEXT NOT NULL,
			url         TEXT NOT NULL,
			PRIMARY KEY (service_id, environment)
		);
	`)
	return err
}

func migrateLocks(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS locks (
			name        TEXT PRIMARY KEY,
			owner       TEXT NOT NULL DEFAULT '',
			pid         INTEGER,
			acquired_at INTEGER NOT NULL,
			expires_at  INTEGER,
			metadata    TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_locks_owner ON locks(owner);
		CREATE INDEX IF NOT EXISTS idx_locks_expires ON locks(expires_at);
	`)
	return err
}

func migrateAgents(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS agents (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL DEFAULT '',
			pid             INTEGER,
			type            TEXT NOT NULL DEFAULT '',
			project         TEXT NOT NULL DEFAULT '',
			stack           TEXT NOT NULL DEFAULT '',
			context         TEXT NOT NULL DEFAULT '',
			purpose         TEXT NOT NULL DEFAULT '',
			worktree_id     TEXT NOT NULL DEFAULT '',
			max_services    INTEGER NOT NULL DEFAULT 50,
			max_locks       INTEGER NOT NULL DEFAULT 20,
			registered_at   INTEGER NOT NULL,
			last_heartbeat  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_agents_project ON agents(project);
		CREATE INDEX IF NOT EXISTS idx_agents_heartbeat ON agents(last_heartbeat);
	`)
	return err
}

func migrateInboxMessages(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS inbox_messages (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			recipient_agent TEXT NOT NULL,
			sender          TEXT NOT NULL DEFAULT '',
			content         TEXT NOT NULL DEFAULT '',
			type            TEXT NOT NULL DEFAULT 'note',
			is_read         INTEGER NOT NULL DEFAULT 0,
			created_at      INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_inbox_recipient ON inbox_messages(recipient_agent, created_at);
	`)
	return err
}

func migrateSessions(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			purpose      TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT 'active',
			agent_id     TEXT NOT NULL DEFAULT '',
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL,
			ended_at     INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(agent_id, status);
	`)
	return err
}

func migrateSessionNotes(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS session_notes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			content    TEXT NOT NULL DEFAULT '',
			type       TEXT NOT NULL DEFAULT 'note',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_notes_session ON session_notes(session_id, created_at);
	`)
	return err
}

func migrateFileClaims(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS file_claims (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			path        TEXT NOT NULL,
			claimed_at  INTEGER NOT NULL,
			released_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_file_claims_path ON file_claims(path, released_at);
		CREATE INDEX IF NOT EXISTS idx_file_claims_session ON file_claims(session_id);
	`)
	return err
}

func migrateChannelMessages(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS channel_messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			channel    TEXT NOT NULL,
			payload    TEXT NOT NULL,
			sender     TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			expires_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_channel_messages_channel ON channel_messages(channel, id);
		CREATE INDEX IF NOT EXISTS idx_channel_messages_expires ON channel_messages(expires_at);
	`)
	return err
}

func migrateResurrectionEntries(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS resurrection_entries (
			agent_id        TEXT PRIMARY KEY,
			name            TEXT NOT NULL DEFAULT '',
			session_id      TEXT NOT NULL DEFAULT '',
			purpose         TEXT NOT NULL DEFAULT '',
			project         TEXT NOT NULL DEFAULT '',
			stack           TEXT NOT NULL DEFAULT '',
			context         TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT 'stale',
			attempts        INTEGER NOT NULL DEFAULT 0,
			detected_at     INTEGER NOT NULL,
			last_attempt_at INTEGER,
			metadata        TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_resurrection_project ON resurrection_entries(project, stack);
		CREATE INDEX IF NOT EXISTS idx_resurrection_status ON resurrection_entries(status);
	`)
	return err
}

func migrateWebhooks(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS webhooks (
			id              TEXT PRIMARY KEY,
			url             TEXT NOT NULL,
			secret          TEXT NOT NULL DEFAULT '',
			events          TEXT NOT NULL DEFAULT '["*"]',
			filter_pattern  TEXT NOT NULL DEFAULT '',
			active          INTEGER NOT NULL DEFAULT 1,
			success_count   INTEGER NOT NULL DEFAULT 0,
			failure_count   INTEGER NOT NULL DEFAULT 0,
			metadata        TEXT NOT NULL DEFAULT '',
			created_at      INTEGER NOT NULL
		);
	`)
	return err
}

func migrateDeliveries(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS deliveries (
			id              TEXT PRIMARY KEY,
			webhook_id      TEXT NOT NULL REFERENCES webhooks(id) ON DELETE CASCADE,
			event           TEXT NOT NULL,
			payload         TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'pending',
			attempts        INTEGER NOT NULL DEFAULT 0,
			last_attempt_at INTEGER,
			response_status INTEGER,
			response_body   TEXT NOT NULL DEFAULT '',
			created_at      INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_deliveries_webhook ON deliveries(webhook_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_deliveries_status ON deliveries(status, attempts);
		CREATE INDEX IF NOT EXISTS idx_deliveries_created ON deliveries(created_at);
	`)
	return err
}

func migrateActivityLog(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS activity_log (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at INTEGER NOT NULL,
			type       TEXT NOT NULL,
			agent_id   TEXT NOT NULL DEFAULT '',
			target     TEXT NOT NULL DEFAULT '',
			detail     TEXT NOT NULL DEFAULT '',
			metadata   TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_activity_created ON activity_log(created_at);
		CREATE INDEX IF NOT EXISTS idx_activity_type ON activity_log(type);
		CREATE INDEX IF NOT EXISTS idx_activity_agent ON activity_log(agent_id);
		CREATE INDEX IF NOT EXISTS idx_activity_target ON activity_log(target);
	`)
	return err
}

func migrateProjects(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			name       TEXT PRIMARY KEY,
			last_seen  INTEGER NOT NULL
		);
	`)
	return err
}
