// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migration is one versioned schema step. Statements are written in the
// subset of SQL shared by SQLite and PostgreSQL.
type migration struct {
	version    int
	name       string
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "identities",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS identities (
				id              TEXT PRIMARY KEY,
				username        TEXT NOT NULL UNIQUE,
				role            TEXT NOT NULL,
				department      TEXT NOT NULL DEFAULT '',
				clearance       TEXT NOT NULL DEFAULT 'internal',
				active          BOOLEAN NOT NULL DEFAULT TRUE,
				failed_attempts INTEGER NOT NULL DEFAULT 0,
				locked_until    BIGINT,
				last_failed_at  BIGINT,
				created_at      BIGINT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS credentials (
				identity_id TEXT PRIMARY KEY REFERENCES identities(id),
				hash        TEXT NOT NULL,
				history     TEXT NOT NULL DEFAULT '[]',
				must_change BOOLEAN NOT NULL DEFAULT FALSE,
				changed_at  BIGINT NOT NULL
			)`,
		},
	},
	{
		version: 2,
		name:    "mfa",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS mfa_enrollments (
				identity_id       TEXT PRIMARY KEY REFERENCES identities(id),
				secret_ciphertext TEXT NOT NULL,
				active            BOOLEAN NOT NULL DEFAULT TRUE,
				last_used_step    BIGINT NOT NULL DEFAULT 0,
				confirmed_at      BIGINT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS mfa_backup_codes (
				id              TEXT PRIMARY KEY,
				identity_id     TEXT NOT NULL REFERENCES identities(id),
				code_ciphertext TEXT NOT NULL,
				used_at         BIGINT
			)`,
			`CREATE INDEX IF NOT EXISTS mfa_backup_codes_identity ON mfa_backup_codes (identity_id)`,
		},
	},
	{
		version: 3,
		name:    "sessions",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id                  TEXT PRIMARY KEY,
				token_hash          TEXT NOT NULL UNIQUE,
				identity_id         TEXT NOT NULL REFERENCES identities(id),
				created_at          BIGINT NOT NULL,
				last_activity_at    BIGINT NOT NULL,
				expires_at          BIGINT NOT NULL,
				absolute_expires_at BIGINT NOT NULL,
				remote_addr         TEXT NOT NULL DEFAULT '',
				user_agent          TEXT NOT NULL DEFAULT '',
				terminated_at       BIGINT,
				termination_reason  TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS sessions_identity_active ON sessions (identity_id, terminated_at)`,
		},
	},
	{
		version: 4,
		name:    "permissions",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS role_permissions (
				role       TEXT NOT NULL,
				permission TEXT NOT NULL,
				conditions TEXT NOT NULL DEFAULT '[]',
				PRIMARY KEY (role, permission)
			)`,
			`CREATE TABLE IF NOT EXISTS permission_grants (
				id          TEXT PRIMARY KEY,
				identity_id TEXT NOT NULL REFERENCES identities(id),
				permission  TEXT NOT NULL,
				allow       BOOLEAN NOT NULL,
				valid_from  BIGINT,
				valid_until BIGINT,
				granted_by  TEXT NOT NULL,
				reason      TEXT NOT NULL DEFAULT '',
				created_at  BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS permission_grants_lookup ON permission_grants (identity_id, permission)`,
		},
	},
	{
		version: 5,
		name:    "audit",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS audit_entries (
				seq          BIGINT PRIMARY KEY,
				id           TEXT NOT NULL UNIQUE,
				ts           BIGINT NOT NULL,
				actor_id     TEXT NOT NULL,
				action       TEXT NOT NULL,
				entity_type  TEXT NOT NULL DEFAULT '',
				entity_id    TEXT NOT NULL DEFAULT '',
				before_value TEXT,
				after_value  TEXT,
				success      BOOLEAN NOT NULL,
				message      TEXT NOT NULL DEFAULT '',
				severity     TEXT NOT NULL,
				category     TEXT NOT NULL,
				pii          BOOLEAN NOT NULL DEFAULT FALSE,
				confidential BOOLEAN NOT NULL DEFAULT FALSE,
				remote_addr  TEXT NOT NULL DEFAULT '',
				user_agent   TEXT NOT NULL DEFAULT '',
				prev_hash    TEXT NOT NULL,
				hash         TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS audit_chain_head (
				id   INTEGER PRIMARY KEY,
				seq  BIGINT NOT NULL,
				hash TEXT NOT NULL
			)`,
			`INSERT INTO audit_chain_head (id, seq, hash) VALUES (1, 0, '')`,
			`CREATE TABLE IF NOT EXISTS field_access_records (
				id          TEXT PRIMARY KEY,
				ts          BIGINT NOT NULL,
				accessor_id TEXT NOT NULL,
				entity_type TEXT NOT NULL,
				entity_id   TEXT NOT NULL,
				field       TEXT NOT NULL,
				access_type TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS login_history (
				id             TEXT PRIMARY KEY,
				identity_id    TEXT NOT NULL,
				ts             BIGINT NOT NULL,
				method         TEXT NOT NULL,
				success        BOOLEAN NOT NULL,
				mfa_used       BOOLEAN NOT NULL,
				remote_addr    TEXT NOT NULL DEFAULT '',
				user_agent     TEXT NOT NULL DEFAULT '',
				failure_reason TEXT NOT NULL DEFAULT '',
				suspicious     BOOLEAN NOT NULL DEFAULT FALSE
			)`,
			`CREATE INDEX IF NOT EXISTS login_history_identity ON login_history (identity_id, ts)`,
		},
	},
}

// Migrate applies every migration newer than the recorded schema version.
// Each migration runs in its own transaction.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	if _, err := s.exec(ctx, s.db, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at BIGINT NOT NULL
	)`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	var current sql.NullInt64
	if err := s.queryRow(ctx, s.db, `SELECT MAX(version) FROM schema_migrations`).Scan(&current); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		if current.Valid && int64(m.version) <= current.Int64 {
			continue
		}
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.statements {
				if _, err := s.exec(ctx, tx, stmt); err != nil {
					return err
				}
			}
			_, err := s.exec(ctx, tx,
				`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
				m.version, m.name, toNanos(time.Now()))
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		applied++
	}
	return applied, nil
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var current sql.NullInt64
	if err := s.queryRow(ctx, s.db, `SELECT MAX(version) FROM schema_migrations`).Scan(&current); err != nil {
		return 0, err
	}
	return int(current.Int64), nil
}

// LatestSchemaVersion is the version Migrate brings a database to.
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].version
}
