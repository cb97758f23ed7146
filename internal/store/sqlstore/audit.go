// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jeranaias/lexguard/internal/store"
)

// =============================================================================
// AUDIT ENTRIES
// =============================================================================

const auditColumns = `seq, id, ts, actor_id, action, entity_type, entity_id, before_value, after_value,
	success, message, severity, category, pii, confidential, remote_addr, user_agent, prev_hash, hash`

func scanAudit(row rowScanner) (store.AuditEntry, error) {
	var (
		e             store.AuditEntry
		ts            int64
		before, after sql.NullString
		severity      string
		category      string
	)
	err := row.Scan(&e.Seq, &e.ID, &ts, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &before, &after,
		&e.Success, &e.Message, &severity, &category, &e.PII, &e.Confidential,
		&e.Origin.RemoteAddr, &e.Origin.UserAgent, &e.PrevHash, &e.Hash)
	if err != nil {
		return store.AuditEntry{}, err
	}
	e.Timestamp = fromNanos(ts)
	e.Severity = store.Severity(severity)
	e.Category = store.Category(category)
	if before.Valid {
		e.Before = &before.String
	}
	if after.Valid {
		e.After = &after.String
	}
	return e, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func (s *Store) AppendAudit(ctx context.Context, entry store.AuditEntry, seal func(*store.AuditEntry) error) (store.AuditEntry, error) {
	if seal == nil {
		return store.AuditEntry{}, errors.New("sqlstore: nil seal function")
	}
	var result store.AuditEntry
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			seq  int64
			head string
		)
		if err := s.queryRow(ctx, tx, `SELECT seq, hash FROM audit_chain_head WHERE id = 1`+s.d.forUpdate).
			Scan(&seq, &head); err != nil {
			return err
		}

		entry.Seq = seq + 1
		entry.PrevHash = head
		entry.Timestamp = entry.Timestamp.UTC()
		if err := seal(&entry); err != nil {
			return err
		}

		if _, err := s.exec(ctx, tx, `
			INSERT INTO audit_entries (`+auditColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.Seq, entry.ID, toNanos(entry.Timestamp), entry.ActorID, entry.Action,
			entry.EntityType, entry.EntityID, nullString(entry.Before), nullString(entry.After),
			entry.Success, entry.Message, string(entry.Severity), string(entry.Category),
			entry.PII, entry.Confidential, entry.Origin.RemoteAddr, entry.Origin.UserAgent,
			entry.PrevHash, entry.Hash); err != nil {
			return err
		}
		if _, err := s.exec(ctx, tx, `UPDATE audit_chain_head SET seq = ?, hash = ? WHERE id = 1`,
			entry.Seq, entry.Hash); err != nil {
			return err
		}
		result = entry
		return nil
	})
	return result, err
}

func (s *Store) listAudit(ctx context.Context, query string, args ...any) ([]store.AuditEntry, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ListAudit(ctx context.Context, afterSeq int64, limit int) ([]store.AuditEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	return s.listAudit(ctx, `
		SELECT `+auditColumns+` FROM audit_entries
		WHERE seq > ? ORDER BY seq ASC LIMIT ?`, afterSeq, limit)
}

func (s *Store) RecentAudit(ctx context.Context, limit int) ([]store.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.listAudit(ctx, `
		SELECT `+auditColumns+` FROM audit_entries
		ORDER BY seq DESC LIMIT ?`, limit)
}

// =============================================================================
// FIELD ACCESS AND LOGIN HISTORY
// =============================================================================

func (s *Store) InsertFieldAccess(ctx context.Context, r store.FieldAccessRecord) error {
	_, err := s.exec(ctx, s.db, `
		INSERT INTO field_access_records (id, ts, accessor_id, entity_type, entity_id, field, access_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, toNanos(r.Timestamp), r.AccessorID, r.EntityType, r.EntityID, r.Field, string(r.AccessType))
	return err
}

const loginColumns = `id, identity_id, ts, method, success, mfa_used, remote_addr, user_agent, failure_reason, suspicious`

func (s *Store) InsertLoginRecord(ctx context.Context, r store.LoginRecord) error {
	_, err := s.exec(ctx, s.db, `
		INSERT INTO login_history (`+loginColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.IdentityID, toNanos(r.Timestamp), r.Method, r.Success, r.MFAUsed,
		r.Origin.RemoteAddr, r.Origin.UserAgent, r.FailureReason, r.Suspicious)
	return err
}

func (s *Store) LastSuccessfulLogin(ctx context.Context, identityID string) (store.LoginRecord, error) {
	var (
		r  store.LoginRecord
		ts int64
	)
	err := s.queryRow(ctx, s.db, `
		SELECT `+loginColumns+` FROM login_history
		WHERE identity_id = ? AND success = ?
		ORDER BY ts DESC LIMIT 1`, identityID, true).
		Scan(&r.ID, &r.IdentityID, &ts, &r.Method, &r.Success, &r.MFAUsed,
			&r.Origin.RemoteAddr, &r.Origin.UserAgent, &r.FailureReason, &r.Suspicious)
	if err != nil {
		return store.LoginRecord{}, notFound(err)
	}
	r.Timestamp = fromNanos(ts)
	return r, nil
}
