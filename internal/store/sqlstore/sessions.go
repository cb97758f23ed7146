// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/jeranaias/lexguard/internal/store"
)

// =============================================================================
// SESSIONS
// =============================================================================

const sessionColumns = `id, token_hash, identity_id, created_at, last_activity_at, expires_at,
	absolute_expires_at, remote_addr, user_agent, terminated_at, termination_reason`

func scanSession(row rowScanner) (store.Session, error) {
	var (
		sess                                      store.Session
		created, lastActivity, expires, absExpire int64
		terminated                                sql.NullInt64
	)
	err := row.Scan(&sess.ID, &sess.TokenHash, &sess.IdentityID, &created, &lastActivity, &expires,
		&absExpire, &sess.Origin.RemoteAddr, &sess.Origin.UserAgent, &terminated, &sess.TerminationReason)
	if err != nil {
		return store.Session{}, err
	}
	sess.CreatedAt = fromNanos(created)
	sess.LastActivityAt = fromNanos(lastActivity)
	sess.ExpiresAt = fromNanos(expires)
	sess.AbsoluteExpiresAt = fromNanos(absExpire)
	sess.TerminatedAt = timePtr(terminated)
	return sess, nil
}

func (s *Store) listActive(ctx context.Context, q queryer, identityID string, now time.Time) ([]store.Session, error) {
	rows, err := s.query(ctx, q, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE identity_id = ? AND terminated_at IS NULL AND expires_at > ?
		ORDER BY last_activity_at ASC, created_at ASC`, identityID, toNanos(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []store.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Store) InsertSessionCapped(ctx context.Context, session store.Session, maxActive int, now time.Time) ([]store.Session, error) {
	var evicted []store.Session
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		// Serialises concurrent logins for the same identity.
		if err := s.lockIdentity(ctx, tx, session.IdentityID); err != nil {
			return err
		}

		if maxActive > 0 {
			active, err := s.listActive(ctx, tx, session.IdentityID, now)
			if err != nil {
				return err
			}
			// active is ordered least-recently-active first.
			for i := 0; len(active)-i >= maxActive; i++ {
				victim := active[i]
				if _, err := s.exec(ctx, tx, `
					UPDATE sessions SET terminated_at = ?, termination_reason = ?
					WHERE id = ? AND terminated_at IS NULL`,
					toNanos(now), store.TerminationCapacity, victim.ID); err != nil {
					return err
				}
				at := now
				victim.TerminatedAt = &at
				victim.TerminationReason = store.TerminationCapacity
				evicted = append(evicted, victim)
			}
		}

		_, err := s.exec(ctx, tx, `
			INSERT INTO sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID, session.TokenHash, session.IdentityID,
			toNanos(session.CreatedAt), toNanos(session.LastActivityAt), toNanos(session.ExpiresAt),
			toNanos(session.AbsoluteExpiresAt), session.Origin.RemoteAddr, session.Origin.UserAgent,
			nullNanos(session.TerminatedAt), session.TerminationReason)
		return err
	})
	if err != nil {
		return nil, err
	}
	return evicted, nil
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (store.Session, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+sessionColumns+` FROM sessions WHERE token_hash = ?`, tokenHash)
	sess, err := scanSession(row)
	if err != nil {
		return store.Session{}, notFound(err)
	}
	return sess, nil
}

func (s *Store) TouchSession(ctx context.Context, sessionID string, lastActivity, expiresAt time.Time) error {
	la, exp := toNanos(lastActivity), toNanos(expiresAt)
	_, err := s.exec(ctx, s.db, `
		UPDATE sessions SET
			last_activity_at = CASE WHEN ? > last_activity_at THEN ? ELSE last_activity_at END,
			expires_at = CASE WHEN ? > expires_at THEN ? ELSE expires_at END
		WHERE id = ? AND terminated_at IS NULL`,
		la, la, exp, exp, sessionID)
	return err
}

func (s *Store) TerminateSession(ctx context.Context, sessionID, reason string, at time.Time) (bool, error) {
	res, err := s.exec(ctx, s.db, `
		UPDATE sessions SET terminated_at = ?, termination_reason = ?
		WHERE id = ? AND terminated_at IS NULL`,
		toNanos(at), reason, sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) TerminateIdentitySessions(ctx context.Context, identityID, exceptSessionID, reason string, at time.Time) (int, error) {
	res, err := s.exec(ctx, s.db, `
		UPDATE sessions SET terminated_at = ?, termination_reason = ?
		WHERE identity_id = ? AND id <> ? AND terminated_at IS NULL`,
		toNanos(at), reason, identityID, exceptSessionID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) ListActiveSessions(ctx context.Context, identityID string, now time.Time) ([]store.Session, error) {
	return s.listActive(ctx, s.db, identityID, now)
}
