// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jeranaias/lexguard/internal/security/classification"
	"github.com/jeranaias/lexguard/internal/store"
)

// =============================================================================
// IDENTITIES
// =============================================================================

const identityColumns = `id, username, role, department, clearance, active, created_at`

func (s *Store) CreateIdentity(ctx context.Context, identity store.Identity) error {
	_, err := s.exec(ctx, s.db, `
		INSERT INTO identities (id, username, role, department, clearance, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		identity.ID, identity.Username, identity.Role, identity.Department,
		identity.Clearance.String(), identity.Active, toNanos(identity.CreatedAt))
	return err
}

func (s *Store) GetIdentity(ctx context.Context, id string) (store.Identity, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+identityColumns+` FROM identities WHERE id = ?`, id)
	return scanIdentity(row)
}

func (s *Store) GetIdentityByUsername(ctx context.Context, username string) (store.Identity, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+identityColumns+` FROM identities WHERE username = ?`, username)
	return scanIdentity(row)
}

func (s *Store) SetIdentityActive(ctx context.Context, id string, active bool) error {
	res, err := s.exec(ctx, s.db, `UPDATE identities SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (store.Identity, error) {
	var (
		ident     store.Identity
		clearance string
		created   int64
	)
	err := row.Scan(&ident.ID, &ident.Username, &ident.Role, &ident.Department, &clearance, &ident.Active, &created)
	if err != nil {
		return store.Identity{}, notFound(err)
	}
	level, err := classification.ParseLevel(clearance)
	if err != nil {
		return store.Identity{}, fmt.Errorf("identity %s: %w", ident.ID, err)
	}
	ident.Clearance = level
	ident.CreatedAt = fromNanos(created)
	return ident, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// =============================================================================
// LOCKOUT
// =============================================================================

func (s *Store) GetLockout(ctx context.Context, identityID string) (store.LockoutState, error) {
	return s.readLockout(ctx, s.db, identityID, "")
}

func (s *Store) readLockout(ctx context.Context, q queryer, identityID, suffix string) (store.LockoutState, error) {
	var (
		state       = store.LockoutState{IdentityID: identityID}
		lockedUntil sql.NullInt64
		lastFailed  sql.NullInt64
	)
	err := s.queryRow(ctx, q, `
		SELECT failed_attempts, locked_until, last_failed_at
		FROM identities WHERE id = ?`+suffix, identityID).
		Scan(&state.FailedAttempts, &lockedUntil, &lastFailed)
	if err != nil {
		return store.LockoutState{}, notFound(err)
	}
	state.LockedUntil = timePtr(lockedUntil)
	state.LastFailedAt = timePtr(lastFailed)
	return state, nil
}

func (s *Store) ModifyLockout(ctx context.Context, identityID string, fn func(*store.LockoutState) error) (store.LockoutState, error) {
	var result store.LockoutState
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		state, err := s.readLockout(ctx, tx, identityID, s.d.forUpdate)
		if err != nil {
			return err
		}
		if err := fn(&state); err != nil {
			return err
		}
		if _, err := s.exec(ctx, tx, `
			UPDATE identities
			SET failed_attempts = ?, locked_until = ?, last_failed_at = ?
			WHERE id = ?`,
			state.FailedAttempts, nullNanos(state.LockedUntil), nullNanos(state.LastFailedAt), identityID); err != nil {
			return err
		}
		result = state
		return nil
	})
	return result, err
}

// =============================================================================
// CREDENTIALS
// =============================================================================

func (s *Store) GetCredential(ctx context.Context, identityID string) (store.Credential, error) {
	cred, _, err := s.readCredential(ctx, s.db, identityID)
	if err != nil {
		return store.Credential{}, err
	}
	return cred, nil
}

func (s *Store) readCredential(ctx context.Context, q queryer, identityID string) (store.Credential, bool, error) {
	var (
		cred    = store.Credential{IdentityID: identityID}
		history string
		changed int64
	)
	err := s.queryRow(ctx, q, `
		SELECT hash, history, must_change, changed_at
		FROM credentials WHERE identity_id = ?`, identityID).
		Scan(&cred.Hash, &history, &cred.MustChange, &changed)
	if err != nil {
		return store.Credential{}, false, notFound(err)
	}
	if err := json.Unmarshal([]byte(history), &cred.History); err != nil {
		return store.Credential{}, false, fmt.Errorf("decode credential history: %w", err)
	}
	cred.ChangedAt = fromNanos(changed)
	return cred, true, nil
}

func (s *Store) ModifyCredential(ctx context.Context, identityID string, fn func(*store.Credential) error) (store.Credential, error) {
	var result store.Credential
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.lockIdentity(ctx, tx, identityID); err != nil {
			return err
		}
		cred, exists, err := s.readCredential(ctx, tx, identityID)
		if err != nil && !store.IsNotFound(err) {
			return err
		}
		if !exists {
			cred = store.Credential{IdentityID: identityID}
		}
		if err := fn(&cred); err != nil {
			return err
		}
		history := cred.History
		if history == nil {
			history = []string{}
		}
		encoded, err := json.Marshal(history)
		if err != nil {
			return err
		}
		if exists {
			_, err = s.exec(ctx, tx, `
				UPDATE credentials SET hash = ?, history = ?, must_change = ?, changed_at = ?
				WHERE identity_id = ?`,
				cred.Hash, string(encoded), cred.MustChange, toNanos(cred.ChangedAt), identityID)
		} else {
			_, err = s.exec(ctx, tx, `
				INSERT INTO credentials (identity_id, hash, history, must_change, changed_at)
				VALUES (?, ?, ?, ?, ?)`,
				identityID, cred.Hash, string(encoded), cred.MustChange, toNanos(cred.ChangedAt))
		}
		if err != nil {
			return err
		}
		result = cred
		return nil
	})
	return result, err
}

func (s *Store) SetMustChange(ctx context.Context, identityID string, mustChange bool) error {
	res, err := s.exec(ctx, s.db, `UPDATE credentials SET must_change = ? WHERE identity_id = ?`, mustChange, identityID)
	if err != nil {
		return err
	}
	return requireRow(res)
}
