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
// MFA ENROLLMENTS
// =============================================================================

func (s *Store) GetEnrollment(ctx context.Context, identityID string) (store.MFAEnrollment, error) {
	var (
		e         = store.MFAEnrollment{IdentityID: identityID}
		confirmed int64
	)
	err := s.queryRow(ctx, s.db, `
		SELECT secret_ciphertext, active, last_used_step, confirmed_at
		FROM mfa_enrollments WHERE identity_id = ?`, identityID).
		Scan(&e.SecretCiphertext, &e.Active, &e.LastUsedStep, &confirmed)
	if err != nil {
		return store.MFAEnrollment{}, notFound(err)
	}
	e.ConfirmedAt = fromNanos(confirmed)
	return e, nil
}

func (s *Store) SaveEnrollment(ctx context.Context, enrollment store.MFAEnrollment, codes []store.BackupCode) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.lockIdentity(ctx, tx, enrollment.IdentityID); err != nil {
			return err
		}
		if err := s.deleteEnrollment(ctx, tx, enrollment.IdentityID); err != nil {
			return err
		}
		if _, err := s.exec(ctx, tx, `
			INSERT INTO mfa_enrollments (identity_id, secret_ciphertext, active, last_used_step, confirmed_at)
			VALUES (?, ?, ?, ?, ?)`,
			enrollment.IdentityID, enrollment.SecretCiphertext, enrollment.Active,
			enrollment.LastUsedStep, toNanos(enrollment.ConfirmedAt)); err != nil {
			return err
		}
		for _, c := range codes {
			if _, err := s.exec(ctx, tx, `
				INSERT INTO mfa_backup_codes (id, identity_id, code_ciphertext, used_at)
				VALUES (?, ?, ?, ?)`,
				c.ID, enrollment.IdentityID, c.Ciphertext, nullNanos(c.UsedAt)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DeleteEnrollment(ctx context.Context, identityID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.deleteEnrollment(ctx, tx, identityID)
	})
}

func (s *Store) deleteEnrollment(ctx context.Context, tx *sql.Tx, identityID string) error {
	if _, err := s.exec(ctx, tx, `DELETE FROM mfa_backup_codes WHERE identity_id = ?`, identityID); err != nil {
		return err
	}
	_, err := s.exec(ctx, tx, `DELETE FROM mfa_enrollments WHERE identity_id = ?`, identityID)
	return err
}

func (s *Store) AdvanceTOTPStep(ctx context.Context, identityID string, step int64) (bool, error) {
	res, err := s.exec(ctx, s.db, `
		UPDATE mfa_enrollments SET last_used_step = ?
		WHERE identity_id = ? AND last_used_step < ?`,
		step, identityID, step)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// =============================================================================
// BACKUP CODES
// =============================================================================

func (s *Store) ListUnusedBackupCodes(ctx context.Context, identityID string) ([]store.BackupCode, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT id, code_ciphertext FROM mfa_backup_codes
		WHERE identity_id = ? AND used_at IS NULL
		ORDER BY id`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []store.BackupCode
	for rows.Next() {
		c := store.BackupCode{IdentityID: identityID}
		if err := rows.Scan(&c.ID, &c.Ciphertext); err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

func (s *Store) ConsumeBackupCode(ctx context.Context, codeID string, at time.Time) (bool, error) {
	res, err := s.exec(ctx, s.db, `
		UPDATE mfa_backup_codes SET used_at = ?
		WHERE id = ? AND used_at IS NULL`, toNanos(at), codeID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
