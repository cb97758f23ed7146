// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeranaias/lexguard/internal/store"
)

// =============================================================================
// ROLE PERMISSIONS
// =============================================================================

func scanRolePermission(row rowScanner) (store.RolePermission, error) {
	var (
		rp         store.RolePermission
		conditions string
	)
	if err := row.Scan(&rp.Role, &rp.Permission, &conditions); err != nil {
		return store.RolePermission{}, notFound(err)
	}
	if err := json.Unmarshal([]byte(conditions), &rp.Conditions); err != nil {
		return store.RolePermission{}, fmt.Errorf("decode conditions for %s/%s: %w", rp.Role, rp.Permission, err)
	}
	return rp, nil
}

func (s *Store) GetRolePermission(ctx context.Context, role, permission string) (store.RolePermission, error) {
	row := s.queryRow(ctx, s.db, `
		SELECT role, permission, conditions FROM role_permissions
		WHERE role = ? AND permission = ?`, role, permission)
	return scanRolePermission(row)
}

func (s *Store) PutRolePermission(ctx context.Context, rp store.RolePermission) error {
	conditions := rp.Conditions
	if conditions == nil {
		conditions = []store.Condition{}
	}
	encoded, err := json.Marshal(conditions)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `DELETE FROM role_permissions WHERE role = ? AND permission = ?`,
			rp.Role, rp.Permission); err != nil {
			return err
		}
		_, err := s.exec(ctx, tx, `
			INSERT INTO role_permissions (role, permission, conditions) VALUES (?, ?, ?)`,
			rp.Role, rp.Permission, string(encoded))
		return err
	})
}

func (s *Store) DeleteRolePermission(ctx context.Context, role, permission string) error {
	res, err := s.exec(ctx, s.db, `DELETE FROM role_permissions WHERE role = ? AND permission = ?`, role, permission)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) ListRolePermissions(ctx context.Context, role string) ([]store.RolePermission, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT role, permission, conditions FROM role_permissions
		WHERE role = ? ORDER BY permission`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.RolePermission
	for rows.Next() {
		rp, err := scanRolePermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rp)
	}
	return out, rows.Err()
}

// =============================================================================
// GRANTS
// =============================================================================

const grantColumns = `id, identity_id, permission, allow, valid_from, valid_until, granted_by, reason, created_at`

func scanGrant(row rowScanner) (store.PermissionGrant, error) {
	var (
		g          store.PermissionGrant
		from, till sql.NullInt64
		created    int64
	)
	err := row.Scan(&g.ID, &g.IdentityID, &g.Permission, &g.Allow, &from, &till, &g.GrantedBy, &g.Reason, &created)
	if err != nil {
		return store.PermissionGrant{}, notFound(err)
	}
	g.ValidFrom = timePtr(from)
	g.ValidUntil = timePtr(till)
	g.CreatedAt = fromNanos(created)
	return g, nil
}

func (s *Store) FindCurrentGrant(ctx context.Context, identityID, permission string, now time.Time) (store.PermissionGrant, error) {
	n := toNanos(now)
	// allow ASC puts denies (false) first.
	row := s.queryRow(ctx, s.db, `
		SELECT `+grantColumns+` FROM permission_grants
		WHERE identity_id = ? AND permission = ?
		  AND (valid_from IS NULL OR valid_from <= ?)
		  AND (valid_until IS NULL OR valid_until > ?)
		ORDER BY allow ASC, created_at DESC
		LIMIT 1`, identityID, permission, n, n)
	return scanGrant(row)
}

func (s *Store) PutGrant(ctx context.Context, g store.PermissionGrant) error {
	_, err := s.exec(ctx, s.db, `
		INSERT INTO permission_grants (`+grantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.IdentityID, g.Permission, g.Allow, nullNanos(g.ValidFrom), nullNanos(g.ValidUntil),
		g.GrantedBy, g.Reason, toNanos(g.CreatedAt))
	return err
}

func (s *Store) ListGrants(ctx context.Context, identityID string) ([]store.PermissionGrant, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT `+grantColumns+` FROM permission_grants
		WHERE identity_id = ? ORDER BY created_at DESC`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.PermissionGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
