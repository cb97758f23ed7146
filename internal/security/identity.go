// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/lexguard/internal/ids"
	"github.com/jeranaias/lexguard/internal/security/audit"
	"github.com/jeranaias/lexguard/internal/security/classification"
	"github.com/jeranaias/lexguard/internal/security/password"
	"github.com/jeranaias/lexguard/internal/store"
)

// ErrInvalidIdentity is returned by Provision for a request missing a
// username or role.
var ErrInvalidIdentity = errors.New("invalid identity")

// =============================================================================
// PROVISIONING (AC-2)
// =============================================================================

// NewIdentity describes an identity to create.
type NewIdentity struct {
	Username   string
	Role       string
	Department string
	Clearance  classification.Level

	// Password is optional. When set it must satisfy the policy; nothing
	// is created otherwise.
	Password string

	// MustChange forces a rotation at first login.
	MustChange bool
}

// Provision creates an active identity and, when req.Password is set, its
// first credential. Usernames are trimmed and lowercased. A taken username
// returns store.ErrConflict.
func (c *Core) Provision(ctx context.Context, req NewIdentity, actor string) (store.Identity, []password.Violation, error) {
	username := normalizeUsername(req.Username)
	role := strings.TrimSpace(req.Role)
	if username == "" || role == "" {
		return store.Identity{}, nil, fmt.Errorf("%w: username and role are required", ErrInvalidIdentity)
	}
	if !req.Clearance.Valid() {
		return store.Identity{}, nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, classification.ErrInvalidLevel)
	}
	if req.Password != "" {
		if v := c.Passwords.Validate(req.Password); len(v) > 0 {
			return store.Identity{}, v, nil
		}
	}

	ident := store.Identity{
		ID:         ids.NewUUID(),
		Username:   username,
		Role:       role,
		Department: strings.TrimSpace(req.Department),
		Clearance:  req.Clearance,
		Active:     true,
		CreatedAt:  c.now().UTC(),
	}
	if err := c.identities.CreateIdentity(ctx, ident); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.Identity{}, nil, err
		}
		return store.Identity{}, nil, store.Integrity("provision.create", err)
	}

	after, _ := json.Marshal(ident)
	snapshot := string(after)
	if _, err := c.Ledger.Record(ctx, store.AuditEntry{
		ActorID:    actor,
		Action:     audit.ActionIdentityCreated,
		EntityType: audit.EntityIdentity,
		EntityID:   ident.ID,
		After:      &snapshot,
		Success:    true,
		Severity:   store.SeverityMedium,
		Category:   store.CategoryAccount,
	}); err != nil {
		return ident, nil, err
	}

	if req.Password != "" {
		violations, err := c.Passwords.Change(ctx, ident.ID, req.Password)
		if err != nil || len(violations) > 0 {
			return ident, violations, err
		}
	}
	if req.MustChange {
		if err := c.Passwords.RequireChange(ctx, ident.ID, actor); err != nil {
			return ident, nil, err
		}
	}

	c.logger.Info("AC-2: identity provisioned",
		zap.String("identity_id", ident.ID),
		zap.String("role", ident.Role),
		zap.Stringer("clearance", ident.Clearance),
		zap.String("actor", actor),
	)
	return ident, nil, nil
}

// SetActive enables or disables an identity. Disabling also ends every
// session it holds.
func (c *Core) SetActive(ctx context.Context, identityID string, active bool, actor string) error {
	if err := c.identities.SetIdentityActive(ctx, identityID, active); err != nil {
		if store.IsNotFound(err) {
			return err
		}
		return store.Integrity("identity.set_active", err)
	}

	action := audit.ActionIdentityEnabled
	if !active {
		action = audit.ActionIdentityDisabled
	}
	if _, err := c.Ledger.Record(ctx, store.AuditEntry{
		ActorID:    actor,
		Action:     action,
		EntityType: audit.EntityIdentity,
		EntityID:   identityID,
		Success:    true,
		Severity:   store.SeverityMedium,
		Category:   store.CategoryAccount,
	}); err != nil {
		return err
	}

	if !active {
		if _, err := c.Sessions.TerminateAll(ctx, identityID, "", store.TerminationAdmin, actor); err != nil {
			return err
		}
	}
	return nil
}

// normalizeUsername folds a username to the form it is stored under.
func normalizeUsername(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}
