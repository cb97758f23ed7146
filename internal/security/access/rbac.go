// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package access provides account lockout and permission resolution.
//
// This file implements AC-3 (Access Enforcement) and AC-6 (Least
// Privilege) over role mappings and individual grants.
package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/jeranaias/lexguard/internal/ids"
	"github.com/jeranaias/lexguard/internal/logging"
	"github.com/jeranaias/lexguard/internal/metrics"
	"github.com/jeranaias/lexguard/internal/security/audit"
	"github.com/jeranaias/lexguard/internal/store"
)

// Decision sources reported to metrics and debug logs. Callers only ever
// see the boolean.
const (
	sourceGrant     = "grant"
	sourceRole      = "role"
	sourceCondition = "condition"
	sourceDefault   = "default"
)

// ErrInvalidPermission is returned for empty or malformed permission names.
var ErrInvalidPermission = errors.New("invalid permission name")

// ErrInvalidGrant is returned for grants with an empty or inverted window.
var ErrInvalidGrant = errors.New("invalid grant")

// ValidatePermission checks a permission name: non-empty, no whitespace.
func ValidatePermission(p string) error {
	if p == "" || strings.ContainsFunc(p, unicode.IsSpace) {
		return fmt.Errorf("%w: %q", ErrInvalidPermission, p)
	}
	return nil
}

// FieldPermission synthesises the permission guarding one field access.
func FieldPermission(entityType, field string, accessType store.AccessType) string {
	return entityType + "." + field + "." + string(accessType)
}

// =============================================================================
// AUTHORIZER
// =============================================================================

// Authorizer resolves effective permissions. It holds no state of its own.
type Authorizer struct {
	identities store.IdentityStore
	perms      store.PermissionStore
	ledger     *audit.Ledger
	now        func() time.Time
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// AuthorizerOption is a functional option for configuring Authorizer.
type AuthorizerOption func(*Authorizer)

// WithAuthorizerClock overrides time.Now.
func WithAuthorizerClock(now func() time.Time) AuthorizerOption {
	return func(a *Authorizer) {
		if now != nil {
			a.now = now
		}
	}
}

// WithAuthorizerLogger sets the logger.
func WithAuthorizerLogger(logger *zap.Logger) AuthorizerOption {
	return func(a *Authorizer) { a.logger = logging.OrNop(logger) }
}

// WithAuthorizerMetrics sets the metrics sink.
func WithAuthorizerMetrics(m *metrics.Metrics) AuthorizerOption {
	return func(a *Authorizer) { a.metrics = m }
}

// NewAuthorizer creates an authorizer.
func NewAuthorizer(identities store.IdentityStore, perms store.PermissionStore, ledger *audit.Ledger, opts ...AuthorizerOption) *Authorizer {
	a := &Authorizer{
		identities: identities,
		perms:      perms,
		ledger:     ledger,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// decide resolves permission for identityID. Resolution order:
//  1. a grant current at now decides outright;
//  2. otherwise the identity's role mapping, absent meaning deny;
//  3. every condition on the mapping must hold.
//
// Unknown and inactive identities hold no permissions.
func (a *Authorizer) decide(ctx context.Context, identityID, permission string, actx *Context) (bool, string, error) {
	ident, err := a.identities.GetIdentity(ctx, identityID)
	if store.IsNotFound(err) {
		return false, sourceDefault, nil
	}
	if err != nil {
		return false, "", store.Integrity("authz.identity", err)
	}
	if !ident.Active {
		return false, sourceDefault, nil
	}

	grant, err := a.perms.FindCurrentGrant(ctx, identityID, permission, a.now().UTC())
	switch {
	case err == nil:
		return grant.Allow, sourceGrant, nil
	case !store.IsNotFound(err):
		return false, "", store.Integrity("authz.grant", err)
	}

	rp, err := a.perms.GetRolePermission(ctx, ident.Role, permission)
	if store.IsNotFound(err) {
		return false, sourceDefault, nil
	}
	if err != nil {
		return false, "", store.Integrity("authz.role_permission", err)
	}
	for _, c := range rp.Conditions {
		if !evaluate(c, ident, actx) {
			return false, sourceCondition, nil
		}
	}
	return true, sourceRole, nil
}

// HasPermission reports whether identityID holds permission in actx.
// A denial is audited; an error means the decision could not be made and
// must be treated as a denial by the caller.
func (a *Authorizer) HasPermission(ctx context.Context, identityID, permission string, actx *Context) (bool, error) {
	return a.check(ctx, identityID, permission, actx, audit.Failure{
		ActorID:    identityID,
		Action:     audit.ActionPermissionDenied,
		EntityType: "permission",
		EntityID:   permission,
		Message:    "permission=" + permission,
	})
}

func (a *Authorizer) check(ctx context.Context, identityID, permission string, actx *Context, denial audit.Failure) (bool, error) {
	if err := ValidatePermission(permission); err != nil {
		return false, err
	}
	allowed, source, err := a.decide(ctx, identityID, permission, actx)
	if err != nil {
		a.logger.Error("AC-3: permission resolution failed",
			zap.String("identity_id", identityID),
			zap.String("permission", permission),
			zap.Error(err),
		)
		return false, err
	}
	a.metrics.AuthzDecision(source, allowed)
	a.logger.Debug("AC-3: permission decision",
		zap.String("identity_id", identityID),
		zap.String("permission", permission),
		zap.String("source", source),
		zap.Bool("allowed", allowed),
	)
	if allowed {
		return true, nil
	}
	if err := a.ledger.RecordFailure(ctx, denial); err != nil {
		return false, err
	}
	return false, nil
}

// CheckFieldAccess records the access attempt and then decides the
// synthesised permission entityType.field.accessType. The record is
// written whatever the outcome.
func (a *Authorizer) CheckFieldAccess(ctx context.Context, identityID, entityType, entityID, field string, accessType store.AccessType) (bool, error) {
	if err := a.ledger.RecordFieldAccess(ctx, store.FieldAccessRecord{
		AccessorID: identityID,
		EntityType: entityType,
		EntityID:   entityID,
		Field:      field,
		AccessType: accessType,
	}); err != nil {
		return false, err
	}

	permission := FieldPermission(entityType, field, accessType)
	return a.check(ctx, identityID, permission, nil, audit.Failure{
		ActorID:    identityID,
		Action:     audit.ActionFieldAccessDenied,
		EntityType: entityType,
		EntityID:   entityID,
		Message:    "permission=" + permission,
		Category:   store.CategoryDataAccess,
	})
}

// =============================================================================
// ADMINISTRATIVE OVERRIDES
// =============================================================================

// Grant stores an individual allow or deny. ID, CreatedAt and GrantedBy
// are filled in. Always audited.
func (a *Authorizer) Grant(ctx context.Context, g store.PermissionGrant, actor string) (store.PermissionGrant, error) {
	if err := ValidatePermission(g.Permission); err != nil {
		return store.PermissionGrant{}, err
	}
	if g.ValidFrom != nil && g.ValidUntil != nil && !g.ValidFrom.Before(*g.ValidUntil) {
		return store.PermissionGrant{}, fmt.Errorf("%w: valid_from must precede valid_until", ErrInvalidGrant)
	}
	if _, err := a.identities.GetIdentity(ctx, g.IdentityID); err != nil {
		if store.IsNotFound(err) {
			return store.PermissionGrant{}, err
		}
		return store.PermissionGrant{}, store.Integrity("authz.grant_identity", err)
	}

	now := a.now().UTC()
	g.ID = ids.NewUUID()
	g.CreatedAt = now
	g.GrantedBy = actor
	if err := a.perms.PutGrant(ctx, g); err != nil {
		return store.PermissionGrant{}, store.Integrity("authz.put_grant", err)
	}

	after := marshal(g)
	_, err := a.ledger.Record(ctx, store.AuditEntry{
		ActorID:    actor,
		Action:     audit.ActionGrantCreated,
		EntityType: audit.EntityGrant,
		EntityID:   g.ID,
		After:      &after,
		Success:    true,
		Severity:   store.SeverityHigh,
		Category:   store.CategoryAdministration,
		Message:    fmt.Sprintf("identity=%s permission=%s allow=%t", g.IdentityID, g.Permission, g.Allow),
	})
	if err != nil {
		return store.PermissionGrant{}, err
	}
	return g, nil
}

// Grants lists an identity's grants, newest first.
func (a *Authorizer) Grants(ctx context.Context, identityID string) ([]store.PermissionGrant, error) {
	grants, err := a.perms.ListGrants(ctx, identityID)
	if err != nil {
		return nil, store.Integrity("authz.list_grants", err)
	}
	return grants, nil
}

// SetRolePermission creates or replaces a role mapping. Always audited
// with the before and after values.
func (a *Authorizer) SetRolePermission(ctx context.Context, rp store.RolePermission, actor string) error {
	if rp.Role == "" {
		return fmt.Errorf("%w: role required", ErrInvalidPermission)
	}
	if err := ValidatePermission(rp.Permission); err != nil {
		return err
	}
	if err := validateConditions(rp.Conditions); err != nil {
		return err
	}

	var before *string
	prev, err := a.perms.GetRolePermission(ctx, rp.Role, rp.Permission)
	switch {
	case err == nil:
		s := marshal(prev)
		before = &s
	case !store.IsNotFound(err):
		return store.Integrity("authz.get_role_permission", err)
	}

	if err := a.perms.PutRolePermission(ctx, rp); err != nil {
		return store.Integrity("authz.put_role_permission", err)
	}
	after := marshal(rp)
	_, err = a.ledger.Record(ctx, store.AuditEntry{
		ActorID:    actor,
		Action:     audit.ActionRolePermissionSet,
		EntityType: audit.EntityRolePermission,
		EntityID:   rp.Role + ":" + rp.Permission,
		Before:     before,
		After:      &after,
		Success:    true,
		Severity:   store.SeverityHigh,
		Category:   store.CategoryAdministration,
	})
	return err
}

// RemoveRolePermission deletes a role mapping. Always audited.
func (a *Authorizer) RemoveRolePermission(ctx context.Context, role, permission, actor string) error {
	prev, err := a.perms.GetRolePermission(ctx, role, permission)
	if err != nil {
		if store.IsNotFound(err) {
			return err
		}
		return store.Integrity("authz.get_role_permission", err)
	}
	if err := a.perms.DeleteRolePermission(ctx, role, permission); err != nil {
		return store.Integrity("authz.delete_role_permission", err)
	}
	before := marshal(prev)
	_, err = a.ledger.Record(ctx, store.AuditEntry{
		ActorID:    actor,
		Action:     audit.ActionRolePermissionDrop,
		EntityType: audit.EntityRolePermission,
		EntityID:   role + ":" + permission,
		Before:     &before,
		Success:    true,
		Severity:   store.SeverityHigh,
		Category:   store.CategoryAdministration,
	})
	return err
}

// RolePermissions lists a role's mappings.
func (a *Authorizer) RolePermissions(ctx context.Context, role string) ([]store.RolePermission, error) {
	rps, err := a.perms.ListRolePermissions(ctx, role)
	if err != nil {
		return nil, store.Integrity("authz.list_role_permissions", err)
	}
	return rps, nil
}

// marshal renders v for the before/after audit columns.
func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}
