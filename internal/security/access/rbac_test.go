// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package access

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/lexguard/internal/security/audit"
	"github.com/jeranaias/lexguard/internal/security/classification"
	"github.com/jeranaias/lexguard/internal/store"
	"github.com/jeranaias/lexguard/internal/store/storetest"
)

// =============================================================================
// AC-3 AUTHORIZATION TESTS
// =============================================================================

func (f fixture) authorizer() *Authorizer {
	return NewAuthorizer(f.db, f.db, f.ledger, WithAuthorizerClock(f.clock.Now))
}

func ptr(t time.Time) *time.Time { return &t }

func TestAuthorizer_RoleAndDefaultDeny(t *testing.T) {
	f := newFixture(t)
	a := f.authorizer()
	ctx := context.Background()
	id := storetest.SeedIdentity(t, f.db, "drew").ID

	require.NoError(t, a.SetRolePermission(ctx, store.RolePermission{Role: "attorney", Permission: "case.read"}, "admin"))

	ok, err := a.HasPermission(ctx, id, "case.read", nil)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = a.HasPermission(ctx, id, "case.delete", nil)
	require.NoError(t, err)
	require.False(t, ok)

	entries, err := f.db.RecentAudit(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, audit.ActionPermissionDenied, entries[0].Action)
	require.Equal(t, "case.delete", entries[0].EntityID)
	require.False(t, entries[0].Success)
}

func TestAuthorizer_GrantOverridesRole(t *testing.T) {
	f := newFixture(t)
	a := f.authorizer()
	ctx := context.Background()
	id := storetest.SeedIdentity(t, f.db, "drew").ID
	now := f.clock.Now()

	require.NoError(t, a.SetRolePermission(ctx, store.RolePermission{Role: "attorney", Permission: "case.read"}, "admin"))
	_, err := a.Grant(ctx, store.PermissionGrant{IdentityID: id, Permission: "case.read", Allow: false,
		ValidUntil: ptr(now.Add(time.Hour))}, "admin")
	require.NoError(t, err)

	ok, err := a.HasPermission(ctx, id, "case.read", nil)
	require.NoError(t, err)
	require.False(t, ok, "deny grant beats role")

	f.clock.Advance(time.Hour)
	ok, err = a.HasPermission(ctx, id, "case.read", nil)
	require.NoError(t, err)
	require.True(t, ok, "expired grant no longer applies")

	_, err = a.Grant(ctx, store.PermissionGrant{IdentityID: id, Permission: "billing.export", Allow: true}, "admin")
	require.NoError(t, err)
	ok, err = a.HasPermission(ctx, id, "billing.export", nil)
	require.NoError(t, err)
	require.True(t, ok, "allow grant without any role mapping")

	grants, err := a.Grants(ctx, id)
	require.NoError(t, err)
	require.Len(t, grants, 2)
	require.Equal(t, "admin", grants[0].GrantedBy)
}

func TestAuthorizer_FutureGrantIgnored(t *testing.T) {
	f := newFixture(t)
	a := f.authorizer()
	ctx := context.Background()
	id := storetest.SeedIdentity(t, f.db, "drew").ID

	_, err := a.Grant(ctx, store.PermissionGrant{IdentityID: id, Permission: "case.seal", Allow: true,
		ValidFrom: ptr(f.clock.Now().Add(time.Hour))}, "admin")
	require.NoError(t, err)

	ok, err := a.HasPermission(ctx, id, "case.seal", nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAuthorizer_Conditions(t *testing.T) {
	f := newFixture(t)
	a := f.authorizer()
	ctx := context.Background()
	drew := storetest.SeedIdentity(t, f.db, "drew")
	rules := []store.RolePermission{
		{Role: "attorney", Permission: "case.edit", Conditions: []store.Condition{{Kind: ConditionSameDepartment}}},
		{Role: "attorney", Permission: "client.ssn.read", Conditions: []store.Condition{{Kind: ConditionMinimumClearance, Clearance: classification.LevelSecret}}},
		{Role: "attorney", Permission: "client.notes.read", Conditions: []store.Condition{{Kind: ConditionMinimumClearance, Clearance: classification.LevelConfidential}}},
		{Role: "attorney", Permission: "profile.edit", Conditions: []store.Condition{{Kind: ConditionSelf}}},
		{Role: "attorney", Permission: "case.transfer", Conditions: []store.Condition{
			{Kind: ConditionSameDepartment},
			{Kind: ConditionMinimumClearance, Clearance: classification.LevelConfidential},
		}},
	}
	_, err := a.ApplyPolicy(ctx, rules, "admin")
	require.NoError(t, err)

	tests := []struct {
		name       string
		permission string
		actx       *Context
		want       bool
	}{
		{"same department", "case.edit", &Context{Department: "litigation"}, true},
		{"other department", "case.edit", &Context{Department: "probate"}, false},
		{"department missing from context", "case.edit", nil, false},
		{"clearance too low", "client.ssn.read", nil, false},
		{"clearance equal", "client.notes.read", nil, true},
		{"self", "profile.edit", &Context{TargetIdentityID: drew.ID}, true},
		{"someone else", "profile.edit", &Context{TargetIdentityID: "other"}, false},
		{"all conditions hold", "case.transfer", &Context{Department: "litigation"}, true},
		{"one condition fails", "case.transfer", &Context{Department: "probate"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := a.HasPermission(ctx, drew.ID, tt.permission, tt.actx)
			require.NoError(t, err)
			require.Equal(t, tt.want, ok)
		})
	}
}

func TestAuthorizer_UnknownConditionDenies(t *testing.T) {
	f := newFixture(t)
	a := f.authorizer()
	ctx := context.Background()
	id := storetest.SeedIdentity(t, f.db, "drew").ID

	err := a.SetRolePermission(ctx, store.RolePermission{Role: "attorney", Permission: "case.read",
		Conditions: []store.Condition{{Kind: "office_hours"}}}, "admin")
	require.ErrorIs(t, err, ErrUnknownCondition)

	// Written behind the authorizer's back.
	require.NoError(t, f.db.PutRolePermission(ctx, store.RolePermission{Role: "attorney", Permission: "case.read",
		Conditions: []store.Condition{{Kind: "office_hours"}}}))

	ok, err := a.HasPermission(ctx, id, "case.read", nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAuthorizer_InactiveOrUnknownIdentity(t *testing.T) {
	f := newFixture(t)
	a := f.authorizer()
	ctx := context.Background()
	id := storetest.SeedIdentity(t, f.db, "drew", func(i *store.Identity) { i.Active = false }).ID

	_, err := a.Grant(ctx, store.PermissionGrant{IdentityID: id, Permission: "case.read", Allow: true}, "admin")
	require.NoError(t, err)

	ok, err := a.HasPermission(ctx, id, "case.read", nil)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = a.HasPermission(ctx, "ghost", "case.read", nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAuthorizer_InvalidInput(t *testing.T) {
	f := newFixture(t)
	a := f.authorizer()
	ctx := context.Background()
	id := storetest.SeedIdentity(t, f.db, "drew").ID

	_, err := a.HasPermission(ctx, id, "case read", nil)
	require.ErrorIs(t, err, ErrInvalidPermission)

	now := f.clock.Now()
	_, err = a.Grant(ctx, store.PermissionGrant{IdentityID: id, Permission: "case.read",
		ValidFrom: ptr(now), ValidUntil: ptr(now)}, "admin")
	require.ErrorIs(t, err, ErrInvalidGrant)

	_, err = a.Grant(ctx, store.PermissionGrant{IdentityID: "ghost", Permission: "case.read"}, "admin")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAuthorizer_CheckFieldAccess(t *testing.T) {
	f := newFixture(t)
	a := f.authorizer()
	ctx := context.Background()
	id := storetest.SeedIdentity(t, f.db, "drew").ID

	require.NoError(t, a.SetRolePermission(ctx, store.RolePermission{Role: "attorney", Permission: "client.notes.read"}, "admin"))

	ok, err := a.CheckFieldAccess(ctx, id, "client", "c-1", "notes", store.AccessRead)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = a.CheckFieldAccess(ctx, id, "client", "c-1", "bankAccount", store.AccessExport)
	require.NoError(t, err)
	require.False(t, ok)

	var n int
	require.NoError(t, f.db.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM field_access_records`).Scan(&n))
	require.Equal(t, 2, n, "every attempt is recorded")

	entries, err := f.db.RecentAudit(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, audit.ActionFieldAccessDenied, entries[0].Action)
	require.Equal(t, store.CategoryDataAccess, entries[0].Category)
	require.Equal(t, "permission=client.bankAccount.export", entries[0].Message)
}

func TestAuthorizer_RolePermissionAuditTrail(t *testing.T) {
	f := newFixture(t)
	a := f.authorizer()
	ctx := context.Background()

	rp := store.RolePermission{Role: "paralegal", Permission: "case.read"}
	require.NoError(t, a.SetRolePermission(ctx, rp, "admin"))
	rp.Conditions = []store.Condition{{Kind: ConditionSameDepartment}}
	require.NoError(t, a.SetRolePermission(ctx, rp, "admin"))
	require.NoError(t, a.RemoveRolePermission(ctx, "paralegal", "case.read", "admin"))
	require.ErrorIs(t, a.RemoveRolePermission(ctx, "paralegal", "case.read", "admin"), store.ErrNotFound)

	entries, err := f.db.ListAudit(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Nil(t, entries[0].Before)
	require.NotNil(t, entries[1].Before)
	require.Contains(t, *entries[1].After, ConditionSameDepartment)
	require.Equal(t, audit.ActionRolePermissionDrop, entries[2].Action)

	rps, err := a.RolePermissions(ctx, "paralegal")
	require.NoError(t, err)
	require.Empty(t, rps)
}

// =============================================================================
// POLICY FILE TESTS
// =============================================================================

const samplePolicy = `
roles:
  paralegal:
    - permission: case.read
      conditions:
        - kind: same_department
  attorney:
    - permission: client.ssn.read
      conditions:
        - kind: minimum_clearance
          clearance: secret
    - permission: case.read
`

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicy), 0600))

	rps, err := LoadPolicyFile(path)
	require.NoError(t, err)
	require.Len(t, rps, 3)
	require.Equal(t, store.RolePermission{Role: "attorney", Permission: "case.read"}, rps[0])
	require.Equal(t, "client.ssn.read", rps[1].Permission)
	require.Equal(t, classification.LevelSecret, rps[1].Conditions[0].Clearance)
	require.Equal(t, "paralegal", rps[2].Role)
}

func TestParsePolicy_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown kind":     "roles:\n  a:\n    - permission: x\n      conditions:\n        - kind: moon_phase\n",
		"bad clearance":    "roles:\n  a:\n    - permission: x\n      conditions:\n        - kind: minimum_clearance\n          clearance: cosmic\n",
		"empty permission": "roles:\n  a:\n    - permission: \"\"\n",
		"not yaml":         "roles: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(doc))
			require.Error(t, err)
		})
	}
}
