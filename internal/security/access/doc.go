// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package access provides account lockout and permission resolution.
//
// This package implements NIST 800-53 AC-* controls:
//   - AC-3: Access Enforcement
//   - AC-6: Least Privilege
//   - AC-7: Unsuccessful Logon Attempts
//
// # Account Lockout (AC-7)
//
// Guard keeps the failed-attempt counter in the store, so every process
// instance sees the same count:
//
//	guard := access.NewGuard(access.DefaultGuardConfig(), st, ledger)
//
//	res, err := guard.RecordFailure(ctx, identityID)
//	if res.Locked {
//	    // Deny until the window passes or an administrator unlocks
//	}
//
// # Permission Resolution (AC-3)
//
// Authorizer resolves a permission in three steps: a current individual
// grant decides outright; otherwise the identity's role mapping applies,
// and every condition on it must hold. Anything else is a denial.
//
//	ok, err := authz.HasPermission(ctx, identityID, "case.delete",
//	    &access.Context{Department: "litigation"})
//
// Denials are always audited. Store failures are returned as errors and
// never turn into an allow.
package access
