// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

// Audit actions written by the security components.
const (
	ActionLogin              = "auth.login"
	ActionLoginDenied        = "auth.login_denied"
	ActionLockout            = "account.locked"
	ActionUnlock             = "account.unlocked"
	ActionLockExpired        = "account.lock_expired"
	ActionAdminUnlock        = "account.admin_unlock"
	ActionIdentityCreated    = "account.created"
	ActionIdentityDisabled   = "account.disabled"
	ActionIdentityEnabled    = "account.enabled"
	ActionPasswordRotated    = "credential.rotated"
	ActionPasswordRejected   = "credential.rejected"
	ActionPasswordExpired    = "credential.change_required"
	ActionMFAEnrolled        = "mfa.enrolled"
	ActionMFAEnrollFailed    = "mfa.enroll_failed"
	ActionMFAVerifyFailed    = "mfa.verify_failed"
	ActionMFABackupUsed      = "mfa.backup_code_used"
	ActionMFADisabled        = "mfa.disabled"
	ActionSessionCreated     = "session.created"
	ActionSessionEvicted     = "session.evicted"
	ActionSessionTerminated  = "session.terminated"
	ActionSessionRevokedAll  = "session.terminated_all"
	ActionPermissionDenied   = "authz.denied"
	ActionGrantCreated       = "authz.grant_created"
	ActionRolePermissionSet  = "authz.role_permission_set"
	ActionRolePermissionDrop = "authz.role_permission_removed"
	ActionFieldAccessDenied  = "data.field_access_denied"
)

// Entity types referenced by audit entries.
const (
	EntityIdentity       = "identity"
	EntitySession        = "session"
	EntityCredential     = "credential"
	EntityMFA            = "mfa_enrollment"
	EntityGrant          = "permission_grant"
	EntityRolePermission = "role_permission"
)
