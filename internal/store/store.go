// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store defines the persisted schema surface consumed by the
// identity and trust core.
//
// Every piece of cross-request state (sessions, lockout counters, grants,
// credentials, enrollments, audit records) lives behind these interfaces so
// that several process instances can share one transactional backend. The
// security components hold no mutable state of their own.
//
// Implementations must provide the atomicity documented on each method;
// the components rely on it for the session cap, lockout counters,
// single-use backup codes and the audit hash chain.
package store

import (
	"context"
	"time"
)

// =============================================================================
// SUB-STORES
// =============================================================================

// IdentityStore persists principals.
type IdentityStore interface {
	CreateIdentity(ctx context.Context, identity Identity) error
	GetIdentity(ctx context.Context, id string) (Identity, error)
	GetIdentityByUsername(ctx context.Context, username string) (Identity, error)
	SetIdentityActive(ctx context.Context, id string, active bool) error
}

// LockoutStore persists failed-attempt counters and lock windows.
type LockoutStore interface {
	GetLockout(ctx context.Context, identityID string) (LockoutState, error)

	// ModifyLockout runs fn against the current state and persists the
	// result. The read and the write happen in one transaction holding the
	// identity row lock, so concurrent callers never lose an update.
	ModifyLockout(ctx context.Context, identityID string, fn func(*LockoutState) error) (LockoutState, error)
}

// CredentialStore persists password hashes and reuse history.
type CredentialStore interface {
	GetCredential(ctx context.Context, identityID string) (Credential, error)

	// ModifyCredential runs fn against the current credential (a zero
	// Credential when none exists yet) and persists the result atomically.
	ModifyCredential(ctx context.Context, identityID string, fn func(*Credential) error) (Credential, error)

	// SetMustChange flags the credential for rotation at next login.
	SetMustChange(ctx context.Context, identityID string, mustChange bool) error
}

// MFAStore persists confirmed MFA enrollments and backup codes.
type MFAStore interface {
	GetEnrollment(ctx context.Context, identityID string) (MFAEnrollment, error)

	// SaveEnrollment replaces any previous enrollment and its backup codes
	// in a single transaction.
	SaveEnrollment(ctx context.Context, enrollment MFAEnrollment, codes []BackupCode) error

	// DeleteEnrollment removes the enrollment and all of its backup codes.
	DeleteEnrollment(ctx context.Context, identityID string) error

	// AdvanceTOTPStep records step as used. It reports false, without
	// changing anything, when step is not strictly greater than the last
	// recorded step.
	AdvanceTOTPStep(ctx context.Context, identityID string, step int64) (bool, error)

	// ListUnusedBackupCodes returns the codes that have not been consumed.
	ListUnusedBackupCodes(ctx context.Context, identityID string) ([]BackupCode, error)

	// ConsumeBackupCode marks a code as used. Exactly one caller observes
	// true for any given code.
	ConsumeBackupCode(ctx context.Context, codeID string, at time.Time) (bool, error)
}

// SessionStore persists sessions.
type SessionStore interface {
	// InsertSessionCapped inserts session after terminating, in the same
	// transaction, as many of the identity's active sessions as needed to
	// keep the active count at or below maxActive. Victims are chosen by
	// least-recent activity, ties broken by earliest creation. The
	// terminated sessions are returned. maxActive <= 0 disables the cap.
	InsertSessionCapped(ctx context.Context, session Session, maxActive int, now time.Time) ([]Session, error)

	GetSessionByTokenHash(ctx context.Context, tokenHash string) (Session, error)

	// TouchSession moves last activity and expiry forward. Values earlier
	// than the stored ones are ignored; terminated sessions are untouched.
	TouchSession(ctx context.Context, sessionID string, lastActivity, expiresAt time.Time) error

	// TerminateSession stamps termination metadata and reports whether the
	// session was still active.
	TerminateSession(ctx context.Context, sessionID, reason string, at time.Time) (bool, error)

	// TerminateIdentitySessions terminates every non-terminated session of
	// the identity except exceptSessionID (which may be empty).
	TerminateIdentitySessions(ctx context.Context, identityID, exceptSessionID, reason string, at time.Time) (int, error)

	ListActiveSessions(ctx context.Context, identityID string, now time.Time) ([]Session, error)
}

// PermissionStore persists role mappings and individual grants.
type PermissionStore interface {
	GetRolePermission(ctx context.Context, role, permission string) (RolePermission, error)
	PutRolePermission(ctx context.Context, rp RolePermission) error
	DeleteRolePermission(ctx context.Context, role, permission string) error
	ListRolePermissions(ctx context.Context, role string) ([]RolePermission, error)

	// FindCurrentGrant returns the grant for (identity, permission) whose
	// validity window covers now. When several are current a deny wins,
	// then the most recently created.
	FindCurrentGrant(ctx context.Context, identityID, permission string, now time.Time) (PermissionGrant, error)
	PutGrant(ctx context.Context, grant PermissionGrant) error
	ListGrants(ctx context.Context, identityID string) ([]PermissionGrant, error)
}

// AuditStore persists append-only records.
type AuditStore interface {
	// AppendAudit assigns the next sequence number and the previous chain
	// hash to entry, lets seal compute entry.Hash, and inserts it. The
	// whole operation is serialised across writers.
	AppendAudit(ctx context.Context, entry AuditEntry, seal func(*AuditEntry) error) (AuditEntry, error)

	// ListAudit returns entries with Seq > afterSeq in sequence order.
	ListAudit(ctx context.Context, afterSeq int64, limit int) ([]AuditEntry, error)

	// RecentAudit returns the newest entries, newest first.
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)

	InsertFieldAccess(ctx context.Context, record FieldAccessRecord) error
	InsertLoginRecord(ctx context.Context, record LoginRecord) error
	LastSuccessfulLogin(ctx context.Context, identityID string) (LoginRecord, error)
}

// Store is the complete backing store.
type Store interface {
	IdentityStore
	LockoutStore
	CredentialStore
	MFAStore
	SessionStore
	PermissionStore
	AuditStore

	Close() error
}
