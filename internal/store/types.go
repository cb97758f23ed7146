// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"time"

	"github.com/jeranaias/lexguard/internal/security/classification"
)

// =============================================================================
// IDENTITY
// =============================================================================

// Identity is a principal that can authenticate and hold permissions.
type Identity struct {
	ID         string               `json:"id"`
	Username   string               `json:"username"`
	Role       string               `json:"role"`
	Department string               `json:"department"`
	Clearance  classification.Level `json:"clearance"`
	Active     bool                 `json:"active"`
	CreatedAt  time.Time            `json:"created_at"`
}

// Origin fingerprints the network channel a request arrived on.
type Origin struct {
	RemoteAddr string `json:"remote_addr"`
	UserAgent  string `json:"user_agent"`
}

// =============================================================================
// LOCKOUT STATE
// =============================================================================

// LockoutState is the failed-attempt bookkeeping attached to an identity.
type LockoutState struct {
	IdentityID     string     `json:"identity_id"`
	FailedAttempts int        `json:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	LastFailedAt   *time.Time `json:"last_failed_at,omitempty"`
}

// LockedAt reports whether the lock window is still open at now. A lock
// whose window has passed is treated as released.
func (s LockoutState) LockedAt(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// =============================================================================
// CREDENTIAL
// =============================================================================

// Credential holds the current password hash and the hashes of recently
// used passwords, newest first.
type Credential struct {
	IdentityID string    `json:"identity_id"`
	Hash       string    `json:"-"`
	History    []string  `json:"-"`
	MustChange bool      `json:"must_change"`
	ChangedAt  time.Time `json:"changed_at"`
}

// =============================================================================
// MFA
// =============================================================================

// MFAEnrollment is a confirmed TOTP enrollment. The secret is only ever
// stored sealed.
type MFAEnrollment struct {
	IdentityID       string    `json:"identity_id"`
	SecretCiphertext string    `json:"-"`
	Active           bool      `json:"active"`
	LastUsedStep     int64     `json:"last_used_step"`
	ConfirmedAt      time.Time `json:"confirmed_at"`
}

// BackupCode is one sealed single-use recovery code.
type BackupCode struct {
	ID         string     `json:"id"`
	IdentityID string     `json:"identity_id"`
	Ciphertext string     `json:"-"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one authenticated device or channel. Only a hash of the
// bearer token is persisted.
type Session struct {
	ID                string     `json:"id"`
	TokenHash         string     `json:"-"`
	IdentityID        string     `json:"identity_id"`
	CreatedAt         time.Time  `json:"created_at"`
	LastActivityAt    time.Time  `json:"last_activity_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	AbsoluteExpiresAt time.Time  `json:"absolute_expires_at"`
	Origin            Origin     `json:"origin"`
	TerminatedAt      *time.Time `json:"terminated_at,omitempty"`
	TerminationReason string     `json:"termination_reason,omitempty"`
}

// Termination reasons stamped on ended sessions.
const (
	TerminationLogout        = "logout"
	TerminationCapacity      = "capacity"
	TerminationIdle          = "idle_timeout"
	TerminationLifetime      = "max_lifetime"
	TerminationAdmin         = "admin"
	TerminationPasswordReset = "password_change"
	TerminationLogoutAll     = "logout_all"
)

// Terminated reports whether the session has been explicitly ended.
func (s Session) Terminated() bool {
	return s.TerminatedAt != nil
}

// ActiveAt reports whether the session is usable at now.
func (s Session) ActiveAt(now time.Time) bool {
	return !s.Terminated() && now.Before(s.ExpiresAt)
}

// =============================================================================
// PERMISSIONS
// =============================================================================

// Condition is a constraint attached to a role permission. Kind names one
// of the closed set of rule kinds understood by the authorizer.
type Condition struct {
	Kind      string               `json:"kind" yaml:"kind"`
	Clearance classification.Level `json:"clearance,omitempty" yaml:"clearance,omitempty"`
}

// RolePermission is the default mapping from a role to a permission.
type RolePermission struct {
	Role       string      `json:"role" yaml:"role"`
	Permission string      `json:"permission" yaml:"permission"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// PermissionGrant is an explicit per-identity allow or deny that overrides
// the role mapping while its window is current.
type PermissionGrant struct {
	ID         string     `json:"id"`
	IdentityID string     `json:"identity_id"`
	Permission string     `json:"permission"`
	Allow      bool       `json:"allow"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	GrantedBy  string     `json:"granted_by"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CurrentAt reports whether now falls inside the grant's validity window.
// Open bounds are unbounded; the upper bound is exclusive.
func (g PermissionGrant) CurrentAt(now time.Time) bool {
	if g.ValidFrom != nil && now.Before(*g.ValidFrom) {
		return false
	}
	if g.ValidUntil != nil && !now.Before(*g.ValidUntil) {
		return false
	}
	return true
}

// =============================================================================
// AUDIT RECORDS
// =============================================================================

// Severity ranks audit entries.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category groups audit entries by subsystem.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategorySession        Category = "session"
	CategoryAccount        Category = "account"
	CategoryCredential     Category = "credential"
	CategoryMFA            Category = "mfa"
	CategoryDataAccess     Category = "data_access"
	CategoryAdministration Category = "administration"
)

// AuditEntry is an append-only record of a security-relevant action.
// Seq, PrevHash and Hash are assigned when the entry is appended.
type AuditEntry struct {
	Seq          int64     `json:"seq"`
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	ActorID      string    `json:"actor_id"`
	Action       string    `json:"action"`
	EntityType   string    `json:"entity_type,omitempty"`
	EntityID     string    `json:"entity_id,omitempty"`
	Before       *string   `json:"before,omitempty"`
	After        *string   `json:"after,omitempty"`
	Success      bool      `json:"success"`
	Message      string    `json:"message,omitempty"`
	Severity     Severity  `json:"severity"`
	Category     Category  `json:"category"`
	PII          bool      `json:"pii"`
	Confidential bool      `json:"confidential"`
	Origin       Origin    `json:"origin"`
	PrevHash     string    `json:"prev_hash"`
	Hash         string    `json:"hash"`
}

// AccessType is the kind of field access being recorded.
type AccessType string

const (
	AccessRead   AccessType = "read"
	AccessWrite  AccessType = "write"
	AccessExport AccessType = "export"
)

// FieldAccessRecord is an append-only record of one field-level access.
type FieldAccessRecord struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	AccessorID string     `json:"accessor_id"`
	EntityType string     `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Field      string     `json:"field"`
	AccessType AccessType `json:"access_type"`
}

// LoginRecord is one entry of an identity's login history.
type LoginRecord struct {
	ID            string    `json:"id"`
	IdentityID    string    `json:"identity_id"`
	Timestamp     time.Time `json:"timestamp"`
	Method        string    `json:"method"`
	Success       bool      `json:"success"`
	MFAUsed       bool      `json:"mfa_used"`
	Origin        Origin    `json:"origin"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Suspicious    bool      `json:"suspicious"`
}
