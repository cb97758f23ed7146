// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package access provides account lockout and permission resolution.
//
// This file implements AC-7 (Unsuccessful Logon Attempts).
package access

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/lexguard/internal/logging"
	"github.com/jeranaias/lexguard/internal/metrics"
	"github.com/jeranaias/lexguard/internal/security/audit"
	"github.com/jeranaias/lexguard/internal/store"
)

// =============================================================================
// AC-7 CONSTANTS
// =============================================================================

const (
	// DefaultMaxAttempts is the default number of failed attempts before lockout.
	// Per AC-7(a), this is typically 3 consecutive failures.
	DefaultMaxAttempts = 3

	// DefaultLockoutDuration is the default lockout duration.
	// Per AC-7(b), this is typically 15 minutes.
	DefaultLockoutDuration = 15 * time.Minute
)

// GuardConfig holds the lockout thresholds.
type GuardConfig struct {
	// MaxAttempts is the number of consecutive failures that locks the
	// account. 0 locks on the first failure.
	MaxAttempts int `toml:"max_attempts"`

	// LockoutDuration is how long a lock lasts without an admin unlock.
	LockoutDuration time.Duration `toml:"lockout_duration"`
}

// DefaultGuardConfig returns 3 attempts and a 15 minute lock.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxAttempts:     DefaultMaxAttempts,
		LockoutDuration: DefaultLockoutDuration,
	}
}

// FailureResult is the outcome of RecordFailure.
type FailureResult struct {
	Locked            bool       `json:"locked"`
	AttemptsRemaining int        `json:"attempts_remaining"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
}

// =============================================================================
// GUARD
// =============================================================================

// Guard tracks failed logins and lock windows per AC-7. All state lives
// in the LockoutStore; updates are read-modify-write under the store's
// row lock.
type Guard struct {
	cfg     GuardConfig
	store   store.LockoutStore
	ledger  *audit.Ledger
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// GuardOption is a functional option for configuring Guard.
type GuardOption func(*Guard)

// WithGuardClock overrides time.Now.
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithGuardLogger sets the logger.
func WithGuardLogger(logger *zap.Logger) GuardOption {
	return func(g *Guard) { g.logger = logging.OrNop(logger) }
}

// WithGuardMetrics sets the metrics sink.
func WithGuardMetrics(m *metrics.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// NewGuard creates a guard.
func NewGuard(cfg GuardConfig, st store.LockoutStore, ledger *audit.Ledger, opts ...GuardOption) *Guard {
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = DefaultLockoutDuration
	}
	g := &Guard{
		cfg:    cfg,
		store:  st,
		ledger: ledger,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Config returns the thresholds in use.
func (g *Guard) Config() GuardConfig { return g.cfg }

// RecordFailure counts a failed attempt. Reaching MaxAttempts opens a lock
// window. Attempts made while a lock is open leave the counter alone.
// An expired lock is cleared here, but the counter only resets on success,
// so the first failure after expiry locks again.
func (g *Guard) RecordFailure(ctx context.Context, identityID string) (FailureResult, error) {
	now := g.now().UTC()
	var (
		locked  bool
		expired *time.Time
	)

	state, err := g.store.ModifyLockout(ctx, identityID, func(s *store.LockoutState) error {
		locked = false
		expired = nil
		if s.LockedAt(now) {
			return nil
		}
		if s.LockedUntil != nil {
			expired = s.LockedUntil
			s.LockedUntil = nil
		}
		s.FailedAttempts++
		s.LastFailedAt = &now
		if s.FailedAttempts >= g.cfg.MaxAttempts {
			until := now.Add(g.cfg.LockoutDuration)
			s.LockedUntil = &until
			locked = true
		}
		return nil
	})
	if err != nil {
		if store.IsNotFound(err) {
			return FailureResult{}, err
		}
		return FailureResult{}, store.Integrity("lockout.record_failure", err)
	}

	res := FailureResult{
		Locked:            state.LockedAt(now),
		AttemptsRemaining: max(g.cfg.MaxAttempts-state.FailedAttempts, 0),
		LockedUntil:       state.LockedUntil,
	}
	if res.Locked {
		res.AttemptsRemaining = 0
	}

	if expired != nil {
		if err := g.recordExpiry(ctx, identityID, *expired); err != nil {
			return res, err
		}
	}
	if locked {
		g.metrics.Lockout()
		g.logger.Warn("AC-7: account locked",
			zap.String("identity_id", identityID),
			zap.Int("failed_attempts", state.FailedAttempts),
			zap.Time("locked_until", *state.LockedUntil),
		)
		if _, err := g.ledger.Record(ctx, store.AuditEntry{
			ActorID:    identityID,
			Action:     audit.ActionLockout,
			EntityType: audit.EntityIdentity,
			EntityID:   identityID,
			Success:    true,
			Severity:   store.SeverityHigh,
			Category:   store.CategoryAccount,
			Message: fmt.Sprintf("failed_attempts=%d locked_until=%s",
				state.FailedAttempts, state.LockedUntil.Format(time.RFC3339)),
		}); err != nil {
			return res, err
		}
	}
	return res, nil
}

// RecordSuccess resets the counter and clears any lock.
func (g *Guard) RecordSuccess(ctx context.Context, identityID string) error {
	now := g.now().UTC()
	var (
		hadLock bool
		expired *time.Time
	)
	_, err := g.store.ModifyLockout(ctx, identityID, func(s *store.LockoutState) error {
		hadLock, expired = false, nil
		if s.LockedUntil != nil {
			if s.LockedAt(now) {
				hadLock = true
			} else {
				expired = s.LockedUntil
			}
		}
		s.FailedAttempts = 0
		s.LockedUntil = nil
		return nil
	})
	if err != nil {
		if store.IsNotFound(err) {
			return err
		}
		return store.Integrity("lockout.record_success", err)
	}
	if expired != nil {
		return g.recordExpiry(ctx, identityID, *expired)
	}
	if hadLock {
		_, err = g.ledger.Record(ctx, store.AuditEntry{
			ActorID:    identityID,
			Action:     audit.ActionUnlock,
			EntityType: audit.EntityIdentity,
			EntityID:   identityID,
			Success:    true,
			Severity:   store.SeverityLow,
			Category:   store.CategoryAccount,
			Message:    "lock cleared by successful authentication",
		})
	}
	return err
}

// recordExpiry audits a lock window that ran out on its own. The lock is
// cleared lazily, so this is written by the first update that sees it.
func (g *Guard) recordExpiry(ctx context.Context, identityID string, until time.Time) error {
	g.logger.Info("AC-7: account lock expired",
		zap.String("identity_id", identityID),
		zap.Time("locked_until", until),
	)
	_, err := g.ledger.Record(ctx, store.AuditEntry{
		ActorID:    identityID,
		Action:     audit.ActionLockExpired,
		EntityType: audit.EntityIdentity,
		EntityID:   identityID,
		Success:    true,
		Severity:   store.SeverityLow,
		Category:   store.CategoryAccount,
		Message:    "locked_until=" + until.UTC().Format(time.RFC3339),
	})
	return err
}

// IsLocked reports whether a lock window is open. An expired lock counts
// as unlocked without any explicit clear. Unknown identities are not
// locked.
func (g *Guard) IsLocked(ctx context.Context, identityID string) (bool, error) {
	state, err := g.store.GetLockout(ctx, identityID)
	if store.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, store.Integrity("lockout.is_locked", err)
	}
	return state.LockedAt(g.now()), nil
}

// Status returns the raw lockout state.
func (g *Guard) Status(ctx context.Context, identityID string) (store.LockoutState, error) {
	state, err := g.store.GetLockout(ctx, identityID)
	if err != nil && !store.IsNotFound(err) {
		return store.LockoutState{}, store.Integrity("lockout.status", err)
	}
	return state, err
}

// AdminUnlock clears the counter and lock immediately. AC-7(b).
func (g *Guard) AdminUnlock(ctx context.Context, identityID, actor string) error {
	var prev store.LockoutState
	_, err := g.store.ModifyLockout(ctx, identityID, func(s *store.LockoutState) error {
		prev = *s
		s.FailedAttempts = 0
		s.LockedUntil = nil
		return nil
	})
	if err != nil {
		if store.IsNotFound(err) {
			return err
		}
		return store.Integrity("lockout.admin_unlock", err)
	}

	g.logger.Info("AC-7: account unlocked by administrator",
		zap.String("identity_id", identityID),
		zap.String("actor", actor),
	)
	_, err = g.ledger.Record(ctx, store.AuditEntry{
		ActorID:    actor,
		Action:     audit.ActionAdminUnlock,
		EntityType: audit.EntityIdentity,
		EntityID:   identityID,
		Success:    true,
		Severity:   store.SeverityHigh,
		Category:   store.CategoryAdministration,
		Message: fmt.Sprintf("previous_attempts=%d was_locked=%t",
			prev.FailedAttempts, prev.LockedAt(g.now())),
	})
	return err
}
