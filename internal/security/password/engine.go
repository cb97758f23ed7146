// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package password

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/lexguard/internal/logging"
	"github.com/jeranaias/lexguard/internal/metrics"
	"github.com/jeranaias/lexguard/internal/security/audit"
	"github.com/jeranaias/lexguard/internal/store"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine validates, hashes and rotates credentials.
// IA-5(1): password-based authentication.
type Engine struct {
	policy   Policy
	hasher   Hasher
	creds    store.CredentialStore
	lockouts store.LockoutStore
	ledger   *audit.Ledger
	now      func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Metrics

	// dummy is verified against when the identity is unknown, so a missing
	// account costs the same as a wrong password.
	dummy string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(logger) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithHasher overrides the hasher selected by Policy.Algorithm.
func WithHasher(h Hasher) Option {
	return func(e *Engine) {
		if h != nil {
			e.hasher = h
		}
	}
}

// NewEngine builds an engine enforcing policy.
func NewEngine(policy Policy, creds store.CredentialStore, lockouts store.LockoutStore, ledger *audit.Ledger, opts ...Option) (*Engine, error) {
	if policy.ReuseWindow < 0 {
		return nil, fmt.Errorf("reuse window must not be negative, got %d", policy.ReuseWindow)
	}
	hasher, err := NewHasher(policy.Algorithm, policy.BcryptCost)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		policy:   policy,
		hasher:   hasher,
		creds:    creds,
		lockouts: lockouts,
		ledger:   ledger,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.dummy, err = e.hasher.Hash("lexguard-dummy-credential"); err != nil {
		return nil, err
	}
	return e, nil
}

// Policy returns the rules the engine enforces.
func (e *Engine) Policy() Policy { return e.policy }

// Validate checks candidate against the policy. It has no side effects.
func (e *Engine) Validate(candidate string) []Violation {
	return e.policy.Validate(candidate)
}

// Hash returns a salted adaptive digest of candidate. A failure here (for
// example an exhausted RNG) is fatal to the caller.
func (e *Engine) Hash(candidate string) (string, error) {
	return e.hasher.Hash(Normalize(candidate))
}

// Verify reports whether candidate matches digest.
func (e *Engine) Verify(candidate, digest string) bool {
	return verifyAny(Normalize(candidate), digest)
}

// VerifyDummy burns the same work as Verify for an unknown identity and
// always reports false.
func (e *Engine) VerifyDummy(candidate string) bool {
	_ = e.Verify(candidate, e.dummy)
	return false
}

// Authenticate checks candidate against the identity's current credential.
// A missing credential reports false.
func (e *Engine) Authenticate(ctx context.Context, identityID, candidate string) (bool, error) {
	cred, err := e.creds.GetCredential(ctx, identityID)
	if store.IsNotFound(err) {
		return e.VerifyDummy(candidate), nil
	}
	if err != nil {
		return false, store.Integrity("password.authenticate", err)
	}
	if cred.Hash == "" {
		return e.VerifyDummy(candidate), nil
	}
	return e.Verify(candidate, cred.Hash), nil
}

// MustChange reports whether the identity has to rotate its password.
func (e *Engine) MustChange(ctx context.Context, identityID string) (bool, error) {
	cred, err := e.creds.GetCredential(ctx, identityID)
	if store.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, store.Integrity("password.must_change", err)
	}
	return cred.MustChange, nil
}

// =============================================================================
// REUSE AND ROTATION
// =============================================================================

// window trims the stored hashes to the reuse window: the current hash
// plus ReuseWindow-1 predecessors.
func (e *Engine) window(cred store.Credential) []string {
	k := e.policy.ReuseWindow
	if k <= 0 {
		return nil
	}
	hashes := make([]string, 0, k)
	if cred.Hash != "" {
		hashes = append(hashes, cred.Hash)
	}
	for _, h := range cred.History {
		if len(hashes) >= k {
			break
		}
		hashes = append(hashes, h)
	}
	return hashes
}

// CheckReuse reports true when candidate does not match any of the last
// ReuseWindow hashes held for the identity.
func (e *Engine) CheckReuse(ctx context.Context, identityID, candidate string) (bool, error) {
	cred, err := e.creds.GetCredential(ctx, identityID)
	if store.IsNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, store.Integrity("password.check_reuse", err)
	}
	for _, h := range e.window(cred) {
		if e.Verify(candidate, h) {
			return false, nil
		}
	}
	return true, nil
}

// CommitRotation makes candidate the current password. The previous hash
// moves to history, which is capped so the window including the current
// hash stays at ReuseWindow. MustChange is cleared and the failed-attempt
// counter reset.
func (e *Engine) CommitRotation(ctx context.Context, identityID, candidate string) error {
	digest, err := e.Hash(candidate)
	if err != nil {
		return err
	}
	now := e.now().UTC()

	keep := e.policy.ReuseWindow - 1
	if keep < 0 {
		keep = 0
	}
	_, err = e.creds.ModifyCredential(ctx, identityID, func(c *store.Credential) error {
		history := c.History
		if c.Hash != "" {
			history = append([]string{c.Hash}, history...)
		}
		if len(history) > keep {
			history = history[:keep]
		}
		c.Hash = digest
		c.History = history
		c.MustChange = false
		c.ChangedAt = now
		return nil
	})
	if err != nil {
		return store.Integrity("password.commit_rotation", err)
	}

	_, err = e.lockouts.ModifyLockout(ctx, identityID, func(s *store.LockoutState) error {
		s.FailedAttempts = 0
		return nil
	})
	if err != nil {
		return store.Integrity("password.reset_lockout", err)
	}

	if _, err := e.ledger.Record(ctx, store.AuditEntry{
		ActorID:    identityID,
		Action:     audit.ActionPasswordRotated,
		EntityType: audit.EntityCredential,
		EntityID:   identityID,
		Success:    true,
		Category:   store.CategoryCredential,
		Severity:   store.SeverityLow,
	}); err != nil {
		return err
	}

	e.logger.Info("IA-5: password rotated", zap.String("identity_id", identityID))
	return nil
}

// Change validates candidate, rejects reuse and commits the rotation.
// Policy failures come back as violations with a nil error.
func (e *Engine) Change(ctx context.Context, identityID, candidate string) ([]Violation, error) {
	violations := e.Validate(candidate)
	if len(violations) == 0 {
		fresh, err := e.CheckReuse(ctx, identityID, candidate)
		if err != nil {
			return nil, err
		}
		if !fresh {
			violations = append(violations, Violation{
				Rule:    RuleReused,
				Message: fmt.Sprintf("must not match any of the last %d passwords", e.policy.ReuseWindow),
			})
		}
	}

	if len(violations) > 0 {
		rules := make([]string, len(violations))
		for i, v := range violations {
			rules[i] = string(v.Rule)
			e.metrics.PasswordViolation(string(v.Rule))
		}
		if err := e.ledger.RecordFailure(ctx, audit.Failure{
			ActorID:    identityID,
			Action:     audit.ActionPasswordRejected,
			EntityType: audit.EntityCredential,
			EntityID:   identityID,
			Message:    "rules=" + strings.Join(rules, ","),
			Severity:   store.SeverityLow,
			Category:   store.CategoryCredential,
		}); err != nil {
			return nil, err
		}
		return violations, nil
	}

	if err := e.CommitRotation(ctx, identityID, candidate); err != nil {
		return nil, err
	}
	return nil, nil
}

// RequireChange flags the identity for rotation at next login.
func (e *Engine) RequireChange(ctx context.Context, identityID, actor string) error {
	if err := e.creds.SetMustChange(ctx, identityID, true); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return store.Integrity("password.require_change", err)
	}
	_, err := e.ledger.Record(ctx, store.AuditEntry{
		ActorID:    actor,
		Action:     audit.ActionPasswordExpired,
		EntityType: audit.EntityCredential,
		EntityID:   identityID,
		Success:    true,
		Category:   store.CategoryAdministration,
		Severity:   store.SeverityMedium,
	})
	return err
}
