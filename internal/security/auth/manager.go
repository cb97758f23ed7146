// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/lexguard/internal/ids"
	"github.com/jeranaias/lexguard/internal/logging"
	"github.com/jeranaias/lexguard/internal/metrics"
	"github.com/jeranaias/lexguard/internal/security/audit"
	"github.com/jeranaias/lexguard/internal/store"
)

// ErrIdentityInactive is returned when creating a session for an
// identity that is not active.
var ErrIdentityInactive = errors.New("identity is not active")

// LockChecker reports whether an identity is currently locked out.
type LockChecker interface {
	IsLocked(ctx context.Context, identityID string) (bool, error)
}

// =============================================================================
// SESSION MANAGER
// =============================================================================

// SessionManager issues, validates and revokes sessions per AC-10/AC-12.
type SessionManager struct {
	cfg        Config
	sessions   store.SessionStore
	identities store.IdentityStore
	locks      LockChecker
	ledger     *audit.Ledger
	now        func() time.Time
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Option configures a SessionManager.
type Option func(*SessionManager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *SessionManager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *SessionManager) { m.logger = logging.OrNop(logger) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *SessionManager) { m.metrics = mt }
}

// NewSessionManager creates a session manager. locks may be nil, in which
// case lockout is not consulted.
func NewSessionManager(cfg Config, sessions store.SessionStore, identities store.IdentityStore, locks LockChecker, ledger *audit.Ledger, opts ...Option) *SessionManager {
	m := &SessionManager{
		cfg:        cfg.withDefaults(),
		sessions:   sessions,
		identities: identities,
		locks:      locks,
		ledger:     ledger,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the limits in use.
func (m *SessionManager) Config() Config { return m.cfg }

// expiryAt is the sliding deadline from activity at t, never past the
// absolute deadline.
func (m *SessionManager) expiryAt(t, absolute time.Time) time.Time {
	exp := t.Add(m.cfg.IdleTimeout)
	if exp.After(absolute) {
		return absolute
	}
	return exp
}

// Create issues a session for identityID. When the identity already holds
// MaxSessions active sessions, the least recently active is terminated
// with reason "capacity" in the same transaction as the insert. The token
// is returned once and never stored.
func (m *SessionManager) Create(ctx context.Context, identityID string, origin store.Origin) (string, *store.Session, error) {
	ident, err := m.identities.GetIdentity(ctx, identityID)
	if err != nil {
		if store.IsNotFound(err) {
			return "", nil, err
		}
		return "", nil, store.Integrity("session.identity", err)
	}
	if !ident.Active {
		return "", nil, ErrIdentityInactive
	}

	token, err := newToken()
	if err != nil {
		return "", nil, err
	}
	now := m.now().UTC()
	absolute := now.Add(m.cfg.MaxLifetime)
	sess := store.Session{
		ID:                ids.NewUUID(),
		TokenHash:         HashToken(token),
		IdentityID:        identityID,
		CreatedAt:         now,
		LastActivityAt:    now,
		ExpiresAt:         m.expiryAt(now, absolute),
		AbsoluteExpiresAt: absolute,
		Origin:            origin,
	}

	evicted, err := m.sessions.InsertSessionCapped(ctx, sess, m.cfg.MaxSessions, now)
	if err != nil {
		return "", nil, store.Integrity("session.create", err)
	}
	m.metrics.SessionCreated()
	m.metrics.SessionTerminated(store.TerminationCapacity, len(evicted))

	for _, v := range evicted {
		m.logger.Info("AC-10: session evicted at capacity",
			zap.String("identity_id", identityID),
			zap.String("session_id", v.ID),
		)
		if _, err := m.ledger.Record(ctx, store.AuditEntry{
			ActorID:    identityID,
			Action:     audit.ActionSessionEvicted,
			EntityType: audit.EntitySession,
			EntityID:   v.ID,
			Success:    true,
			Severity:   store.SeverityLow,
			Category:   store.CategorySession,
			Origin:     origin,
			Message:    "reason=" + store.TerminationCapacity,
		}); err != nil {
			return "", nil, err
		}
	}
	if _, err := m.ledger.Record(ctx, store.AuditEntry{
		ActorID:    identityID,
		Action:     audit.ActionSessionCreated,
		EntityType: audit.EntitySession,
		EntityID:   sess.ID,
		Success:    true,
		Category:   store.CategorySession,
		Origin:     origin,
	}); err != nil {
		return "", nil, err
	}
	return token, &sess, nil
}

// Validate checks token. It is invalid when unknown, terminated, past its
// expiry, or owned by an inactive or locked identity. A valid session has
// its activity, and with ExtendOnActivity its expiry, moved forward once
// TouchInterval has elapsed since the last recorded activity.
func (m *SessionManager) Validate(ctx context.Context, token string) (Validation, error) {
	if token == "" {
		return Validation{State: StateUnknown}, nil
	}
	sess, err := m.sessions.GetSessionByTokenHash(ctx, HashToken(token))
	if store.IsNotFound(err) {
		return Validation{State: StateUnknown}, nil
	}
	if err != nil {
		return Validation{}, store.Integrity("session.lookup", err)
	}

	v := Validation{IdentityID: sess.IdentityID, SessionID: sess.ID, ExpiresAt: sess.ExpiresAt}
	now := m.now().UTC()

	if sess.Terminated() {
		v.State = StateTerminated
		return v, nil
	}
	if !now.Before(sess.ExpiresAt) {
		v.State = StateExpired
		return v, m.expire(ctx, sess, now)
	}

	ok, err := m.ownerAllowed(ctx, sess.IdentityID)
	if err != nil {
		return Validation{}, err
	}
	if !ok {
		v.State = StateDenied
		return v, nil
	}

	if now.Sub(sess.LastActivityAt) >= m.cfg.TouchInterval {
		expires := sess.ExpiresAt
		if m.cfg.ExtendOnActivity {
			if next := m.expiryAt(now, sess.AbsoluteExpiresAt); next.After(expires) {
				expires = next
			}
		}
		if err := m.sessions.TouchSession(ctx, sess.ID, now, expires); err != nil {
			return Validation{}, store.Integrity("session.touch", err)
		}
		v.ExpiresAt = expires
	}

	v.Valid = true
	v.State = StateActive
	if v.ExpiresAt.Sub(now) < m.cfg.WarnBefore {
		v.Warn = true
		v.State = StateWarning
	}
	return v, nil
}

func (m *SessionManager) ownerAllowed(ctx context.Context, identityID string) (bool, error) {
	ident, err := m.identities.GetIdentity(ctx, identityID)
	if store.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, store.Integrity("session.identity", err)
	}
	if !ident.Active {
		return false, nil
	}
	if m.locks == nil {
		return true, nil
	}
	locked, err := m.locks.IsLocked(ctx, identityID)
	if err != nil {
		return false, err
	}
	return !locked, nil
}

// expire stamps an expired session with the deadline it missed.
func (m *SessionManager) expire(ctx context.Context, sess store.Session, now time.Time) error {
	reason := store.TerminationIdle
	if !sess.ExpiresAt.Before(sess.AbsoluteExpiresAt) {
		reason = store.TerminationLifetime
	}
	ended, err := m.sessions.TerminateSession(ctx, sess.ID, reason, now)
	if err != nil {
		return store.Integrity("session.expire", err)
	}
	if ended {
		m.metrics.SessionTerminated(reason, 1)
		m.logger.Info("AC-12: session expired",
			zap.String("identity_id", sess.IdentityID),
			zap.String("session_id", sess.ID),
			zap.String("reason", reason),
		)
	}
	return nil
}

// Terminate ends the session holding token. Unknown or already ended
// sessions are a no-op.
func (m *SessionManager) Terminate(ctx context.Context, token, reason string) error {
	sess, err := m.sessions.GetSessionByTokenHash(ctx, HashToken(token))
	if store.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return store.Integrity("session.lookup", err)
	}
	return m.terminate(ctx, sess.ID, sess.IdentityID, reason, sess.IdentityID)
}

// TerminateByID ends a session by ID on behalf of actor.
func (m *SessionManager) TerminateByID(ctx context.Context, sessionID, reason, actor string) error {
	return m.terminate(ctx, sessionID, "", reason, actor)
}

func (m *SessionManager) terminate(ctx context.Context, sessionID, identityID, reason, actor string) error {
	if reason == "" {
		reason = store.TerminationLogout
	}
	ended, err := m.sessions.TerminateSession(ctx, sessionID, reason, m.now().UTC())
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return store.Integrity("session.terminate", err)
	}
	if !ended {
		return nil
	}
	m.metrics.SessionTerminated(reason, 1)
	_, err = m.ledger.Record(ctx, store.AuditEntry{
		ActorID:    actor,
		Action:     audit.ActionSessionTerminated,
		EntityType: audit.EntitySession,
		EntityID:   sessionID,
		Success:    true,
		Category:   store.CategorySession,
		Message:    fmt.Sprintf("reason=%s identity=%s", reason, identityID),
	})
	return err
}

// TerminateAll ends every session of identityID except the one holding
// exceptToken, which may be empty. Used for log out everywhere and for
// de-provisioning; always audited.
func (m *SessionManager) TerminateAll(ctx context.Context, identityID, exceptToken, reason, actor string) (int, error) {
	if reason == "" {
		reason = store.TerminationLogoutAll
	}
	var except string
	if exceptToken != "" {
		sess, err := m.sessions.GetSessionByTokenHash(ctx, HashToken(exceptToken))
		switch {
		case err == nil && sess.IdentityID == identityID:
			except = sess.ID
		case err != nil && !store.IsNotFound(err):
			return 0, store.Integrity("session.lookup", err)
		}
	}

	n, err := m.sessions.TerminateIdentitySessions(ctx, identityID, except, reason, m.now().UTC())
	if err != nil {
		return 0, store.Integrity("session.terminate_all", err)
	}
	m.metrics.SessionTerminated(reason, n)
	m.logger.Info("AC-12: sessions terminated",
		zap.String("identity_id", identityID),
		zap.Int("count", n),
		zap.String("reason", reason),
	)
	_, err = m.ledger.Record(ctx, store.AuditEntry{
		ActorID:    actor,
		Action:     audit.ActionSessionRevokedAll,
		EntityType: audit.EntityIdentity,
		EntityID:   identityID,
		Success:    true,
		Severity:   store.SeverityMedium,
		Category:   store.CategorySession,
		Message:    fmt.Sprintf("reason=%s count=%d", reason, n),
	})
	if err != nil {
		return n, err
	}
	return n, nil
}

// List returns the identity's active sessions.
func (m *SessionManager) List(ctx context.Context, identityID string) ([]store.Session, error) {
	sessions, err := m.sessions.ListActiveSessions(ctx, identityID, m.now().UTC())
	if err != nil {
		return nil, store.Integrity("session.list", err)
	}
	return sessions, nil
}
