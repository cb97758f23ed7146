// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/lexguard/internal/logging"
	"github.com/jeranaias/lexguard/internal/metrics"
	"github.com/jeranaias/lexguard/internal/security/access"
	"github.com/jeranaias/lexguard/internal/security/audit"
	"github.com/jeranaias/lexguard/internal/security/auth"
	"github.com/jeranaias/lexguard/internal/security/classification"
	"github.com/jeranaias/lexguard/internal/security/mfa"
	"github.com/jeranaias/lexguard/internal/security/password"
	"github.com/jeranaias/lexguard/internal/store"
)

// MethodPassword is the login history method for password logins.
const MethodPassword = "password"

// Login failure reasons recorded in login history.
const (
	ReasonUnknownIdentity = "unknown_identity"
	ReasonInactive        = "inactive"
	ReasonLocked          = "locked"
	ReasonBadPassword     = "bad_password"
	ReasonBadMFA          = "bad_mfa"
)

var (
	// ErrUnauthenticated is returned when a token does not name a usable
	// session.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden is returned when the session's identity lacks the
	// permission.
	ErrForbidden = errors.New("forbidden")

	// ErrMissingComponent is returned by NewCore when a component is nil.
	ErrMissingComponent = errors.New("missing security component")
)

// =============================================================================
// OUTCOMES
// =============================================================================

// Outcome is the coarse result of a login. Callers never learn which
// factor failed.
type Outcome int

const (
	// OutcomeDenied covers unknown identities, bad passwords and bad codes.
	OutcomeDenied Outcome = iota
	// OutcomeAuthenticated means a session was issued.
	OutcomeAuthenticated
	// OutcomeMFARequired means the password was accepted and a second
	// factor must be supplied.
	OutcomeMFARequired
	// OutcomeLocked means the account is locked out.
	OutcomeLocked
)

// String returns a string representation of the Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeMFARequired:
		return "mfa_required"
	case OutcomeLocked:
		return "locked"
	default:
		return "denied"
	}
}

// LoginRequest carries one login attempt.
type LoginRequest struct {
	Username string
	Password string
	Code     string // TOTP or backup code; empty on the first step
	Origin   store.Origin
}

// LoginResult is what a caller may learn from a login.
type LoginResult struct {
	Outcome            Outcome
	Token              string
	Session            *store.Session
	MustChangePassword bool
	AttemptsRemaining  int
	LockedUntil        *time.Time
}

// Principal is the authenticated caller behind a session token.
type Principal struct {
	Identity  store.Identity
	SessionID string
	ExpiresAt time.Time
	Warn      bool
}

// =============================================================================
// CORE
// =============================================================================

// Components are the engines wired together by Core.
type Components struct {
	Passwords  *password.Engine
	MFA        *mfa.Engine
	Guard      *access.Guard
	Sessions   *auth.SessionManager
	Authorizer *access.Authorizer
	Classifier *classification.Classifier
	Ledger     *audit.Ledger
}

// Core runs the request flow: lockout check, password, second factor,
// session issue, then per-request token validation, authorization and
// response redaction. It holds no state of its own.
type Core struct {
	Components
	identities store.IdentityStore
	history    store.AuditStore
	now        func() time.Time
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Option configures a Core.
type Option func(*Core)

// WithClock overrides the time source used for provisioning.
func WithClock(now func() time.Time) Option {
	return func(c *Core) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Core) { c.logger = logging.OrNop(logger) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Core) { c.metrics = m }
}

// NewCore wires comps together. identities and history are read directly
// for login lookups and the previous-login comparison.
func NewCore(identities store.IdentityStore, history store.AuditStore, comps Components, opts ...Option) (*Core, error) {
	switch {
	case identities == nil, history == nil:
		return nil, ErrMissingComponent
	case comps.Passwords == nil, comps.MFA == nil, comps.Guard == nil, comps.Sessions == nil,
		comps.Authorizer == nil, comps.Classifier == nil, comps.Ledger == nil:
		return nil, ErrMissingComponent
	}
	c := &Core{
		Components: comps,
		identities: identities,
		history:    history,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// =============================================================================
// LOGIN
// =============================================================================

// Login authenticates req. Every attempt that names a known identity is
// written to login history; wrong passwords and wrong codes count towards
// lockout. A store failure is returned with OutcomeDenied.
func (c *Core) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	denied := LoginResult{Outcome: OutcomeDenied}

	ident, err := c.identities.GetIdentityByUsername(ctx, normalizeUsername(req.Username))
	if store.IsNotFound(err) {
		c.Passwords.VerifyDummy(req.Password)
		c.metrics.AuthAttempt(MethodPassword, false)
		return denied, c.Ledger.RecordFailure(ctx, audit.Failure{
			Action:     audit.ActionLoginDenied,
			EntityType: audit.EntityIdentity,
			Message:    "reason=" + ReasonUnknownIdentity,
			Category:   store.CategoryAuthentication,
			Origin:     req.Origin,
		})
	}
	if err != nil {
		return denied, store.Integrity("login.identity", err)
	}

	if !ident.Active {
		c.Passwords.VerifyDummy(req.Password)
		return denied, c.loginFailed(ctx, ident.ID, req, false, ReasonInactive)
	}

	locked, err := c.Guard.IsLocked(ctx, ident.ID)
	if err != nil {
		return denied, err
	}
	if locked {
		c.Passwords.VerifyDummy(req.Password)
		st, err := c.Guard.Status(ctx, ident.ID)
		if err != nil {
			return denied, err
		}
		return LoginResult{Outcome: OutcomeLocked, LockedUntil: st.LockedUntil},
			c.loginFailed(ctx, ident.ID, req, false, ReasonLocked)
	}

	ok, err := c.Passwords.Authenticate(ctx, ident.ID, req.Password)
	if err != nil {
		return denied, err
	}
	if !ok {
		return c.countFailure(ctx, ident.ID, req, false, ReasonBadPassword)
	}

	enrolled, err := c.MFA.Enabled(ctx, ident.ID)
	if err != nil {
		return denied, err
	}
	if enrolled {
		if req.Code == "" {
			return LoginResult{Outcome: OutcomeMFARequired}, nil
		}
		ok, err := c.MFA.Verify(ctx, ident.ID, req.Code)
		if err != nil {
			return denied, err
		}
		if !ok {
			return c.countFailure(ctx, ident.ID, req, true, ReasonBadMFA)
		}
	}

	if err := c.Guard.RecordSuccess(ctx, ident.ID); err != nil {
		return denied, err
	}
	suspicious, err := c.suspicious(ctx, ident.ID, req.Origin)
	if err != nil {
		return denied, err
	}
	token, sess, err := c.Sessions.Create(ctx, ident.ID, req.Origin)
	if err != nil {
		return denied, err
	}
	mustChange, err := c.Passwords.MustChange(ctx, ident.ID)
	if err != nil {
		return denied, err
	}

	c.metrics.AuthAttempt(MethodPassword, true)
	if suspicious {
		c.logger.Warn("IA-2: login from new network address",
			zap.String("identity_id", ident.ID),
			zap.String("remote_addr", req.Origin.RemoteAddr),
		)
	}
	if err := c.Ledger.RecordAuthEvent(ctx, audit.AuthEvent{
		IdentityID: ident.ID,
		Method:     MethodPassword,
		Success:    true,
		MFAUsed:    enrolled,
		Origin:     req.Origin,
		Suspicious: suspicious,
	}); err != nil {
		return denied, err
	}
	return LoginResult{
		Outcome:            OutcomeAuthenticated,
		Token:              token,
		Session:            sess,
		MustChangePassword: mustChange,
	}, nil
}

// countFailure records a wrong factor against the lockout counter.
func (c *Core) countFailure(ctx context.Context, identityID string, req LoginRequest, mfaUsed bool, reason string) (LoginResult, error) {
	res, err := c.Guard.RecordFailure(ctx, identityID)
	if err != nil {
		return LoginResult{Outcome: OutcomeDenied}, err
	}
	out := LoginResult{Outcome: OutcomeDenied, AttemptsRemaining: res.AttemptsRemaining}
	if res.Locked {
		out = LoginResult{Outcome: OutcomeLocked, LockedUntil: res.LockedUntil}
	}
	return out, c.loginFailed(ctx, identityID, req, mfaUsed, reason)
}

func (c *Core) loginFailed(ctx context.Context, identityID string, req LoginRequest, mfaUsed bool, reason string) error {
	c.metrics.AuthAttempt(MethodPassword, false)
	c.logger.Info("IA-2: login denied",
		zap.String("identity_id", identityID),
		zap.String("reason", reason),
	)
	return c.Ledger.RecordAuthEvent(ctx, audit.AuthEvent{
		IdentityID:    identityID,
		Method:        MethodPassword,
		MFAUsed:       mfaUsed,
		Origin:        req.Origin,
		FailureReason: reason,
	})
}

// suspicious reports whether origin's host differs from the host of the
// previous successful login. A first login is not suspicious.
func (c *Core) suspicious(ctx context.Context, identityID string, origin store.Origin) (bool, error) {
	last, err := c.history.LastSuccessfulLogin(ctx, identityID)
	if store.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, store.Integrity("login.history", err)
	}
	return host(last.Origin.RemoteAddr) != host(origin.RemoteAddr), nil
}

func host(addr string) string {
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return addr
}

// =============================================================================
// PER-REQUEST CHECKS
// =============================================================================

// Authenticate resolves token to its principal.
func (c *Core) Authenticate(ctx context.Context, token string) (*Principal, error) {
	v, err := c.Sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if !v.Valid {
		return nil, ErrUnauthenticated
	}
	ident, err := c.identities.GetIdentity(ctx, v.IdentityID)
	if store.IsNotFound(err) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, store.Integrity("authenticate.identity", err)
	}
	return &Principal{Identity: ident, SessionID: v.SessionID, ExpiresAt: v.ExpiresAt, Warn: v.Warn}, nil
}

// Authorize resolves token and checks permission in actx.
func (c *Core) Authorize(ctx context.Context, token, permission string, actx *access.Context) (*Principal, error) {
	p, err := c.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	ok, err := c.Authorizer.HasPermission(ctx, p.Identity.ID, permission, actx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	return p, nil
}

// AuthorizeField resolves token and checks field-level access. The access
// is recorded whatever the outcome.
func (c *Core) AuthorizeField(ctx context.Context, token, entityType, entityID, field string, accessType store.AccessType) (*Principal, error) {
	p, err := c.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	ok, err := c.Authorizer.CheckFieldAccess(ctx, p.Identity.ID, entityType, entityID, field, accessType)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	return p, nil
}

// Filter redacts payload for the clearance of the caller behind token.
func (c *Core) Filter(ctx context.Context, token string, payload any) (any, error) {
	p, err := c.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	return c.Classifier.Redact(payload, p.Identity.Clearance), nil
}

// =============================================================================
// SESSION AND CREDENTIAL CHANGES
// =============================================================================

// Logout ends the session holding token.
func (c *Core) Logout(ctx context.Context, token string) error {
	return c.Sessions.Terminate(ctx, token, store.TerminationLogout)
}

// LogoutEverywhere ends every other session of the caller.
func (c *Core) LogoutEverywhere(ctx context.Context, token string) (int, error) {
	p, err := c.Authenticate(ctx, token)
	if err != nil {
		return 0, err
	}
	return c.Sessions.TerminateAll(ctx, p.Identity.ID, token, store.TerminationLogoutAll, p.Identity.ID)
}

// ChangePassword rotates the caller's password after re-checking the
// current one. A wrong current password counts towards lockout. On
// success every other session of the caller is ended.
func (c *Core) ChangePassword(ctx context.Context, token, current, next string) ([]password.Violation, error) {
	p, err := c.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	id := p.Identity.ID

	ok, err := c.Passwords.Authenticate(ctx, id, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := c.Guard.RecordFailure(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrUnauthenticated
	}

	violations, err := c.Passwords.Change(ctx, id, next)
	if err != nil || len(violations) > 0 {
		return violations, err
	}
	if _, err := c.Sessions.TerminateAll(ctx, id, token, store.TerminationPasswordReset, id); err != nil {
		return nil, err
	}
	return nil, nil
}
