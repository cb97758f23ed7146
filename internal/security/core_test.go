// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jeranaias/lexguard/internal/security/access"
	"github.com/jeranaias/lexguard/internal/security/audit"
	"github.com/jeranaias/lexguard/internal/security/auth"
	"github.com/jeranaias/lexguard/internal/security/classification"
	"github.com/jeranaias/lexguard/internal/security/crypto"
	"github.com/jeranaias/lexguard/internal/security/mfa"
	"github.com/jeranaias/lexguard/internal/security/password"
	"github.com/jeranaias/lexguard/internal/store"
	"github.com/jeranaias/lexguard/internal/store/sqlstore"
	"github.com/jeranaias/lexguard/internal/store/storetest"
)

// =============================================================================
// HELPERS
// =============================================================================

const goodPassword = "Harbor!Vx7Qzk"

// fastHasher keeps bcrypt digests at the minimum cost so tests stay quick.
type fastHasher struct{}

func (fastHasher) Hash(candidate string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(candidate), bcrypt.MinCost)
	return string(b), err
}

func (fastHasher) Verify(candidate, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(candidate)) == nil
}

type fixture struct {
	db    *sqlstore.Store
	clock *storetest.Clock
	core  *Core
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := storetest.New(t)
	clock := storetest.NewClock()
	ledger := storetest.NewLedger(t, db, clock)

	passwords, err := password.NewEngine(password.DefaultPolicy(), db, db, ledger,
		password.WithClock(clock.Now), password.WithHasher(fastHasher{}))
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sealer, err := crypto.NewSealer(key)
	require.NoError(t, err)
	mfaEngine, err := mfa.NewEngine(mfa.DefaultConfig(), db, sealer, ledger, mfa.WithClock(clock.Now))
	require.NoError(t, err)

	guard := access.NewGuard(access.DefaultGuardConfig(), db, ledger, access.WithGuardClock(clock.Now))
	core, err := NewCore(db, db, Components{
		Passwords:  passwords,
		MFA:        mfaEngine,
		Guard:      guard,
		Sessions:   auth.NewSessionManager(auth.DefaultConfig(), db, db, guard, ledger, auth.WithClock(clock.Now)),
		Authorizer: access.NewAuthorizer(db, db, ledger, access.WithAuthorizerClock(clock.Now)),
		Classifier: classification.NewClassifier(nil),
		Ledger:     ledger,
	}, WithClock(clock.Now))
	require.NoError(t, err)
	return fixture{db: db, clock: clock, core: core}
}

// seed creates an identity with goodPassword.
func (f fixture) seed(t *testing.T, username string, opts ...storetest.Identity) store.Identity {
	t.Helper()
	ident := storetest.SeedIdentity(t, f.db, username, opts...)
	violations, err := f.core.Passwords.Change(context.Background(), ident.ID, goodPassword)
	require.NoError(t, err)
	require.Empty(t, violations)
	return ident
}

// enroll confirms an MFA enrollment and returns the TOTP secret.
func (f fixture) enroll(t *testing.T, identityID string) *mfa.Enrollment {
	t.Helper()
	enr, err := f.core.MFA.Enroll("casey@lexguard.test")
	require.NoError(t, err)
	code, err := totp.GenerateCode(enr.Secret, f.clock.Now())
	require.NoError(t, err)
	ok, err := f.core.MFA.ConfirmEnrollment(context.Background(), identityID, enr, code)
	require.NoError(t, err)
	require.True(t, ok)
	// The confirmation step is spent.
	f.clock.Advance(30 * time.Second)
	return enr
}

func (f fixture) login(t *testing.T, username, pw string) LoginResult {
	t.Helper()
	res, err := f.core.Login(context.Background(), LoginRequest{
		Username: username,
		Password: pw,
		Origin:   store.Origin{RemoteAddr: "10.0.0.7:51000", UserAgent: "test"},
	})
	require.NoError(t, err)
	return res
}

func (f fixture) lastLogin(t *testing.T) store.AuditEntry {
	t.Helper()
	entries, err := f.db.RecentAudit(context.Background(), 1)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	return entries[0]
}

// =============================================================================
// LOGIN TESTS
// =============================================================================

func TestNewCore_RequiresComponents(t *testing.T) {
	db := storetest.New(t)
	_, err := NewCore(db, db, Components{})
	require.ErrorIs(t, err, ErrMissingComponent)
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	ident := f.seed(t, "casey")

	res := f.login(t, "casey", goodPassword)
	require.Equal(t, OutcomeAuthenticated, res.Outcome)
	require.NotEmpty(t, res.Token)
	require.Equal(t, ident.ID, res.Session.IdentityID)
	require.False(t, res.MustChangePassword)

	last := f.lastLogin(t)
	require.Equal(t, audit.ActionLogin, last.Action)
	require.True(t, last.Success)

	p, err := f.core.Authenticate(context.Background(), res.Token)
	require.NoError(t, err)
	require.Equal(t, ident.ID, p.Identity.ID)

	res = f.login(t, "  Casey ", goodPassword)
	require.Equal(t, OutcomeAuthenticated, res.Outcome)
}

func TestLogin_UnknownIdentityIsDenied(t *testing.T) {
	f := newFixture(t)

	res := f.login(t, "nobody", goodPassword)
	require.Equal(t, OutcomeDenied, res.Outcome)
	require.Empty(t, res.Token)

	last := f.lastLogin(t)
	require.Equal(t, audit.ActionLoginDenied, last.Action)
	require.Contains(t, last.Message, ReasonUnknownIdentity)
}

func TestLogin_InactiveIdentityIsDenied(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "casey", func(i *store.Identity) { i.Active = false })

	res := f.login(t, "casey", goodPassword)
	require.Equal(t, OutcomeDenied, res.Outcome)
	require.Contains(t, f.lastLogin(t).Message, "reason="+ReasonInactive)
}

func TestLogin_LocksAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t)
	ident := f.seed(t, "casey")

	res := f.login(t, "casey", "wrong")
	require.Equal(t, OutcomeDenied, res.Outcome)
	require.Equal(t, access.DefaultMaxAttempts-1, res.AttemptsRemaining)

	for i := 1; i < access.DefaultMaxAttempts-1; i++ {
		res = f.login(t, "casey", "wrong")
		require.Equal(t, OutcomeDenied, res.Outcome)
	}
	res = f.login(t, "casey", "wrong")
	require.Equal(t, OutcomeLocked, res.Outcome)
	require.NotNil(t, res.LockedUntil)

	// The right password does not help while locked.
	res = f.login(t, "casey", goodPassword)
	require.Equal(t, OutcomeLocked, res.Outcome)
	require.Contains(t, f.lastLogin(t).Message, "reason="+ReasonLocked)

	f.clock.Advance(access.DefaultLockoutDuration)
	res = f.login(t, "casey", goodPassword)
	require.Equal(t, OutcomeAuthenticated, res.Outcome)

	st, err := f.core.Guard.Status(context.Background(), ident.ID)
	require.NoError(t, err)
	require.Zero(t, st.FailedAttempts)
}

func TestLogin_MFA(t *testing.T) {
	f := newFixture(t)
	ident := f.seed(t, "casey")
	enr := f.enroll(t, ident.ID)
	ctx := context.Background()

	res := f.login(t, "casey", goodPassword)
	require.Equal(t, OutcomeMFARequired, res.Outcome)
	require.Empty(t, res.Token)

	res, err := f.core.Login(ctx, LoginRequest{Username: "casey", Password: goodPassword, Code: "000000"})
	require.NoError(t, err)
	require.Equal(t, OutcomeDenied, res.Outcome)
	require.Equal(t, access.DefaultMaxAttempts-1, res.AttemptsRemaining)

	code, err := totp.GenerateCode(enr.Secret, f.clock.Now())
	require.NoError(t, err)
	res, err = f.core.Login(ctx, LoginRequest{Username: "casey", Password: goodPassword, Code: code})
	require.NoError(t, err)
	require.Equal(t, OutcomeAuthenticated, res.Outcome)
	require.Contains(t, f.lastLogin(t).Message, "mfa=true")

	// A backup code works once.
	backup := enr.BackupCodes[0]
	res, err = f.core.Login(ctx, LoginRequest{Username: "casey", Password: goodPassword, Code: backup})
	require.NoError(t, err)
	require.Equal(t, OutcomeAuthenticated, res.Outcome)
	res, err = f.core.Login(ctx, LoginRequest{Username: "casey", Password: goodPassword, Code: backup})
	require.NoError(t, err)
	require.Equal(t, OutcomeDenied, res.Outcome)
}

func TestLogin_FlagsNewNetworkAddress(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "casey")
	ctx := context.Background()

	require.Equal(t, OutcomeAuthenticated, f.login(t, "casey", goodPassword).Outcome)
	require.NotContains(t, f.lastLogin(t).Message, "suspicious")

	// Same host, different port.
	res, err := f.core.Login(ctx, LoginRequest{Username: "casey", Password: goodPassword,
		Origin: store.Origin{RemoteAddr: "10.0.0.7:52000"}})
	require.NoError(t, err)
	require.Equal(t, OutcomeAuthenticated, res.Outcome)
	require.NotContains(t, f.lastLogin(t).Message, "suspicious")

	res, err = f.core.Login(ctx, LoginRequest{Username: "casey", Password: goodPassword,
		Origin: store.Origin{RemoteAddr: "203.0.113.9:40000"}})
	require.NoError(t, err)
	require.Equal(t, OutcomeAuthenticated, res.Outcome)
	last := f.lastLogin(t)
	require.Contains(t, last.Message, "suspicious=true")
	require.Equal(t, store.SeverityHigh, last.Severity)
}

func TestLogin_ReportsMustChange(t *testing.T) {
	f := newFixture(t)
	ident := f.seed(t, "casey")
	require.NoError(t, f.core.Passwords.RequireChange(context.Background(), ident.ID, "admin-1"))

	res := f.login(t, "casey", goodPassword)
	require.Equal(t, OutcomeAuthenticated, res.Outcome)
	require.True(t, res.MustChangePassword)
}

// =============================================================================
// PER-REQUEST TESTS
// =============================================================================

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "casey")
	token := f.login(t, "casey", goodPassword).Token

	require.NoError(t, f.core.Authorizer.SetRolePermission(ctx, store.RolePermission{
		Role:       "attorney",
		Permission: "case.read",
		Conditions: []store.Condition{{Kind: access.ConditionSameDepartment}},
	}, "admin-1"))

	p, err := f.core.Authorize(ctx, token, "case.read", &access.Context{Department: "litigation"})
	require.NoError(t, err)
	require.Equal(t, "casey", p.Identity.Username)

	_, err = f.core.Authorize(ctx, token, "case.read", &access.Context{Department: "tax"})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.core.Authorize(ctx, token, "case.delete", nil)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.core.Authorize(ctx, "bogus", "case.read", nil)
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthorizeField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "casey")
	token := f.login(t, "casey", goodPassword).Token

	require.NoError(t, f.core.Authorizer.SetRolePermission(ctx, store.RolePermission{
		Role:       "attorney",
		Permission: access.FieldPermission("client", "notes", store.AccessRead),
	}, "admin-1"))

	_, err := f.core.AuthorizeField(ctx, token, "client", "C-1", "notes", store.AccessRead)
	require.NoError(t, err)
	_, err = f.core.AuthorizeField(ctx, token, "client", "C-1", "ssn", store.AccessRead)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestFilter_RedactsAboveClearance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "casey", func(i *store.Identity) { i.Clearance = classification.LevelInternal })
	token := f.login(t, "casey", goodPassword).Token

	out, err := f.core.Filter(ctx, token, map[string]any{
		"bankAccount": "DE89370400440532013000",
		"notes":       "settle before trial",
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"bankAccount": classification.Marker,
		"notes":       "settle before trial",
	}, out)

	_, err = f.core.Filter(ctx, "bogus", map[string]any{})
	require.ErrorIs(t, err, ErrUnauthenticated)
}

// =============================================================================
// SESSION AND CREDENTIAL TESTS
// =============================================================================

func TestLogoutEverywhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "casey")

	first := f.login(t, "casey", goodPassword).Token
	f.clock.Advance(time.Second)
	second := f.login(t, "casey", goodPassword).Token

	n, err := f.core.LogoutEverywhere(ctx, second)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = f.core.Authenticate(ctx, first)
	require.ErrorIs(t, err, ErrUnauthenticated)
	_, err = f.core.Authenticate(ctx, second)
	require.NoError(t, err)

	require.NoError(t, f.core.Logout(ctx, second))
	_, err = f.core.Authenticate(ctx, second)
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ident := f.seed(t, "casey")

	other := f.login(t, "casey", goodPassword).Token
	f.clock.Advance(time.Second)
	current := f.login(t, "casey", goodPassword).Token

	_, err := f.core.ChangePassword(ctx, current, "wrong", "Quarry#Lm4Tpw")
	require.ErrorIs(t, err, ErrUnauthenticated)
	st, err := f.core.Guard.Status(ctx, ident.ID)
	require.NoError(t, err)
	require.Equal(t, 1, st.FailedAttempts)

	violations, err := f.core.ChangePassword(ctx, current, goodPassword, "short")
	require.NoError(t, err)
	require.NotEmpty(t, violations)

	violations, err = f.core.ChangePassword(ctx, current, goodPassword, goodPassword)
	require.NoError(t, err)
	require.Equal(t, password.RuleReused, violations[0].Rule)

	violations, err = f.core.ChangePassword(ctx, current, goodPassword, "Quarry#Lm4Tpw")
	require.NoError(t, err)
	require.Empty(t, violations)

	_, err = f.core.Authenticate(ctx, other)
	require.ErrorIs(t, err, ErrUnauthenticated)
	_, err = f.core.Authenticate(ctx, current)
	require.NoError(t, err)

	require.Equal(t, OutcomeAuthenticated, f.login(t, "casey", "Quarry#Lm4Tpw").Outcome)
}
