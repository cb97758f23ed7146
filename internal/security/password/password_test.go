// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package password

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jeranaias/lexguard/internal/security/audit"
	"github.com/jeranaias/lexguard/internal/store"
	"github.com/jeranaias/lexguard/internal/store/sqlstore"
	"github.com/jeranaias/lexguard/internal/store/storetest"
)

// =============================================================================
// POLICY TESTS
// =============================================================================

func rulesOf(vs []Violation) []Rule {
	out := make([]Rule, len(vs))
	for i, v := range vs {
		out[i] = v.Rule
	}
	return out
}

func TestPolicy_Validate(t *testing.T) {
	p := DefaultPolicy()
	p.DenyWords = []string{"morganforge"}

	tests := []struct {
		name      string
		candidate string
		want      []Rule // rules that must be present
	}{
		{"valid", "Harbor!Vx0Qzk", nil},
		{"too short", "Hb!0x", []Rule{RuleMinLength}},
		{"no upper or symbol", "harborvx0qzkm", []Rule{RuleUpper, RuleSymbol}},
		{"no lower", "HARBOR!VX0QZK", []Rule{RuleLower}},
		{"no digit", "Harbor!VxQzkm", []Rule{RuleDigit}},
		{"repeated run", "Harbooor!Vx0Qz", []Rule{RuleRepeat}},
		{"ascending run", "Hrbcdx!Vq0Qzk", []Rule{RuleSequence}},
		{"descending digits", "Harbor!Vx321Qz", []Rule{RuleSequence}},
		{"keyboard row", "Hzxcvb!Vx0Qzk", []Rule{RuleSequence}},
		{"common word", "Welcome!Vx0Qzk", []Rule{RuleDenyList}},
		{"leetspeak", "P@ssw0rd!Vx0Qz", []Rule{RuleDenyList}},
		{"organisation word", "MorganForge!0x", []Rule{RuleDenyList}},
		{"surrounding whitespace", " Harbor!Vx0Qzk", []Rule{RuleWhitespace}},
		{"too long", strings.Repeat("Hb0!", 19), []Rule{RuleMaxLength}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rulesOf(p.Validate(tt.candidate))
			if tt.want == nil {
				require.Empty(t, got)
				return
			}
			for _, r := range tt.want {
				require.Contains(t, got, r)
			}
		})
	}
}

func TestPolicy_ReportsEveryViolation(t *testing.T) {
	got := rulesOf(DefaultPolicy().Validate("aaa"))
	require.ElementsMatch(t, []Rule{RuleMinLength, RuleUpper, RuleDigit, RuleSymbol, RuleRepeat}, got)
}

func TestPolicy_DisabledRules(t *testing.T) {
	p := Policy{MinLength: 4}
	require.Empty(t, p.Validate("aaaa"))
}

func TestFoldWord(t *testing.T) {
	require.Equal(t, "password", foldWord("P@55W0RD"))
	require.Equal(t, "letmein", foldWord("L3tM31n"))
}

// =============================================================================
// HASHING TESTS
// =============================================================================

func TestNewHasher(t *testing.T) {
	h, err := NewHasher("", 4)
	require.NoError(t, err)
	require.Equal(t, bcryptHasher{cost: DefaultBcryptCost}, h)

	_, err = NewHasher("md5", 0)
	require.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestHashers_RoundTrip(t *testing.T) {
	hashers := map[string]Hasher{
		"bcrypt":   bcryptHasher{cost: bcrypt.MinCost},
		"argon2id": argon2Hasher{},
	}
	for name, h := range hashers {
		t.Run(name, func(t *testing.T) {
			d1, err := h.Hash("Harbor!Vx0Qzk")
			require.NoError(t, err)
			d2, err := h.Hash("Harbor!Vx0Qzk")
			require.NoError(t, err)
			require.NotEqual(t, d1, d2, "salt must differ per call")

			require.True(t, h.Verify("Harbor!Vx0Qzk", d1))
			require.False(t, h.Verify("Harbor!Vx1Qzk", d1))
			require.True(t, verifyAny("Harbor!Vx0Qzk", d1))
		})
	}
}

func TestVerifyAny_Malformed(t *testing.T) {
	for _, digest := range []string{"", "plaintext", "$argon2id$v=19$bad", "$2a$broken"} {
		require.False(t, verifyAny("x", digest), digest)
	}
}

// =============================================================================
// ENGINE TESTS
// =============================================================================

type fixture struct {
	engine *Engine
	db     *sqlstore.Store
	id     string
}

func newFixture(t *testing.T, mutate ...func(*Policy)) fixture {
	t.Helper()
	db := storetest.New(t)
	clock := storetest.NewClock()
	ident := storetest.SeedIdentity(t, db, "avery")

	policy := DefaultPolicy()
	for _, m := range mutate {
		m(&policy)
	}
	e, err := NewEngine(policy, db, db, storetest.NewLedger(t, db, clock),
		WithClock(clock.Now), WithHasher(bcryptHasher{cost: bcrypt.MinCost}))
	require.NoError(t, err)
	return fixture{engine: e, db: db, id: ident.ID}
}

func candidate(i int) string {
	return fmt.Sprintf("Harbor!Vx%dQzk", i)
}

func TestEngine_NormalizesBeforeHashing(t *testing.T) {
	f := newFixture(t)
	digest, err := f.engine.Hash("Ｈarbor!Vx0Qzk")
	require.NoError(t, err)
	require.True(t, f.engine.Verify("Harbor!Vx0Qzk", digest))
}

func TestEngine_ReuseLaw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := f.engine.Policy().ReuseWindow

	for i := 0; i <= k; i++ {
		require.NoError(t, f.engine.CommitRotation(ctx, f.id, candidate(i)))
	}

	ok, err := f.engine.CheckReuse(ctx, f.id, candidate(0))
	require.NoError(t, err)
	require.True(t, ok, "P0 fell out of the window")

	for i := 1; i <= k; i++ {
		ok, err = f.engine.CheckReuse(ctx, f.id, candidate(i))
		require.NoError(t, err)
		require.False(t, ok, "P%d is still in the window", i)
	}

	cred, err := f.db.GetCredential(ctx, f.id)
	require.NoError(t, err)
	require.Len(t, cred.History, k-1)
	require.NotContains(t, cred.History, cred.Hash)
}

func TestEngine_CheckReuseWithoutCredential(t *testing.T) {
	f := newFixture(t)
	ok, err := f.engine.CheckReuse(context.Background(), f.id, candidate(0))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEngine_CommitRotationResetsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.CommitRotation(ctx, f.id, candidate(0)))
	require.NoError(t, f.engine.RequireChange(ctx, f.id, "admin"))
	_, err := f.db.ModifyLockout(ctx, f.id, func(s *store.LockoutState) error {
		s.FailedAttempts = 2
		return nil
	})
	require.NoError(t, err)

	must, err := f.engine.MustChange(ctx, f.id)
	require.NoError(t, err)
	require.True(t, must)

	require.NoError(t, f.engine.CommitRotation(ctx, f.id, candidate(1)))

	must, err = f.engine.MustChange(ctx, f.id)
	require.NoError(t, err)
	require.False(t, must)

	lock, err := f.db.GetLockout(ctx, f.id)
	require.NoError(t, err)
	require.Zero(t, lock.FailedAttempts)

	entries, err := f.db.ListAudit(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, audit.ActionPasswordRotated, entries[0].Action)
	require.Equal(t, audit.ActionPasswordExpired, entries[1].Action)
	require.Equal(t, "admin", entries[1].ActorID)
	require.Equal(t, audit.ActionPasswordRotated, entries[2].Action)
}

func TestEngine_ZeroReuseWindow(t *testing.T) {
	f := newFixture(t, func(p *Policy) { p.ReuseWindow = 0 })
	ctx := context.Background()

	require.NoError(t, f.engine.CommitRotation(ctx, f.id, candidate(0)))
	require.NoError(t, f.engine.CommitRotation(ctx, f.id, candidate(0)))

	cred, err := f.db.GetCredential(ctx, f.id)
	require.NoError(t, err)
	require.Empty(t, cred.History)
}

func TestEngine_Change(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	violations, err := f.engine.Change(ctx, f.id, "weak")
	require.NoError(t, err)
	require.NotEmpty(t, violations)

	violations, err = f.engine.Change(ctx, f.id, candidate(0))
	require.NoError(t, err)
	require.Empty(t, violations)

	violations, err = f.engine.Change(ctx, f.id, candidate(0))
	require.NoError(t, err)
	require.Equal(t, []Rule{RuleReused}, rulesOf(violations))

	entries, err := f.db.ListAudit(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, audit.ActionPasswordRejected, entries[0].Action)
	require.False(t, entries[0].Success)
	require.Contains(t, entries[0].Message, string(RuleMinLength))
	require.Equal(t, audit.ActionPasswordRotated, entries[1].Action)
	require.Equal(t, "rules=reused", entries[2].Message)
}

func TestEngine_Authenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.engine.Authenticate(ctx, f.id, candidate(0))
	require.NoError(t, err)
	require.False(t, ok, "no credential yet")

	require.NoError(t, f.engine.CommitRotation(ctx, f.id, candidate(0)))

	ok, err = f.engine.Authenticate(ctx, f.id, candidate(0))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.engine.Authenticate(ctx, f.id, candidate(1))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = f.engine.Authenticate(ctx, "missing", candidate(0))
	require.NoError(t, err)
	require.False(t, ok)
}
