// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sqlstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/lexguard/internal/ids"
	"github.com/jeranaias/lexguard/internal/security/classification"
	"github.com/jeranaias/lexguard/internal/store"
)

// =============================================================================
// HELPERS
// =============================================================================

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "lexguard.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Migrate(context.Background())
	require.NoError(t, err)
	return s
}

func seedIdentity(t *testing.T, s *Store, username string) store.Identity {
	t.Helper()
	ident := store.Identity{
		ID:         ids.New(),
		Username:   username,
		Role:       "attorney",
		Department: "litigation",
		Clearance:  classification.LevelConfidential,
		Active:     true,
		CreatedAt:  epoch,
	}
	require.NoError(t, s.CreateIdentity(context.Background(), ident))
	return ident
}

func newSession(identityID string, created time.Time) store.Session {
	sum := sha256.Sum256([]byte(ids.NewUUID()))
	return store.Session{
		ID:                ids.NewUUID(),
		TokenHash:         hex.EncodeToString(sum[:]),
		IdentityID:        identityID,
		CreatedAt:         created,
		LastActivityAt:    created,
		ExpiresAt:         created.Add(15 * time.Minute),
		AbsoluteExpiresAt: created.Add(12 * time.Hour),
		Origin:            store.Origin{RemoteAddr: "10.0.0.1", UserAgent: "test"},
	}
}

// =============================================================================
// DIALECT
// =============================================================================

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x = ? AND y IN (?, ?)`
	require.Equal(t, q, sqliteDialect.rebind(q))
	require.Equal(t, `SELECT a FROM t WHERE x = $1 AND y IN ($2, $3)`, postgresDialect.rebind(q))
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		driver  string
		want    string
		wantErr bool
	}{
		{"sqlite", DriverSQLite, false},
		{"", DriverSQLite, false},
		{"postgres", DriverPostgres, false},
		{"PGX", DriverPostgres, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := dialectFor(tt.driver)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, d.name)
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	require.Equal(t,
		"file:/tmp/x.db?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		sqliteDSN("/tmp/x.db"))
	require.Equal(t,
		"file:x.db?_txlock=deferred&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		sqliteDSN("file:x.db?_txlock=deferred"))
}

// =============================================================================
// MIGRATIONS
// =============================================================================

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Migrate(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, len(migrations), v)
}

// =============================================================================
// IDENTITIES, LOCKOUT, CREDENTIALS
// =============================================================================

func TestIdentities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ident := seedIdentity(t, s, "alice")

	got, err := s.GetIdentityByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, ident, got)

	err = s.CreateIdentity(ctx, store.Identity{ID: ids.New(), Username: "alice", Role: "clerk", CreatedAt: epoch})
	require.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, s.SetIdentityActive(ctx, ident.ID, false))
	got, err = s.GetIdentity(ctx, ident.ID)
	require.NoError(t, err)
	require.False(t, got.Active)

	_, err = s.GetIdentity(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.SetIdentityActive(ctx, "missing", true), store.ErrNotFound)
}

func TestModifyLockout_ConcurrentIncrements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ident := seedIdentity(t, s, "bob")

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ModifyLockout(ctx, ident.ID, func(st *store.LockoutState) error {
				st.FailedAttempts++
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := s.GetLockout(ctx, ident.ID)
	require.NoError(t, err)
	require.Equal(t, workers, st.FailedAttempts)
}

func TestModifyLockout_FnErrorRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ident := seedIdentity(t, s, "carol")

	boom := errors.New("boom")
	_, err := s.ModifyLockout(ctx, ident.ID, func(st *store.LockoutState) error {
		st.FailedAttempts = 99
		return boom
	})
	require.ErrorIs(t, err, boom)

	st, err := s.GetLockout(ctx, ident.ID)
	require.NoError(t, err)
	require.Zero(t, st.FailedAttempts)
	require.Nil(t, st.LockedUntil)
}

func TestModifyCredential(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ident := seedIdentity(t, s, "dave")

	_, err := s.GetCredential(ctx, ident.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.ModifyCredential(ctx, ident.ID, func(c *store.Credential) error {
		c.Hash = "h1"
		c.ChangedAt = epoch
		return nil
	})
	require.NoError(t, err)

	_, err = s.ModifyCredential(ctx, ident.ID, func(c *store.Credential) error {
		c.History = append([]string{c.Hash}, c.History...)
		c.Hash = "h2"
		c.ChangedAt = epoch.Add(time.Hour)
		return nil
	})
	require.NoError(t, err)

	cred, err := s.GetCredential(ctx, ident.ID)
	require.NoError(t, err)
	require.Equal(t, "h2", cred.Hash)
	require.Equal(t, []string{"h1"}, cred.History)
	require.Equal(t, epoch.Add(time.Hour), cred.ChangedAt)

	require.NoError(t, s.SetMustChange(ctx, ident.ID, true))
	cred, err = s.GetCredential(ctx, ident.ID)
	require.NoError(t, err)
	require.True(t, cred.MustChange)
}

// =============================================================================
// MFA
// =============================================================================

func TestEnrollmentAndBackupCodes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ident := seedIdentity(t, s, "erin")

	codes := make([]store.BackupCode, 5)
	for i := range codes {
		codes[i] = store.BackupCode{ID: ids.NewUUID(), Ciphertext: fmt.Sprintf("ENC:%d", i)}
	}
	require.NoError(t, s.SaveEnrollment(ctx, store.MFAEnrollment{
		IdentityID: ident.ID, SecretCiphertext: "ENC:secret", Active: true, ConfirmedAt: epoch,
	}, codes))

	e, err := s.GetEnrollment(ctx, ident.ID)
	require.NoError(t, err)
	require.True(t, e.Active)
	require.Equal(t, "ENC:secret", e.SecretCiphertext)

	unused, err := s.ListUnusedBackupCodes(ctx, ident.ID)
	require.NoError(t, err)
	require.Len(t, unused, 5)

	ok, err := s.AdvanceTOTPStep(ctx, ident.ID, 100)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.AdvanceTOTPStep(ctx, ident.ID, 100)
	require.NoError(t, err)
	require.False(t, ok, "same step must not be accepted twice")
	ok, err = s.AdvanceTOTPStep(ctx, ident.ID, 99)
	require.NoError(t, err)
	require.False(t, ok)

	// Re-enrolling replaces the previous codes.
	require.NoError(t, s.SaveEnrollment(ctx, store.MFAEnrollment{
		IdentityID: ident.ID, SecretCiphertext: "ENC:other", Active: true, ConfirmedAt: epoch,
	}, codes[:2]))
	unused, err = s.ListUnusedBackupCodes(ctx, ident.ID)
	require.NoError(t, err)
	require.Len(t, unused, 2)

	require.NoError(t, s.DeleteEnrollment(ctx, ident.ID))
	_, err = s.GetEnrollment(ctx, ident.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	unused, err = s.ListUnusedBackupCodes(ctx, ident.ID)
	require.NoError(t, err)
	require.Empty(t, unused)
}

func TestConsumeBackupCode_ExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ident := seedIdentity(t, s, "frank")

	code := store.BackupCode{ID: ids.NewUUID(), Ciphertext: "ENC:c"}
	require.NoError(t, s.SaveEnrollment(ctx, store.MFAEnrollment{
		IdentityID: ident.ID, SecretCiphertext: "ENC:s", Active: true, ConfirmedAt: epoch,
	}, []store.BackupCode{code}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ConsumeBackupCode(ctx, code.ID, epoch)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestInsertSessionCapped_EvictsLeastRecentlyActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ident := seedIdentity(t, s, "gina")

	first := newSession(ident.ID, epoch)
	second := newSession(ident.ID, epoch.Add(time.Minute))
	third := newSession(ident.ID, epoch.Add(2*time.Minute))
	for _, sess := range []store.Session{first, second, third} {
		evicted, err := s.InsertSessionCapped(ctx, sess, 3, sess.CreatedAt)
		require.NoError(t, err)
		require.Empty(t, evicted)
	}

	// first becomes the most recently active.
	now := epoch.Add(3 * time.Minute)
	require.NoError(t, s.TouchSession(ctx, first.ID, now, now.Add(15*time.Minute)))

	fourth := newSession(ident.ID, now)
	evicted, err := s.InsertSessionCapped(ctx, fourth, 3, now)
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	require.Equal(t, second.ID, evicted[0].ID)
	require.Equal(t, store.TerminationCapacity, evicted[0].TerminationReason)

	active, err := s.ListActiveSessions(ctx, ident.ID, now)
	require.NoError(t, err)
	require.Len(t, active, 3)

	got, err := s.GetSessionByTokenHash(ctx, second.TokenHash)
	require.NoError(t, err)
	require.True(t, got.Terminated())
}

func TestTouchSession_ForwardOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ident := seedIdentity(t, s, "hank")

	sess := newSession(ident.ID, epoch)
	_, err := s.InsertSessionCapped(ctx, sess, 0, epoch)
	require.NoError(t, err)

	later := epoch.Add(5 * time.Minute)
	require.NoError(t, s.TouchSession(ctx, sess.ID, later, later.Add(15*time.Minute)))
	require.NoError(t, s.TouchSession(ctx, sess.ID, epoch.Add(time.Minute), epoch.Add(16*time.Minute)))

	got, err := s.GetSessionByTokenHash(ctx, sess.TokenHash)
	require.NoError(t, err)
	require.Equal(t, later, got.LastActivityAt)
	require.Equal(t, later.Add(15*time.Minute), got.ExpiresAt)
}

func TestTerminateSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ident := seedIdentity(t, s, "iris")

	a := newSession(ident.ID, epoch)
	b := newSession(ident.ID, epoch)
	c := newSession(ident.ID, epoch)
	for _, sess := range []store.Session{a, b, c} {
		_, err := s.InsertSessionCapped(ctx, sess, 0, epoch)
		require.NoError(t, err)
	}

	ok, err := s.TerminateSession(ctx, a.ID, store.TerminationLogout, epoch)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.TerminateSession(ctx, a.ID, store.TerminationLogout, epoch)
	require.NoError(t, err)
	require.False(t, ok, "already terminated")

	n, err := s.TerminateIdentitySessions(ctx, ident.ID, c.ID, store.TerminationLogoutAll, epoch)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	active, err := s.ListActiveSessions(ctx, ident.ID, epoch)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, c.ID, active[0].ID)
}

// =============================================================================
// PERMISSIONS
// =============================================================================

func TestRolePermissions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rp := store.RolePermission{
		Role:       "paralegal",
		Permission: "case.read",
		Conditions: []store.Condition{{Kind: "minimum_clearance", Clearance: classification.LevelConfidential}},
	}
	require.NoError(t, s.PutRolePermission(ctx, rp))
	require.NoError(t, s.PutRolePermission(ctx, rp), "put is an upsert")

	got, err := s.GetRolePermission(ctx, "paralegal", "case.read")
	require.NoError(t, err)
	require.Equal(t, rp, got)

	list, err := s.ListRolePermissions(ctx, "paralegal")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteRolePermission(ctx, "paralegal", "case.read"))
	_, err = s.GetRolePermission(ctx, "paralegal", "case.read")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindCurrentGrant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ident := seedIdentity(t, s, "jack")

	from := epoch
	until := epoch.Add(24 * time.Hour)
	allow := store.PermissionGrant{
		ID: ids.NewUUID(), IdentityID: ident.ID, Permission: "billing.export", Allow: true,
		ValidFrom: &from, ValidUntil: &until, GrantedBy: "admin", CreatedAt: epoch,
	}
	require.NoError(t, s.PutGrant(ctx, allow))

	_, err := s.FindCurrentGrant(ctx, ident.ID, "billing.export", epoch.Add(-time.Second))
	require.ErrorIs(t, err, store.ErrNotFound, "before window")

	g, err := s.FindCurrentGrant(ctx, ident.ID, "billing.export", epoch.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, g.Allow)

	_, err = s.FindCurrentGrant(ctx, ident.ID, "billing.export", until)
	require.ErrorIs(t, err, store.ErrNotFound, "upper bound is exclusive")

	deny := store.PermissionGrant{
		ID: ids.NewUUID(), IdentityID: ident.ID, Permission: "billing.export", Allow: false,
		GrantedBy: "admin", CreatedAt: epoch.Add(-time.Hour),
	}
	require.NoError(t, s.PutGrant(ctx, deny))

	g, err = s.FindCurrentGrant(ctx, ident.ID, "billing.export", epoch.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, g.Allow, "deny wins over a newer allow")

	grants, err := s.ListGrants(ctx, ident.ID)
	require.NoError(t, err)
	require.Len(t, grants, 2)
}

// =============================================================================
// AUDIT
// =============================================================================

func TestAppendAudit_ChainsEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seal := func(e *store.AuditEntry) error {
		e.Hash = fmt.Sprintf("%s>%d", e.PrevHash, e.Seq)
		return nil
	}
	before := "old"
	for i := 0; i < 3; i++ {
		_, err := s.AppendAudit(ctx, store.AuditEntry{
			ID: ids.New(), Timestamp: epoch.Add(time.Duration(i) * time.Second), ActorID: "u1",
			Action: "login", Success: true, Severity: store.SeverityInfo,
			Category: store.CategoryAuthentication, Before: &before,
		}, seal)
		require.NoError(t, err)
	}

	entries, err := s.ListAudit(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "", entries[0].PrevHash)
	require.Equal(t, ">1", entries[0].Hash)
	require.Equal(t, ">1>2>3", entries[2].Hash)
	require.Equal(t, entries[1].Hash, entries[2].PrevHash)
	require.Equal(t, "old", *entries[0].Before)
	require.Nil(t, entries[0].After)

	recent, err := s.RecentAudit(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, int64(3), recent[0].Seq)
}

func TestAppendAudit_SealErrorLeavesChainUntouched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("no key")
	_, err := s.AppendAudit(ctx, store.AuditEntry{ID: ids.New(), Timestamp: epoch, ActorID: "u1", Action: "x",
		Severity: store.SeverityInfo, Category: store.CategoryAccount}, func(*store.AuditEntry) error { return boom })
	require.ErrorIs(t, err, boom)

	entries, err := s.ListAudit(ctx, 0, 10)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestLoginHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LastSuccessfulLogin(ctx, "u1")
	require.ErrorIs(t, err, store.ErrNotFound)

	for i, ok := range []bool{true, true, false} {
		require.NoError(t, s.InsertLoginRecord(ctx, store.LoginRecord{
			ID: ids.New(), IdentityID: "u1", Timestamp: epoch.Add(time.Duration(i) * time.Minute),
			Method: "password", Success: ok, Origin: store.Origin{RemoteAddr: fmt.Sprintf("10.0.0.%d", i)},
		}))
	}
	last, err := s.LastSuccessfulLogin(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", last.Origin.RemoteAddr)

	require.NoError(t, s.InsertFieldAccess(ctx, store.FieldAccessRecord{
		ID: ids.New(), Timestamp: epoch, AccessorID: "u1", EntityType: "client",
		EntityID: "c1", Field: "ssn", AccessType: store.AccessRead,
	}))
}

// =============================================================================
// POSTGRES DIALECT (sqlmock)
// =============================================================================

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(db, DriverPostgres)
	require.NoError(t, err)
	return s, mock
}

func TestPostgres_ModifyLockoutLocksRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM identities WHERE id = \$1 FOR UPDATE`).
		WithArgs("id-1").
		WillReturnRows(sqlmock.NewRows([]string{"failed_attempts", "locked_until", "last_failed_at"}).
			AddRow(int64(1), nil, nil))
	mock.ExpectExec(`UPDATE identities`).
		WithArgs(int64(2), sqlmock.AnyArg(), sqlmock.AnyArg(), "id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	st, err := s.ModifyLockout(context.Background(), "id-1", func(st *store.LockoutState) error {
		st.FailedAttempts++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, st.FailedAttempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UniqueViolationIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO identities`).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "identities_username_key"})

	err := s.CreateIdentity(context.Background(), store.Identity{ID: "x", Username: "dup", Role: "clerk", CreatedAt: epoch})
	require.ErrorIs(t, err, store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendAuditLocksHead(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT seq, hash FROM audit_chain_head WHERE id = 1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "hash"}).AddRow(int64(41), "abc"))
	mock.ExpectExec(`INSERT INTO audit_entries`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE audit_chain_head SET seq = \$1, hash = \$2 WHERE id = 1`).
		WithArgs(int64(42), "abc+").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e, err := s.AppendAudit(context.Background(), store.AuditEntry{ID: "e", Timestamp: epoch, Action: "a",
		Severity: store.SeverityInfo, Category: store.CategoryAccount}, func(e *store.AuditEntry) error {
		e.Hash = e.PrevHash + "+"
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), e.Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}
