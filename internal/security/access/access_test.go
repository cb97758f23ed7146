// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package access

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/lexguard/internal/security/audit"
	"github.com/jeranaias/lexguard/internal/store"
	"github.com/jeranaias/lexguard/internal/store/sqlstore"
	"github.com/jeranaias/lexguard/internal/store/storetest"
)

// =============================================================================
// HELPERS
// =============================================================================

type fixture struct {
	db     *sqlstore.Store
	clock  *storetest.Clock
	ledger *audit.Ledger
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := storetest.New(t)
	clock := storetest.NewClock()
	return fixture{db: db, clock: clock, ledger: storetest.NewLedger(t, db, clock)}
}

func (f fixture) guard() *Guard {
	return NewGuard(DefaultGuardConfig(), f.db, f.ledger, WithGuardClock(f.clock.Now))
}

func (f fixture) actions(t *testing.T) []string {
	t.Helper()
	entries, err := f.db.ListAudit(context.Background(), 0, 1000)
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

// =============================================================================
// AC-7 LOCKOUT TESTS
// =============================================================================

func TestGuard_LocksAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	g := f.guard()
	ctx := context.Background()
	id := storetest.SeedIdentity(t, f.db, "casey").ID

	for i := 1; i < DefaultMaxAttempts; i++ {
		res, err := g.RecordFailure(ctx, id)
		require.NoError(t, err)
		require.False(t, res.Locked)
		require.Equal(t, DefaultMaxAttempts-i, res.AttemptsRemaining)
	}

	res, err := g.RecordFailure(ctx, id)
	require.NoError(t, err)
	require.True(t, res.Locked)
	require.Zero(t, res.AttemptsRemaining)
	require.Equal(t, f.clock.Now().Add(DefaultLockoutDuration), *res.LockedUntil)

	locked, err := g.IsLocked(ctx, id)
	require.NoError(t, err)
	require.True(t, locked)

	require.Equal(t, []string{audit.ActionLockout}, f.actions(t))
}

func TestGuard_SuccessResetsCounter(t *testing.T) {
	f := newFixture(t)
	g := f.guard()
	ctx := context.Background()
	id := storetest.SeedIdentity(t, f.db, "casey").ID

	for i := 0; i < DefaultMaxAttempts-1; i++ {
		_, err := g.RecordFailure(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, g.RecordSuccess(ctx, id))

	// A full fresh run is needed to lock again.
	for i := 0; i < DefaultMaxAttempts-1; i++ {
		res, err := g.RecordFailure(ctx, id)
		require.NoError(t, err)
		require.False(t, res.Locked)
	}
	res, err := g.RecordFailure(ctx, id)
	require.NoError(t, err)
	require.True(t, res.Locked)
}

func TestGuard_LockExpiresWithoutUnlock(t *testing.T) {
	f := newFixture(t)
	g := f.guard()
	ctx := context.Background()
	id := storetest.SeedIdentity(t, f.db, "casey").ID

	for i := 0; i < DefaultMaxAttempts; i++ {
		_, err := g.RecordFailure(ctx, id)
		require.NoError(t, err)
	}

	f.clock.Advance(DefaultLockoutDuration - time.Second)
	locked, err := g.IsLocked(ctx, id)
	require.NoError(t, err)
	require.True(t, locked)

	f.clock.Advance(2 * time.Second)
	locked, err = g.IsLocked(ctx, id)
	require.NoError(t, err)
	require.False(t, locked)
}

func TestGuard_FailureAfterExpiryRelocks(t *testing.T) {
	f := newFixture(t)
	g := f.guard()
	ctx := context.Background()
	id := storetest.SeedIdentity(t, f.db, "casey").ID

	for i := 0; i < DefaultMaxAttempts; i++ {
		_, err := g.RecordFailure(ctx, id)
		require.NoError(t, err)
	}
	f.clock.Advance(DefaultLockoutDuration + time.Second)

	// The counter only resets on success, so one failure locks again.
	res, err := g.RecordFailure(ctx, id)
	require.NoError(t, err)
	require.True(t, res.Locked)
	require.Equal(t, f.clock.Now().Add(DefaultLockoutDuration), *res.LockedUntil)

	st, err := g.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, DefaultMaxAttempts+1, st.FailedAttempts)

	require.Equal(t, []string{audit.ActionLockout, audit.ActionLockExpired, audit.ActionLockout}, f.actions(t))
}

func TestGuard_SuccessAfterExpiryAuditsExpiry(t *testing.T) {
	f := newFixture(t)
	g := f.guard()
	ctx := context.Background()
	id := storetest.SeedIdentity(t, f.db, "casey").ID

	for i := 0; i < DefaultMaxAttempts; i++ {
		_, err := g.RecordFailure(ctx, id)
		require.NoError(t, err)
	}
	f.clock.Advance(DefaultLockoutDuration + time.Second)

	require.NoError(t, g.RecordSuccess(ctx, id))
	require.NoError(t, g.RecordSuccess(ctx, id))

	st, err := g.Status(ctx, id)
	require.NoError(t, err)
	require.Zero(t, st.FailedAttempts)
	require.Nil(t, st.LockedUntil)
	require.Equal(t, []string{audit.ActionLockout, audit.ActionLockExpired}, f.actions(t))
}

func TestGuard_FailuresWhileLockedAreNotCounted(t *testing.T) {
	f := newFixture(t)
	g := f.guard()
	ctx := context.Background()
	id := storetest.SeedIdentity(t, f.db, "casey").ID

	for i := 0; i < DefaultMaxAttempts+4; i++ {
		_, err := g.RecordFailure(ctx, id)
		require.NoError(t, err)
	}
	st, err := g.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, DefaultMaxAttempts, st.FailedAttempts)
	require.Len(t, f.actions(t), 1, "one lockout transition")
}

func TestGuard_AdminUnlock(t *testing.T) {
	f := newFixture(t)
	g := f.guard()
	ctx := context.Background()
	id := storetest.SeedIdentity(t, f.db, "casey").ID

	for i := 0; i < DefaultMaxAttempts; i++ {
		_, err := g.RecordFailure(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, g.AdminUnlock(ctx, id, "admin-1"))

	locked, err := g.IsLocked(ctx, id)
	require.NoError(t, err)
	require.False(t, locked)

	st, err := g.Status(ctx, id)
	require.NoError(t, err)
	require.Zero(t, st.FailedAttempts)
	require.Nil(t, st.LockedUntil)

	entries, err := f.db.RecentAudit(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, audit.ActionAdminUnlock, entries[0].Action)
	require.Equal(t, "admin-1", entries[0].ActorID)
	require.Contains(t, entries[0].Message, "was_locked=true")
}

func TestGuard_UnknownIdentity(t *testing.T) {
	f := newFixture(t)
	g := f.guard()
	ctx := context.Background()

	locked, err := g.IsLocked(ctx, "nobody")
	require.NoError(t, err)
	require.False(t, locked)

	_, err = g.RecordFailure(ctx, "nobody")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.ErrorIs(t, g.AdminUnlock(ctx, "nobody", "admin"), store.ErrNotFound)
}

func TestGuard_ZeroMaxAttemptsLocksImmediately(t *testing.T) {
	f := newFixture(t)
	g := NewGuard(GuardConfig{MaxAttempts: 0, LockoutDuration: time.Minute}, f.db, f.ledger, WithGuardClock(f.clock.Now))
	id := storetest.SeedIdentity(t, f.db, "casey").ID

	res, err := g.RecordFailure(context.Background(), id)
	require.NoError(t, err)
	require.True(t, res.Locked)
}

func TestGuard_ConcurrentFailuresNoLostUpdates(t *testing.T) {
	f := newFixture(t)
	g := NewGuard(GuardConfig{MaxAttempts: 100, LockoutDuration: time.Minute}, f.db, f.ledger, WithGuardClock(f.clock.Now))
	id := storetest.SeedIdentity(t, f.db, "casey").ID

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.RecordFailure(context.Background(), id)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	st, err := g.Status(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, workers, st.FailedAttempts)
}
