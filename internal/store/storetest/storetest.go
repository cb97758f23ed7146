// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storetest provides a migrated SQLite store, seed helpers and a
// controllable clock for component tests.
package storetest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/lexguard/internal/ids"
	"github.com/jeranaias/lexguard/internal/security/audit"
	"github.com/jeranaias/lexguard/internal/security/classification"
	"github.com/jeranaias/lexguard/internal/store"
	"github.com/jeranaias/lexguard/internal/store/sqlstore"
)

// AuditKey is the chain key used by NewLedger.
var AuditKey = []byte("0123456789abcdef0123456789abcdef")

// Epoch is the default clock start.
var Epoch = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

// New opens a migrated SQLite store in a temp directory.
func New(t testing.TB) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(sqlstore.Config{Driver: sqlstore.DriverSQLite, DSN: filepath.Join(t.TempDir(), "lexguard.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Migrate(context.Background())
	require.NoError(t, err)
	return s
}

// Identity overrides SeedIdentity defaults.
type Identity func(*store.Identity)

// SeedIdentity creates an active confidential attorney in litigation.
func SeedIdentity(t testing.TB, st store.IdentityStore, username string, opts ...Identity) store.Identity {
	t.Helper()
	ident := store.Identity{
		ID:         ids.New(),
		Username:   username,
		Role:       "attorney",
		Department: "litigation",
		Clearance:  classification.LevelConfidential,
		Active:     true,
		CreatedAt:  Epoch,
	}
	for _, opt := range opts {
		opt(&ident)
	}
	require.NoError(t, st.CreateIdentity(context.Background(), ident))
	return ident
}

// NewLedger returns a ledger over st using AuditKey and clock.
func NewLedger(t testing.TB, st store.AuditStore, clock *Clock) *audit.Ledger {
	t.Helper()
	l, err := audit.NewLedger(st, AuditKey, audit.WithClock(clock.Now))
	require.NoError(t, err)
	return l
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at Epoch.
func NewClock() *Clock {
	return &Clock{now: Epoch}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
