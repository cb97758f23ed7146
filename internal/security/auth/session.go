// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth provides session management.
//
// This file implements NIST 800-53 AC-12 session controls.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// AC-12 session constants.
const (
	// DefaultMaxSessions is the default concurrent session cap per identity.
	DefaultMaxSessions = 3

	// DefaultIdleTimeout is the inactivity timeout: 15 minutes.
	DefaultIdleTimeout = 15 * time.Minute

	// DefaultMaxLifetime is the absolute session lifetime: 12 hours.
	// Sessions end after this time regardless of activity.
	DefaultMaxLifetime = 12 * time.Hour

	// DefaultWarnBefore is the near-expiry warning threshold: 2 minutes.
	DefaultWarnBefore = 2 * time.Minute

	// DefaultTouchInterval is the minimum gap between persisted activity
	// updates for one session.
	DefaultTouchInterval = time.Minute

	// TokenBytes is the token entropy in bytes (256 bits).
	TokenBytes = 32
)

// =============================================================================
// CONFIG
// =============================================================================

// Config holds session limits.
type Config struct {
	MaxSessions      int           `toml:"max_sessions"`
	IdleTimeout      time.Duration `toml:"idle_timeout"`
	MaxLifetime      time.Duration `toml:"max_lifetime"`
	WarnBefore       time.Duration `toml:"warn_before"`
	ExtendOnActivity bool          `toml:"extend_on_activity"`
	TouchInterval    time.Duration `toml:"touch_interval"`
}

// DefaultConfig returns the default session limits.
func DefaultConfig() Config {
	return Config{
		MaxSessions:      DefaultMaxSessions,
		IdleTimeout:      DefaultIdleTimeout,
		MaxLifetime:      DefaultMaxLifetime,
		WarnBefore:       DefaultWarnBefore,
		ExtendOnActivity: true,
		TouchInterval:    DefaultTouchInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = DefaultMaxLifetime
	}
	if c.WarnBefore < 0 {
		c.WarnBefore = 0
	}
	if c.TouchInterval < 0 {
		c.TouchInterval = 0
	}
	return c
}

// =============================================================================
// VALIDATION RESULT
// =============================================================================

// State is the outcome of validating a token.
type State int

const (
	// StateUnknown means no session matches the token.
	StateUnknown State = iota
	// StateActive means the session is valid.
	StateActive
	// StateWarning means the session is valid but close to expiry.
	StateWarning
	// StateExpired means the idle or absolute deadline has passed.
	StateExpired
	// StateTerminated means the session was explicitly ended.
	StateTerminated
	// StateDenied means the owning identity is inactive or locked.
	StateDenied
)

// String returns a string representation of the State.
func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateWarning:
		return "WARNING"
	case StateExpired:
		return "EXPIRED"
	case StateTerminated:
		return "TERMINATED"
	case StateDenied:
		return "DENIED"
	default:
		return "UNKNOWN"
	}
}

// IsActive returns true if the state allows activity.
func (s State) IsActive() bool {
	return s == StateActive || s == StateWarning
}

// Validation is the result of SessionManager.Validate.
type Validation struct {
	Valid      bool      `json:"valid"`
	State      State     `json:"state"`
	IdentityID string    `json:"identity_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	Warn       bool      `json:"warn"`
}

// =============================================================================
// TOKENS
// =============================================================================

// newToken returns a URL-safe token carrying TokenBytes of entropy.
func newToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the persisted form of a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
