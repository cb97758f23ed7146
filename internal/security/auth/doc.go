// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth provides session management.
//
// This package implements NIST 800-53 controls:
//   - AC-10: Concurrent Session Control
//   - AC-12: Session Termination
//   - SC-23: Session Authenticity
//
// # Session Management
//
// Sessions live in the store; the manager holds no session state. Tokens
// are 256-bit random values handed to the client once. Only their SHA-256
// is persisted.
//
//	mgr := auth.NewSessionManager(auth.DefaultConfig(), st, st, guard, ledger)
//
//	token, sess, err := mgr.Create(ctx, identityID, origin)
//
//	v, err := mgr.Validate(ctx, token)
//	if !v.Valid {
//	    // Expired, terminated, unknown or the owner is inactive/locked
//	}
//	if v.Warn {
//	    // Less than WarnBefore remains
//	}
//
// Creating a session past MaxSessions terminates the owner's least
// recently active session in the same transaction.
package auth
