// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security implements the LexGuard identity and trust core.
//
// # Package Organization
//
// The security package is organized into focused subpackages:
//
//   - password: password policy, hashing and rotation (IA-5)
//   - mfa: TOTP enrollment, verification and backup codes (IA-2(1), IA-2(8))
//   - auth: session issue, validation and termination (AC-10, AC-12)
//   - access: account lockout and permission resolution (AC-3, AC-6, AC-7)
//   - audit: hash-chained audit ledger and escalation (AU-2, AU-3, AU-5, AU-9)
//   - classification: sensitivity levels and redaction (AC-4)
//   - crypto: AEAD sealing of secrets at rest (SC-13, SC-28)
//
// This package wires them into Core, which runs the request flow:
//
//	lockout check -> password -> second factor -> session issue
//	token validation -> authorization -> audit -> redaction
//
// # Usage
//
//	core, err := security.NewCore(st, st, security.Components{...})
//
//	res, err := core.Login(ctx, security.LoginRequest{
//	    Username: "casey",
//	    Password: pw,
//	    Origin:   store.Origin{RemoteAddr: r.RemoteAddr},
//	})
//	if res.Outcome == security.OutcomeMFARequired {
//	    // ask for a code and call Login again with Code set
//	}
//
//	p, err := core.Authorize(ctx, res.Token, "case.read",
//	    &access.Context{Department: matter.Department})
//	out, err := core.Filter(ctx, res.Token, payload)
//
// Components hold no mutable state; everything shared lives in the store,
// so any number of processes can serve the same identities.
package security
