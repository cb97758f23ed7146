// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the lexguard command line.
//
// Commands are built with cobra. Every command accepts --config, --json
// and --actor; --actor names the operator recorded in audit entries and
// defaults to the local user. Commands that touch the database open the
// whole engine stack through openApp and refuse to run against a schema
// older than the code ("lexguard migrate" first).
//
// # Commands Overview
//
// Administration:
//   - identity: provision, show, disable, enable (AC-2)
//   - password: check, set, change, require-change (IA-5)
//   - mfa: enroll, status, disable (IA-2(1))
//   - lockout: status, unlock (AC-7)
//   - session: list, revoke, revoke-all (AC-10, AC-12)
//   - authz: check, grant, grants, roles, load-policy (AC-3, AC-6)
//
// Runtime:
//   - login, whoami, logout: the full authentication flow
//   - classify, redact: field classification of JSON documents (AC-4)
//
// Operations:
//   - audit: verify, tail, review, keygen (AU-6, AU-9)
//   - metrics serve: Prometheus endpoint (SI-4)
//   - doctor: deployment health checks
//   - config: show, get, set, init (CM-6)
//   - migrate: schema creation and upgrade
//
// # Exit Codes
//
// 0 success, 1 general, 2 usage, 3 config or keys, 4 authentication,
// 5 network, 6 integrity failure, 7 not found, 8 timeout.
//
// # Secrets
//
// Passwords and codes are never flags. They are prompted for with echo
// off on a terminal, or read one per line from stdin otherwise.
package cli
