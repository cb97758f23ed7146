// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for lexguard.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - DatabaseConfig: Store backend (sqlite or postgres)
//   - MFAConfig: TOTP parameters and the sealing key variable
//   - AuditConfig: Chain key variable and Redis escalation
//
// Password, session and lockout sections reuse the engine types directly
// (password.Policy, auth.Config, access.GuardConfig).
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (LEXGUARD_*)
//   - --config path or ~/.lexguard/config.toml
//   - Built-in defaults
//
// Secrets never live in the file. The audit chain key and the MFA sealing
// key are read from the variables named by audit.key_env and mfa.key_env.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sessions := auth.NewSessionManager(cfg.Session, st, st, guard, ledger)
package config
