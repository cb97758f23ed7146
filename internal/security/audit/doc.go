// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit records security-relevant actions durably and detects
// tampering with the record.
//
// This package implements NIST 800-53 AU-* controls:
//   - AU-2/AU-3: every authorization denial, MFA failure, lockout
//     transition and administrative override produces an AuditEntry
//   - AU-5: a write that cannot be made durable is escalated and fails
//     the enclosing operation
//   - AU-6: Review summarises recent entries and flags anomalies
//   - AU-9: entries form an HMAC-SHA256 hash chain
//
// # Ledger
//
//	ledger, err := audit.NewLedger(st, key, audit.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	err = ledger.RecordFailure(ctx, audit.Failure{
//	    ActorID: id, Action: audit.ActionPermissionDenied, Message: "case.delete",
//	})
//	report, err := ledger.Verify(ctx)
//
// # Escalation
//
// A failed write is handed to an Escalator before the error is returned.
// LogEscalator writes an error log; RedisEscalator publishes a JSON alert
// on a channel, throttled by a token bucket; MultiEscalator fans out.
package audit
