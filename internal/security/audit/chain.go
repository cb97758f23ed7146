// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeranaias/lexguard/internal/store"
)

// =============================================================================
// CANONICAL FORM
// =============================================================================

// canonicalEntry fixes the field order hashed into the chain. Hash itself
// is excluded; Seq and PrevHash are included so that entries cannot be
// reordered or re-linked.
type canonicalEntry struct {
	Seq          int64   `json:"seq"`
	ID           string  `json:"id"`
	Timestamp    int64   `json:"ts"`
	ActorID      string  `json:"actor"`
	Action       string  `json:"action"`
	EntityType   string  `json:"entity_type"`
	EntityID     string  `json:"entity_id"`
	Before       *string `json:"before"`
	After        *string `json:"after"`
	Success      bool    `json:"success"`
	Message      string  `json:"message"`
	Severity     string  `json:"severity"`
	Category     string  `json:"category"`
	PII          bool    `json:"pii"`
	Confidential bool    `json:"confidential"`
	RemoteAddr   string  `json:"remote_addr"`
	UserAgent    string  `json:"user_agent"`
	PrevHash     string  `json:"prev_hash"`
}

func canonicalize(e *store.AuditEntry) ([]byte, error) {
	return json.Marshal(canonicalEntry{
		Seq:          e.Seq,
		ID:           e.ID,
		Timestamp:    e.Timestamp.UTC().UnixNano(),
		ActorID:      e.ActorID,
		Action:       e.Action,
		EntityType:   e.EntityType,
		EntityID:     e.EntityID,
		Before:       e.Before,
		After:        e.After,
		Success:      e.Success,
		Message:      e.Message,
		Severity:     string(e.Severity),
		Category:     string(e.Category),
		PII:          e.PII,
		Confidential: e.Confidential,
		RemoteAddr:   e.Origin.RemoteAddr,
		UserAgent:    e.Origin.UserAgent,
		PrevHash:     e.PrevHash,
	})
}

func computeMAC(key, prev, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(prev)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// chainHash returns HMAC-SHA256(key, prev_hash || canonical entry).
func chainHash(key []byte, e *store.AuditEntry) (string, error) {
	data, err := canonicalize(e)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit entry: %w", err)
	}
	return computeMAC(key, []byte(e.PrevHash), data), nil
}

// =============================================================================
// VERIFICATION
// =============================================================================

// ChainReport is the result of walking the chain.
type ChainReport struct {
	CheckedAt time.Time `json:"checked_at"`
	Verified  bool      `json:"verified"`
	Entries   int       `json:"entries"`
	// FirstBroken is the sequence number of the first entry that fails a
	// check, or 0.
	FirstBroken int64    `json:"first_broken,omitempty"`
	Issues      []string `json:"issues,omitempty"`
}

func (r *ChainReport) fail(seq int64, format string, args ...any) {
	if r.FirstBroken == 0 {
		r.FirstBroken = seq
	}
	r.Issues = append(r.Issues, fmt.Sprintf("entry %d: ", seq)+fmt.Sprintf(format, args...))
}

const verifyPageSize = 500

// verifyChain walks every entry in sequence order and checks numbering,
// linkage and the keyed hash. Timestamps are not required to ascend:
// concurrent writers stamp entries before the head lock orders them, so
// order is proven by Seq and PrevHash. The timestamp is still covered by
// the hash.
func verifyChain(ctx context.Context, st store.AuditStore, key []byte, now time.Time) (*ChainReport, error) {
	report := &ChainReport{CheckedAt: now}

	var (
		after    int64
		prevHash string
	)
	for {
		page, err := st.ListAudit(ctx, after, verifyPageSize)
		if err != nil {
			return nil, store.Integrity("audit.verify", err)
		}
		for i := range page {
			e := &page[i]
			report.Entries++

			if e.Seq != after+1 {
				report.fail(e.Seq, "sequence gap after %d", after)
			}
			if e.PrevHash != prevHash {
				report.fail(e.Seq, "previous hash mismatch")
			}
			want, err := chainHash(key, e)
			if err != nil {
				return nil, err
			}
			if !hmac.Equal([]byte(want), []byte(e.Hash)) {
				report.fail(e.Seq, "invalid chain hash")
			}

			after = e.Seq
			prevHash = e.Hash
		}
		if len(page) < verifyPageSize {
			break
		}
	}

	report.Verified = len(report.Issues) == 0
	return report, nil
}
