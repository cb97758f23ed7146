// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/lexguard/internal/store"
)

// =============================================================================
// AU-6: REVIEW CONFIGURATION
// =============================================================================

// ReviewConfig holds the anomaly thresholds used by Review.
type ReviewConfig struct {
	FailedAuthThreshold int `json:"failed_auth_threshold" toml:"failed_auth_threshold"`
	DenialThreshold     int `json:"denial_threshold" toml:"denial_threshold"`
	UnusualHoursStart   int `json:"unusual_hours_start" toml:"unusual_hours_start"` // 0-23
	UnusualHoursEnd     int `json:"unusual_hours_end" toml:"unusual_hours_end"`     // 0-23
}

// DefaultReviewConfig returns the default thresholds.
func DefaultReviewConfig() ReviewConfig {
	return ReviewConfig{
		FailedAuthThreshold: 3,
		DenialThreshold:     10,
		UnusualHoursStart:   22,
		UnusualHoursEnd:     6,
	}
}

// =============================================================================
// REVIEW RESULT
// =============================================================================

// Anomaly is a pattern worth a reviewer's attention.
type Anomaly struct {
	Type        string         `json:"type"`
	Severity    store.Severity `json:"severity"`
	Description string         `json:"description"`
	ActorID     string         `json:"actor_id,omitempty"`
}

// Indicators are the security counters extracted from the window.
type Indicators struct {
	FailedLogins     int       `json:"failed_logins"`
	SuspiciousLogins int       `json:"suspicious_logins"`
	Lockouts         int       `json:"lockouts"`
	Denials          int       `json:"denials"`
	AdminOverrides   int       `json:"admin_overrides"`
	UnusualHours     int       `json:"unusual_hours"`
	LastSecurityAt   time.Time `json:"last_security_event,omitempty"`
}

// ReviewResult summarises a set of audit entries.
type ReviewResult struct {
	WindowStart  time.Time      `json:"window_start"`
	WindowEnd    time.Time      `json:"window_end"`
	TotalEntries int            `json:"total_entries"`
	FailureCount int            `json:"failure_count"`
	ByCategory   map[string]int `json:"by_category"`
	BySeverity   map[string]int `json:"by_severity"`
	Indicators   Indicators     `json:"indicators"`
	Anomalies    []Anomaly      `json:"anomalies,omitempty"`
}

var adminActions = map[string]bool{
	ActionAdminUnlock:        true,
	ActionMFADisabled:        true,
	ActionGrantCreated:       true,
	ActionRolePermissionSet:  true,
	ActionRolePermissionDrop: true,
	ActionSessionRevokedAll:  true,
}

// Review analyses entries (any order).
func Review(entries []store.AuditEntry, cfg ReviewConfig) *ReviewResult {
	res := &ReviewResult{
		TotalEntries: len(entries),
		ByCategory:   make(map[string]int),
		BySeverity:   make(map[string]int),
	}

	failedByActor := make(map[string]int)
	deniedByActor := make(map[string]int)

	for _, e := range entries {
		if res.WindowStart.IsZero() || e.Timestamp.Before(res.WindowStart) {
			res.WindowStart = e.Timestamp
		}
		if e.Timestamp.After(res.WindowEnd) {
			res.WindowEnd = e.Timestamp
		}
		res.ByCategory[string(e.Category)]++
		res.BySeverity[string(e.Severity)]++
		if !e.Success {
			res.FailureCount++
		}

		security := false
		switch {
		case e.Action == ActionLoginDenied:
			res.Indicators.FailedLogins++
			failedByActor[e.ActorID]++
			security = true
		case e.Action == ActionLockout:
			res.Indicators.Lockouts++
			security = true
		case e.Action == ActionPermissionDenied || e.Action == ActionFieldAccessDenied:
			res.Indicators.Denials++
			deniedByActor[e.ActorID]++
		case adminActions[e.Action]:
			res.Indicators.AdminOverrides++
			security = true
		}
		if strings.Contains(e.Message, "suspicious=true") {
			res.Indicators.SuspiciousLogins++
			security = true
		}
		if cfg.isUnusualHour(e.Timestamp.Hour()) {
			res.Indicators.UnusualHours++
		}
		if security && e.Timestamp.After(res.Indicators.LastSecurityAt) {
			res.Indicators.LastSecurityAt = e.Timestamp
		}
	}

	for _, actor := range sortedKeys(failedByActor) {
		if n := failedByActor[actor]; cfg.FailedAuthThreshold > 0 && n >= cfg.FailedAuthThreshold {
			res.Anomalies = append(res.Anomalies, Anomaly{
				Type:        "FAILED_AUTH_THRESHOLD",
				Severity:    store.SeverityHigh,
				Description: fmt.Sprintf("%d failed logins", n),
				ActorID:     actor,
			})
		}
	}
	for _, actor := range sortedKeys(deniedByActor) {
		if n := deniedByActor[actor]; cfg.DenialThreshold > 0 && n >= cfg.DenialThreshold {
			res.Anomalies = append(res.Anomalies, Anomaly{
				Type:        "DENIAL_THRESHOLD",
				Severity:    store.SeverityMedium,
				Description: fmt.Sprintf("%d authorization denials", n),
				ActorID:     actor,
			})
		}
	}
	if res.Indicators.SuspiciousLogins > 0 {
		res.Anomalies = append(res.Anomalies, Anomaly{
			Type:        "SUSPICIOUS_LOGIN",
			Severity:    store.SeverityHigh,
			Description: fmt.Sprintf("%d logins from a new network origin", res.Indicators.SuspiciousLogins),
		})
	}
	return res
}

func (c ReviewConfig) isUnusualHour(hour int) bool {
	start, end := c.UnusualHoursStart, c.UnusualHoursEnd
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	// Window wraps midnight.
	return hour >= start || hour < end
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
