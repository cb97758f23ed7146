// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/lexguard/internal/store"
)

func TestReview(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return day.Add(time.Duration(h) * time.Hour) }

	entries := []store.AuditEntry{
		{ActorID: "u1", Action: ActionLoginDenied, Timestamp: at(9), Category: store.CategoryAuthentication, Severity: store.SeverityMedium},
		{ActorID: "u1", Action: ActionLoginDenied, Timestamp: at(10), Category: store.CategoryAuthentication, Severity: store.SeverityMedium},
		{ActorID: "u1", Action: ActionLoginDenied, Timestamp: at(11), Category: store.CategoryAuthentication, Severity: store.SeverityMedium},
		{ActorID: "u1", Action: ActionLockout, Timestamp: at(11), Category: store.CategoryAccount, Severity: store.SeverityHigh},
		{ActorID: "admin", Action: ActionAdminUnlock, Timestamp: at(12), Success: true, Category: store.CategoryAdministration, Severity: store.SeverityHigh},
		{ActorID: "u2", Action: ActionLogin, Timestamp: at(23), Success: true, Category: store.CategoryAuthentication,
			Severity: store.SeverityHigh, Message: "method=password mfa=false suspicious=true"},
		{ActorID: "u3", Action: ActionPermissionDenied, Timestamp: at(14), Category: store.CategoryAuthorization, Severity: store.SeverityMedium},
	}

	res := Review(entries, DefaultReviewConfig())

	require.Equal(t, 7, res.TotalEntries)
	require.Equal(t, 5, res.FailureCount)
	require.Equal(t, at(9), res.WindowStart)
	require.Equal(t, at(23), res.WindowEnd)
	require.Equal(t, 4, res.ByCategory[string(store.CategoryAuthentication)])
	require.Equal(t, 3, res.Indicators.FailedLogins)
	require.Equal(t, 1, res.Indicators.Lockouts)
	require.Equal(t, 1, res.Indicators.AdminOverrides)
	require.Equal(t, 1, res.Indicators.Denials)
	require.Equal(t, 1, res.Indicators.SuspiciousLogins)
	require.Equal(t, 1, res.Indicators.UnusualHours)
	require.Equal(t, at(23), res.Indicators.LastSecurityAt)

	require.Len(t, res.Anomalies, 2)
	require.Equal(t, "FAILED_AUTH_THRESHOLD", res.Anomalies[0].Type)
	require.Equal(t, "u1", res.Anomalies[0].ActorID)
	require.Equal(t, "SUSPICIOUS_LOGIN", res.Anomalies[1].Type)
}

func TestIsUnusualHour(t *testing.T) {
	wrap := ReviewConfig{UnusualHoursStart: 22, UnusualHoursEnd: 6}
	day := ReviewConfig{UnusualHoursStart: 12, UnusualHoursEnd: 14}

	tests := []struct {
		cfg  ReviewConfig
		hour int
		want bool
	}{
		{wrap, 23, true},
		{wrap, 2, true},
		{wrap, 6, false},
		{wrap, 12, false},
		{day, 12, true},
		{day, 14, false},
		{ReviewConfig{}, 3, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.cfg.isUnusualHour(tt.hour), "hour %d", tt.hour)
	}
}
