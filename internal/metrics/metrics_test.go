// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.AuthAttempt("password", true)
		m.Lockout()
		m.MFAVerification("totp", false)
		m.SessionCreated()
		m.SessionTerminated("logout", 2)
		m.AuthzDecision("role", true)
		m.AuditWrite("session")
		m.AuditWriteFailure()
		m.Redacted(3)
		m.PasswordViolation("min_length")
		m.Escalation(true)
	})
}

func TestRecording(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	m.AuthAttempt("password", true)
	m.AuthAttempt("password", false)
	m.AuthAttempt("password", false)
	m.SessionTerminated("capacity", 2)
	m.SessionTerminated("capacity", 0)
	m.AuthzDecision("grant", false)
	m.Redacted(4)
	m.Escalation(false)
	m.Escalation(true)

	require.Equal(t, 2.0, testutil.ToFloat64(m.authAttempts.WithLabelValues("password", OutcomeFailure)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.authAttempts.WithLabelValues("password", OutcomeSuccess)))
	require.Equal(t, 2.0, testutil.ToFloat64(m.sessionsTerminated.WithLabelValues("capacity")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.authzDecisions.WithLabelValues("grant", OutcomeDeny)))
	require.Equal(t, 4.0, testutil.ToFloat64(m.redactedFields))
	require.Equal(t, 1.0, testutil.ToFloat64(m.escalations))
	require.Equal(t, 1.0, testutil.ToFloat64(m.escalationsDropped))
}

func TestRegisterTwiceFails(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	require.Error(t, m.Register(reg))
}

func TestHandler(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	m.Lockout()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), MetricLockoutsTotal+" 1"))
}
