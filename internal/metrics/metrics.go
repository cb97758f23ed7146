// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics defines the Prometheus collectors exported by the
// identity and trust core.
//
// All recording methods are safe on a nil *Metrics so that components can
// be built without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric names.
const (
	MetricAuthAttemptsTotal        = "lexguard_auth_attempts_total"
	MetricLockoutsTotal            = "lexguard_lockouts_total"
	MetricMFAVerificationsTotal    = "lexguard_mfa_verifications_total"
	MetricSessionsCreatedTotal     = "lexguard_sessions_created_total"
	MetricSessionsTerminatedTotal  = "lexguard_sessions_terminated_total"
	MetricAuthzDecisionsTotal      = "lexguard_authz_decisions_total"
	MetricAuditWritesTotal         = "lexguard_audit_writes_total"
	MetricAuditWriteFailuresTotal  = "lexguard_audit_write_failures_total"
	MetricRedactedFieldsTotal      = "lexguard_redacted_fields_total"
	MetricPasswordViolationsTotal  = "lexguard_password_violations_total"
	MetricAuditEscalationsTotal    = "lexguard_audit_escalations_total"
	MetricAuditEscalationsDropped  = "lexguard_audit_escalations_dropped_total"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeAllow   = "allow"
	OutcomeDeny    = "deny"
)

// Metrics holds the collectors. All operations are thread-safe.
type Metrics struct {
	authAttempts        *prometheus.CounterVec
	lockouts            prometheus.Counter
	mfaVerifications    *prometheus.CounterVec
	sessionsCreated     prometheus.Counter
	sessionsTerminated  *prometheus.CounterVec
	authzDecisions      *prometheus.CounterVec
	auditWrites         *prometheus.CounterVec
	auditWriteFailures  prometheus.Counter
	redactedFields      prometheus.Counter
	passwordViolations  *prometheus.CounterVec
	escalations         prometheus.Counter
	escalationsDropped  prometheus.Counter
}

// New creates the collectors. They are not registered; call Register.
func New() *Metrics {
	return &Metrics{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricAuthAttemptsTotal,
			Help: "Authentication attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricLockoutsTotal,
			Help: "Accounts transitioned into the locked state.",
		}),
		mfaVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricMFAVerificationsTotal,
			Help: "MFA verifications by factor (totp, backup_code) and outcome.",
		}, []string{"factor", "outcome"}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSessionsCreatedTotal,
			Help: "Sessions issued.",
		}),
		sessionsTerminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSessionsTerminatedTotal,
			Help: "Sessions terminated by reason.",
		}, []string{"reason"}),
		authzDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricAuthzDecisionsTotal,
			Help: "Authorization decisions by source (grant, role) and outcome.",
		}, []string{"source", "outcome"}),
		auditWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricAuditWritesTotal,
			Help: "Audit entries written by category.",
		}, []string{"category"}),
		auditWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditWriteFailuresTotal,
			Help: "Audit writes that could not be made durable.",
		}),
		redactedFields: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRedactedFieldsTotal,
			Help: "Payload fields replaced by the redaction marker.",
		}),
		passwordViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPasswordViolationsTotal,
			Help: "Password policy violations by rule.",
		}, []string{"rule"}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditEscalationsTotal,
			Help: "Audit failure alerts published.",
		}),
		escalationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditEscalationsDropped,
			Help: "Audit failure alerts suppressed by the rate limit.",
		}),
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.authAttempts,
		m.lockouts,
		m.mfaVerifications,
		m.sessionsCreated,
		m.sessionsTerminated,
		m.authzDecisions,
		m.auditWrites,
		m.auditWriteFailures,
		m.redactedFields,
		m.passwordViolations,
		m.escalations,
		m.escalationsDropped,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func outcome(ok bool) string {
	if ok {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// =============================================================================
// RECORDING
// =============================================================================

func (m *Metrics) AuthAttempt(method string, ok bool) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(method, outcome(ok)).Inc()
}

func (m *Metrics) Lockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

func (m *Metrics) MFAVerification(factor string, ok bool) {
	if m == nil {
		return
	}
	m.mfaVerifications.WithLabelValues(factor, outcome(ok)).Inc()
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

func (m *Metrics) SessionTerminated(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsTerminated.WithLabelValues(reason).Add(float64(n))
}

// AuthzDecision records one permission decision. source is "grant" or
// "role".
func (m *Metrics) AuthzDecision(source string, allowed bool) {
	if m == nil {
		return
	}
	label := OutcomeDeny
	if allowed {
		label = OutcomeAllow
	}
	m.authzDecisions.WithLabelValues(source, label).Inc()
}

func (m *Metrics) AuditWrite(category string) {
	if m == nil {
		return
	}
	m.auditWrites.WithLabelValues(category).Inc()
}

func (m *Metrics) AuditWriteFailure() {
	if m == nil {
		return
	}
	m.auditWriteFailures.Inc()
}

func (m *Metrics) Redacted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.redactedFields.Add(float64(n))
}

func (m *Metrics) PasswordViolation(rule string) {
	if m == nil {
		return
	}
	m.passwordViolations.WithLabelValues(rule).Inc()
}

func (m *Metrics) Escalation(dropped bool) {
	if m == nil {
		return
	}
	if dropped {
		m.escalationsDropped.Inc()
		return
	}
	m.escalations.Inc()
}
