// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/lexguard/internal/ids"
	"github.com/jeranaias/lexguard/internal/logging"
	"github.com/jeranaias/lexguard/internal/metrics"
	"github.com/jeranaias/lexguard/internal/store"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidEntry is returned for entries missing an action or category.
	ErrInvalidEntry = errors.New("invalid audit entry")

	// ErrKeyRequired is returned when the ledger is built without a key.
	ErrKeyRequired = errors.New("audit chain key required")
)

// escalationTimeout bounds how long a failed write waits on its alert.
const escalationTimeout = 2 * time.Second

// =============================================================================
// LEDGER
// =============================================================================

// Ledger appends audit entries, field access records and login history.
// It holds no mutable state; ordering and chaining happen in the store.
type Ledger struct {
	store     store.AuditStore
	key       []byte
	now       func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Metrics
	escalator Escalator
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		l.logger = logging.OrNop(logger)
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithEscalator replaces the default log escalator.
func WithEscalator(e Escalator) Option {
	return func(l *Ledger) {
		if e != nil {
			l.escalator = e
		}
	}
}

// NewLedger builds a ledger over st. key authenticates the hash chain and
// must be KeySize bytes.
func NewLedger(st store.AuditStore, key []byte, opts ...Option) (*Ledger, error) {
	if len(key) == 0 {
		return nil, ErrKeyRequired
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("audit chain key must be %d bytes, got %d", KeySize, len(key))
	}
	l := &Ledger{
		store:  st,
		key:    append([]byte(nil), key...),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.escalator == nil {
		l.escalator = NewLogEscalator(l.logger)
	}
	return l, nil
}

// Record appends entry to the chain. ID, Timestamp and Severity are filled
// in when empty. A write that fails is escalated and returned as a
// store.IntegrityError.
func (l *Ledger) Record(ctx context.Context, entry store.AuditEntry) (store.AuditEntry, error) {
	if entry.Action == "" || entry.Category == "" {
		return store.AuditEntry{}, fmt.Errorf("%w: action and category are required", ErrInvalidEntry)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	entry.Timestamp = entry.Timestamp.UTC()
	if entry.ID == "" {
		entry.ID = ids.NewULID(entry.Timestamp)
	}
	if entry.Severity == "" {
		entry.Severity = store.SeverityInfo
	}

	saved, err := l.store.AppendAudit(ctx, entry, l.seal)
	if err != nil {
		return store.AuditEntry{}, l.failed(ctx, "audit.record", err, entry.ActorID, entry.Action, string(entry.Category))
	}
	l.metrics.AuditWrite(string(saved.Category))
	return saved, nil
}

func (l *Ledger) seal(e *store.AuditEntry) error {
	h, err := chainHash(l.key, e)
	if err != nil {
		return err
	}
	e.Hash = h
	return nil
}

// failed escalates a write failure and wraps it as an integrity error.
func (l *Ledger) failed(ctx context.Context, op string, err error, actor, action, category string) error {
	l.metrics.AuditWriteFailure()

	alert := Alert{
		Timestamp: l.now().UTC(),
		Op:        op,
		Error:     err.Error(),
		ActorID:   actor,
		Action:    action,
		Category:  category,
	}
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), escalationTimeout)
	defer cancel()
	if escErr := l.escalator.Escalate(ectx, alert); escErr != nil {
		l.logger.Error("audit escalation failed",
			zap.String("op", op),
			zap.NamedError("write_error", err),
			zap.Error(escErr),
		)
	}
	return store.Integrity(op, err)
}

// =============================================================================
// FAILURES
// =============================================================================

// Failure is a non-exceptional failure that still needs a durable trail,
// such as a permission denial.
type Failure struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Message    string
	Severity   store.Severity
	Category   store.Category
	Origin     store.Origin
}

// RecordFailure records f with Success=false. Severity defaults to medium
// and category to authorization.
func (l *Ledger) RecordFailure(ctx context.Context, f Failure) error {
	if f.Severity == "" {
		f.Severity = store.SeverityMedium
	}
	if f.Category == "" {
		f.Category = store.CategoryAuthorization
	}
	_, err := l.Record(ctx, store.AuditEntry{
		ActorID:    f.ActorID,
		Action:     f.Action,
		EntityType: f.EntityType,
		EntityID:   f.EntityID,
		Success:    false,
		Message:    f.Message,
		Severity:   f.Severity,
		Category:   f.Category,
		Origin:     f.Origin,
	})
	return err
}

// =============================================================================
// AUTHENTICATION EVENTS
// =============================================================================

// AuthEvent is one authentication attempt.
type AuthEvent struct {
	IdentityID    string
	Method        string
	Success       bool
	MFAUsed       bool
	Origin        store.Origin
	FailureReason string
	Suspicious    bool
}

// RecordAuthEvent writes a login history record and a correlated audit
// entry referencing it.
func (l *Ledger) RecordAuthEvent(ctx context.Context, ev AuthEvent) error {
	now := l.now().UTC()
	rec := store.LoginRecord{
		ID:            ids.NewULID(now),
		IdentityID:    ev.IdentityID,
		Timestamp:     now,
		Method:        ev.Method,
		Success:       ev.Success,
		MFAUsed:       ev.MFAUsed,
		Origin:        ev.Origin,
		FailureReason: ev.FailureReason,
		Suspicious:    ev.Suspicious,
	}
	if err := l.store.InsertLoginRecord(ctx, rec); err != nil {
		return l.failed(ctx, "audit.login_history", err, ev.IdentityID, ActionLogin, string(store.CategoryAuthentication))
	}

	entry := store.AuditEntry{
		Timestamp:  now,
		ActorID:    ev.IdentityID,
		Action:     ActionLogin,
		EntityType: EntityIdentity,
		EntityID:   ev.IdentityID,
		Success:    ev.Success,
		Severity:   store.SeverityInfo,
		Category:   store.CategoryAuthentication,
		Origin:     ev.Origin,
		Message:    fmt.Sprintf("method=%s mfa=%t login_record=%s", ev.Method, ev.MFAUsed, rec.ID),
	}
	switch {
	case ev.Suspicious:
		entry.Severity = store.SeverityHigh
		entry.Message += " suspicious=true"
	case !ev.Success:
		entry.Severity = store.SeverityMedium
	}
	if !ev.Success {
		entry.Action = ActionLoginDenied
		if ev.FailureReason != "" {
			entry.Message += " reason=" + ev.FailureReason
		}
	}
	_, err := l.Record(ctx, entry)
	return err
}

// =============================================================================
// FIELD ACCESS
// =============================================================================

// RecordFieldAccess appends a field access record.
func (l *Ledger) RecordFieldAccess(ctx context.Context, rec store.FieldAccessRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	if rec.ID == "" {
		rec.ID = ids.NewULID(rec.Timestamp)
	}
	if err := l.store.InsertFieldAccess(ctx, rec); err != nil {
		return l.failed(ctx, "audit.field_access", err, rec.AccessorID, string(rec.AccessType), string(store.CategoryDataAccess))
	}
	return nil
}

// =============================================================================
// READING
// =============================================================================

// Verify recomputes the hash chain over every entry.
func (l *Ledger) Verify(ctx context.Context) (*ChainReport, error) {
	report, err := verifyChain(ctx, l.store, l.key, l.now().UTC())
	if err != nil {
		return nil, err
	}
	if !report.Verified {
		l.logger.Error("AU-9: audit chain verification failed",
			zap.Int64("first_broken", report.FirstBroken),
			zap.Int("issues", len(report.Issues)),
		)
	}
	return report, nil
}

// Recent returns the newest entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]store.AuditEntry, error) {
	entries, err := l.store.RecentAudit(ctx, limit)
	if err != nil {
		return nil, store.Integrity("audit.recent", err)
	}
	return entries, nil
}
