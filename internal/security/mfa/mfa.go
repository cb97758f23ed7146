// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mfa implements TOTP second factors with single-use backup codes
// (IA-2(1), IA-2(2)).
//
// Enrollment is two-phase. Enroll generates a secret and backup codes
// without persisting anything; ConfirmEnrollment stores them, sealed with
// an authenticated cipher, only after the user proves possession of the
// secret. An abandoned enrollment leaves no state behind.
package mfa

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"
	"unicode"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/jeranaias/lexguard/internal/ids"
	"github.com/jeranaias/lexguard/internal/logging"
	"github.com/jeranaias/lexguard/internal/metrics"
	"github.com/jeranaias/lexguard/internal/security/audit"
	"github.com/jeranaias/lexguard/internal/security/crypto"
	"github.com/jeranaias/lexguard/internal/store"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultIssuer labels the account in authenticator apps.
	DefaultIssuer = "LexGuard"

	// DefaultBackupCodes is the number of recovery codes issued.
	DefaultBackupCodes = 10

	// SecretSize is the shared secret length in bytes (160 bits).
	SecretSize = 20

	// DefaultPeriod is the TOTP time step.
	DefaultPeriod = 30 * time.Second

	// DefaultSkew is the accepted drift in steps on either side.
	DefaultSkew = 1

	// backupCodeBytes yields eight base32 characters.
	backupCodeBytes = 5
)

// Factors reported to metrics.
const (
	FactorTOTP       = "totp"
	FactorBackupCode = "backup_code"
	FactorEnroll     = "enroll"
)

// ErrNoEnrollment is returned when an enrollment payload is missing.
var ErrNoEnrollment = errors.New("no pending enrollment")

var backupEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// =============================================================================
// CONFIG
// =============================================================================

// Config controls TOTP parameters and backup code count.
type Config struct {
	Issuer      string        `toml:"issuer"`
	BackupCodes int           `toml:"backup_codes"`
	Period      time.Duration `toml:"period"`
	Skew        int           `toml:"skew"`
}

// DefaultConfig returns the standard 30 second, 6 digit SHA-1 profile.
func DefaultConfig() Config {
	return Config{
		Issuer:      DefaultIssuer,
		BackupCodes: DefaultBackupCodes,
		Period:      DefaultPeriod,
		Skew:        DefaultSkew,
	}
}

func (c Config) withDefaults() Config {
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
	if c.BackupCodes <= 0 {
		c.BackupCodes = DefaultBackupCodes
	}
	if c.Period < time.Second {
		c.Period = DefaultPeriod
	}
	if c.Skew < 0 {
		c.Skew = 0
	}
	return c
}

func (c Config) periodSeconds() int64 {
	return int64(c.Period / time.Second)
}

func (c Config) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    uint(c.periodSeconds()),
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// =============================================================================
// ENROLLMENT
// =============================================================================

// Enrollment is the unconfirmed output of Enroll. It is handed to the user
// and back to ConfirmEnrollment; nothing about it is stored until then.
type Enrollment struct {
	Label       string   `json:"label"`
	Secret      string   `json:"secret"`
	URI         string   `json:"uri"`
	BackupCodes []string `json:"backup_codes"`
}

// QRCodePNG renders the provisioning URI as a size x size PNG.
func (e *Enrollment) QRCodePNG(size int) ([]byte, error) {
	key, err := otp.NewKeyFromURL(e.URI)
	if err != nil {
		return nil, fmt.Errorf("parse provisioning uri: %w", err)
	}
	img, err := key.Image(size, size)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}
	return buf.Bytes(), nil
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine issues and verifies second factors.
type Engine struct {
	cfg     Config
	store   store.MFAStore
	sealer  *crypto.Sealer
	ledger  *audit.Ledger
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(logger) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine builds an engine. sealer protects secrets and backup codes at
// rest; its key must come from outside the database.
func NewEngine(cfg Config, st store.MFAStore, sealer *crypto.Sealer, ledger *audit.Ledger, opts ...Option) (*Engine, error) {
	if sealer == nil {
		return nil, crypto.ErrInvalidKey
	}
	e := &Engine{
		cfg:    cfg.withDefaults(),
		store:  st,
		sealer: sealer,
		ledger: ledger,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Enroll generates a fresh secret, provisioning URI and backup codes for
// label. Nothing is persisted.
func (e *Engine) Enroll(label string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.cfg.Issuer,
		AccountName: label,
		Period:      uint(e.cfg.periodSeconds()),
		SecretSize:  SecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	codes := make([]string, e.cfg.BackupCodes)
	seen := make(map[string]bool, len(codes))
	for i := range codes {
		for {
			c, err := newBackupCode()
			if err != nil {
				return nil, err
			}
			if !seen[c] {
				seen[c] = true
				codes[i] = c
				break
			}
		}
	}

	return &Enrollment{
		Label:       label,
		Secret:      key.Secret(),
		URI:         key.URL(),
		BackupCodes: codes,
	}, nil
}

// newBackupCode returns a code formatted as xxxx-xxxx.
func newBackupCode() (string, error) {
	b := make([]byte, backupCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate backup code: %w", err)
	}
	s := strings.ToLower(backupEncoding.EncodeToString(b))
	return s[:4] + "-" + s[4:], nil
}

// NormalizeBackupCode lower-cases code and drops whitespace and hyphens.
func NormalizeBackupCode(code string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return unicode.ToLower(r)
	}, code)
}

// ConfirmEnrollment checks code against the pending secret and, on a
// match, persists the sealed secret and backup codes and activates MFA.
// Any previous enrollment is replaced.
func (e *Engine) ConfirmEnrollment(ctx context.Context, identityID string, enr *Enrollment, code string) (bool, error) {
	if enr == nil || enr.Secret == "" {
		return false, ErrNoEnrollment
	}
	now := e.now().UTC()

	step, ok := e.matchStep(enr.Secret, code, now)
	if !ok {
		e.metrics.MFAVerification(FactorEnroll, false)
		return false, e.ledger.RecordFailure(ctx, audit.Failure{
			ActorID:    identityID,
			Action:     audit.ActionMFAEnrollFailed,
			EntityType: audit.EntityMFA,
			EntityID:   identityID,
			Message:    "confirmation code rejected",
			Category:   store.CategoryMFA,
		})
	}

	secret, err := e.sealer.SealString(enr.Secret, identityID)
	if err != nil {
		return false, err
	}
	codes := make([]store.BackupCode, len(enr.BackupCodes))
	for i, c := range enr.BackupCodes {
		sealed, err := e.sealer.SealString(NormalizeBackupCode(c), identityID)
		if err != nil {
			return false, err
		}
		codes[i] = store.BackupCode{ID: ids.New(), IdentityID: identityID, Ciphertext: sealed}
	}

	enrollment := store.MFAEnrollment{
		IdentityID:       identityID,
		SecretCiphertext: secret,
		Active:           true,
		LastUsedStep:     step,
		ConfirmedAt:      now,
	}
	if err := e.store.SaveEnrollment(ctx, enrollment, codes); err != nil {
		return false, store.Integrity("mfa.confirm_enrollment", err)
	}

	e.metrics.MFAVerification(FactorEnroll, true)
	if _, err := e.ledger.Record(ctx, store.AuditEntry{
		ActorID:    identityID,
		Action:     audit.ActionMFAEnrolled,
		EntityType: audit.EntityMFA,
		EntityID:   identityID,
		Success:    true,
		Category:   store.CategoryMFA,
		Severity:   store.SeverityLow,
		Message:    fmt.Sprintf("backup_codes=%d", len(codes)),
	}); err != nil {
		return false, err
	}
	e.logger.Info("IA-2(1): MFA enrolled", zap.String("identity_id", identityID))
	return true, nil
}

// matchStep compares code with every step in the tolerance window without
// stopping early and returns the matching step.
func (e *Engine) matchStep(secret, code string, now time.Time) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != otp.DigitsSix.Length() {
		return 0, false
	}
	period := e.cfg.periodSeconds()
	base := now.Unix() / period
	opts := e.cfg.validateOpts()

	var (
		matched int64
		ok      bool
	)
	for off := -int64(e.cfg.Skew); off <= int64(e.cfg.Skew); off++ {
		step := base + off
		want, err := totp.GenerateCodeCustom(secret, time.Unix(step*period, 0).UTC(), opts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			matched, ok = step, true
		}
	}
	return matched, ok
}

// =============================================================================
// VERIFICATION
// =============================================================================

// Enabled reports whether the identity has an active enrollment.
func (e *Engine) Enabled(ctx context.Context, identityID string) (bool, error) {
	enr, err := e.store.GetEnrollment(ctx, identityID)
	if store.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, store.Integrity("mfa.enabled", err)
	}
	return enr.Active, nil
}

// Verify accepts a TOTP code for an unused step within the tolerance
// window, or else an unused backup code, which is consumed. Every failure
// is audited.
func (e *Engine) Verify(ctx context.Context, identityID, code string) (bool, error) {
	enr, err := e.store.GetEnrollment(ctx, identityID)
	if store.IsNotFound(err) {
		return false, e.verifyFailed(ctx, identityID, "not_enrolled")
	}
	if err != nil {
		return false, store.Integrity("mfa.verify", err)
	}
	if !enr.Active {
		return false, e.verifyFailed(ctx, identityID, "not_enrolled")
	}
	now := e.now().UTC()

	secret, err := e.sealer.OpenString(enr.SecretCiphertext, identityID)
	if err != nil {
		return false, store.Integrity("mfa.open_secret", err)
	}
	if step, ok := e.matchStep(secret, code, now); ok {
		fresh, err := e.store.AdvanceTOTPStep(ctx, identityID, step)
		if err != nil {
			return false, store.Integrity("mfa.advance_step", err)
		}
		if fresh {
			e.metrics.MFAVerification(FactorTOTP, true)
			return true, nil
		}
		e.metrics.MFAVerification(FactorTOTP, false)
		return false, e.verifyFailed(ctx, identityID, "totp_replayed")
	}

	ok, err := e.consumeBackupCode(ctx, identityID, code, now)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	e.metrics.MFAVerification(FactorTOTP, false)
	return false, e.verifyFailed(ctx, identityID, "invalid_code")
}

func (e *Engine) consumeBackupCode(ctx context.Context, identityID, code string, now time.Time) (bool, error) {
	submitted := NormalizeBackupCode(code)
	if submitted == "" {
		return false, nil
	}
	codes, err := e.store.ListUnusedBackupCodes(ctx, identityID)
	if err != nil {
		return false, store.Integrity("mfa.list_backup_codes", err)
	}

	var match string
	for _, c := range codes {
		plain, err := e.sealer.OpenString(c.Ciphertext, identityID)
		if err != nil {
			return false, store.Integrity("mfa.open_backup_code", err)
		}
		if subtle.ConstantTimeCompare([]byte(plain), []byte(submitted)) == 1 {
			match = c.ID
		}
	}
	if match == "" {
		return false, nil
	}

	consumed, err := e.store.ConsumeBackupCode(ctx, match, now)
	if err != nil {
		return false, store.Integrity("mfa.consume_backup_code", err)
	}
	e.metrics.MFAVerification(FactorBackupCode, consumed)
	if !consumed {
		// Lost a race with a concurrent use of the same code.
		return false, nil
	}

	_, err = e.ledger.Record(ctx, store.AuditEntry{
		ActorID:    identityID,
		Action:     audit.ActionMFABackupUsed,
		EntityType: audit.EntityMFA,
		EntityID:   identityID,
		Success:    true,
		Category:   store.CategoryMFA,
		Severity:   store.SeverityMedium,
		Message:    fmt.Sprintf("remaining=%d", len(codes)-1),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) verifyFailed(ctx context.Context, identityID, reason string) error {
	e.logger.Warn("IA-2(1): MFA verification failed",
		zap.String("identity_id", identityID),
		zap.String("reason", reason),
	)
	return e.ledger.RecordFailure(ctx, audit.Failure{
		ActorID:    identityID,
		Action:     audit.ActionMFAVerifyFailed,
		EntityType: audit.EntityMFA,
		EntityID:   identityID,
		Message:    "reason=" + reason,
		Category:   store.CategoryMFA,
	})
}

// RemainingBackupCodes returns how many backup codes are still unused.
func (e *Engine) RemainingBackupCodes(ctx context.Context, identityID string) (int, error) {
	codes, err := e.store.ListUnusedBackupCodes(ctx, identityID)
	if err != nil {
		return 0, store.Integrity("mfa.list_backup_codes", err)
	}
	return len(codes), nil
}

// Disable removes the identity's enrollment and backup codes. It is an
// administrative override and always audited.
func (e *Engine) Disable(ctx context.Context, identityID, actor string) error {
	if err := e.store.DeleteEnrollment(ctx, identityID); err != nil && !store.IsNotFound(err) {
		return store.Integrity("mfa.disable", err)
	}
	_, err := e.ledger.Record(ctx, store.AuditEntry{
		ActorID:    actor,
		Action:     audit.ActionMFADisabled,
		EntityType: audit.EntityMFA,
		EntityID:   identityID,
		Success:    true,
		Category:   store.CategoryAdministration,
		Severity:   store.SeverityHigh,
	})
	return err
}
