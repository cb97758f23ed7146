// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jeranaias/lexguard/internal/config"
	"github.com/jeranaias/lexguard/internal/logging"
	"github.com/jeranaias/lexguard/internal/metrics"
	"github.com/jeranaias/lexguard/internal/security"
	"github.com/jeranaias/lexguard/internal/security/access"
	"github.com/jeranaias/lexguard/internal/security/audit"
	"github.com/jeranaias/lexguard/internal/security/auth"
	"github.com/jeranaias/lexguard/internal/security/classification"
	"github.com/jeranaias/lexguard/internal/security/crypto"
	"github.com/jeranaias/lexguard/internal/security/mfa"
	"github.com/jeranaias/lexguard/internal/security/password"
	"github.com/jeranaias/lexguard/internal/store/sqlstore"
)

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// app holds everything a command needs. Commands open it lazily so that
// offline commands (config, classify) work without a database or keys.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	db       *sqlstore.Store
	redis    *redis.Client
	ledger   *audit.Ledger
	core     *security.Core
}

// newLogger builds the configured logger, falling back to a no-op logger
// when the configuration is unusable.
func newLogger(cfg *config.Config) *zap.Logger {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (logging disabled)\n", err)
		return zap.NewNop()
	}
	return logger
}

// openStore connects to the configured database without migrating it.
func openStore(cfg *config.Config) (*sqlstore.Store, error) {
	db, err := sqlstore.Open(cfg.Database.Store())
	if err != nil {
		return nil, NewCommandError("database", "open", cfg.Database.Driver, err)
	}
	return db, nil
}

// loadSealingKey reads the MFA sealing key from envVar or envVar+"_FILE".
func loadSealingKey(envVar string) ([]byte, error) {
	if encoded := os.Getenv(envVar); encoded != "" {
		return crypto.ParseKey(encoded)
	}
	if path := os.Getenv(envVar + "_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("mfa key file %s: %w", path, err)
		}
		return crypto.ParseKey(strings.TrimSpace(string(data)))
	}
	return nil, fmt.Errorf("%w: set %s (hex-encoded %d-byte key) or %s_FILE",
		errNoMFAKey, envVar, crypto.KeySize, envVar)
}

var errNoMFAKey = errors.New("no MFA sealing key configured")

// openApp connects the store and builds every engine from cfg.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   newLogger(cfg),
		metrics:  metrics.New(),
		registry: prometheus.NewRegistry(),
	}
	if err := a.metrics.Register(a.registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.db = db

	if err := a.checkSchema(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.build(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// checkSchema refuses to run against a database that is behind the code.
func (a *app) checkSchema(ctx context.Context) error {
	version, err := a.db.SchemaVersion(ctx)
	if err != nil || version < sqlstore.LatestSchemaVersion() {
		return &CommandError{
			Command: "database",
			Action:  "open",
			Reason:  fmt.Sprintf("schema at version %d, need %d; run 'lexguard migrate'", version, sqlstore.LatestSchemaVersion()),
		}
	}
	return nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg

	// AU-9: the chain key never comes from the config file.
	chainKey, source, err := audit.LoadKey(cfg.Audit.KeyEnv)
	if err != nil {
		return err
	}
	defer crypto.ZeroBytes(chainKey)
	a.logger.Debug("AU-9: audit chain key loaded",
		zap.String("source", string(source)),
		zap.String("fingerprint", audit.Fingerprint(chainKey)),
	)

	escalators := audit.MultiEscalator{audit.NewLogEscalator(a.logger)}
	if cfg.Audit.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Audit.RedisAddr,
			Password: cfg.Audit.RedisPassword,
			DB:       cfg.Audit.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.logger.Warn("AU-5: redis unreachable, alerts will be logged only",
				zap.String("addr", cfg.Audit.RedisAddr), zap.Error(err))
		}
		escalators = append(escalators, audit.NewRedisEscalator(a.redis,
			audit.WithChannel(cfg.Audit.AlertChannel),
			audit.WithRateLimit(cfg.Audit.AlertRate, cfg.Audit.AlertBurst),
			audit.WithEscalatorMetrics(a.metrics),
		))
	}

	a.ledger, err = audit.NewLedger(a.db, chainKey,
		audit.WithLogger(a.logger),
		audit.WithMetrics(a.metrics),
		audit.WithEscalator(escalators),
	)
	if err != nil {
		return err
	}

	passwords, err := password.NewEngine(cfg.Password, a.db, a.db, a.ledger,
		password.WithLogger(a.logger), password.WithMetrics(a.metrics))
	if err != nil {
		return err
	}

	sealKey, err := loadSealingKey(cfg.MFA.KeyEnv)
	if err != nil {
		return err
	}
	sealer, err := crypto.NewSealer(sealKey)
	crypto.ZeroBytes(sealKey)
	if err != nil {
		return err
	}
	mfaEngine, err := mfa.NewEngine(cfg.MFA.Config, a.db, sealer, a.ledger,
		mfa.WithLogger(a.logger), mfa.WithMetrics(a.metrics))
	if err != nil {
		return err
	}

	guard := access.NewGuard(cfg.Lockout, a.db, a.ledger,
		access.WithGuardLogger(a.logger), access.WithGuardMetrics(a.metrics))
	sessions := auth.NewSessionManager(cfg.Session, a.db, a.db, guard, a.ledger,
		auth.WithLogger(a.logger), auth.WithMetrics(a.metrics))
	authorizer := access.NewAuthorizer(a.db, a.db, a.ledger,
		access.WithAuthorizerLogger(a.logger), access.WithAuthorizerMetrics(a.metrics))

	classifier, err := newClassifier(cfg, a.logger, a.metrics)
	if err != nil {
		return err
	}

	a.core, err = security.NewCore(a.db, a.db, security.Components{
		Passwords:  passwords,
		MFA:        mfaEngine,
		Guard:      guard,
		Sessions:   sessions,
		Authorizer: authorizer,
		Classifier: classifier,
		Ledger:     a.ledger,
	}, security.WithLogger(a.logger), security.WithMetrics(a.metrics))
	return err
}

// newClassifier loads the configured dictionary, or the built-in one.
func newClassifier(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*classification.Classifier, error) {
	var dict classification.Dictionary
	if path := cfg.Classification.DictionaryPath; path != "" {
		d, err := classification.LoadDictionary(path)
		if err != nil {
			return nil, err
		}
		dict = d
	}
	return classification.NewClassifier(dict,
		classification.WithLogger(logger), classification.WithMetrics(m)), nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.logger.Sync()
}
