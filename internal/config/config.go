// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for lexguard.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - --config flag
//   - ~/.lexguard/config.toml
//   - Built-in defaults
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/lexguard/internal/logging"
	"github.com/jeranaias/lexguard/internal/security/access"
	"github.com/jeranaias/lexguard/internal/security/audit"
	"github.com/jeranaias/lexguard/internal/security/auth"
	"github.com/jeranaias/lexguard/internal/security/mfa"
	"github.com/jeranaias/lexguard/internal/security/password"
	"github.com/jeranaias/lexguard/internal/store/sqlstore"
	"github.com/jeranaias/lexguard/internal/util"
)

// CurrentVersion is written into new configuration files.
const CurrentVersion = "1"

// DefaultMFAKeyEnvVar holds the key that seals TOTP secrets and backup codes.
const DefaultMFAKeyEnvVar = "LEXGUARD_MFA_KEY"

const redacted = "[REDACTED]"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete lexguard configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Database       DatabaseConfig       `toml:"database" json:"database"`
	Password       password.Policy      `toml:"password" json:"password"`
	MFA            MFAConfig            `toml:"mfa" json:"mfa"`
	Session        auth.Config          `toml:"session" json:"session"`
	Lockout        access.GuardConfig   `toml:"lockout" json:"lockout"`
	Authorization  AuthorizationConfig  `toml:"authorization" json:"authorization"`
	Audit          AuditConfig          `toml:"audit" json:"audit"`
	Classification ClassificationConfig `toml:"classification" json:"classification"`
	Logging        logging.Config       `toml:"logging" json:"logging"`
	Metrics        MetricsConfig        `toml:"metrics" json:"metrics"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"driver" json:"driver"`
	// DSN is a file path for sqlite or a connection URL for postgres.
	DSN             string        `toml:"dsn" json:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// Store returns the sqlstore connection settings.
func (d DatabaseConfig) Store() sqlstore.Config {
	return sqlstore.Config{
		Driver:          d.Driver,
		DSN:             d.DSN,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
	}
}

// MFAConfig holds TOTP parameters and where the sealing key comes from.
type MFAConfig struct {
	mfa.Config

	// KeyEnv names the environment variable holding the AES-256 key used
	// to seal TOTP secrets (hex or base64). KeyEnv+"_FILE" may name a file.
	KeyEnv string `toml:"key_env" json:"key_env"`
}

// AuthorizationConfig points at the role-permission policy file.
type AuthorizationConfig struct {
	PolicyPath string `toml:"policy_path" json:"policy_path"`
}

// AuditConfig controls the chain key and failure escalation (AU-5).
type AuditConfig struct {
	// KeyEnv names the environment variable holding the chain key.
	KeyEnv string `toml:"key_env" json:"key_env"`

	// RedisAddr enables alert publishing when set.
	RedisAddr     string `toml:"redis_addr" json:"redis_addr"`
	RedisPassword string `toml:"redis_password" json:"redis_password"`
	RedisDB       int    `toml:"redis_db" json:"redis_db"`
	AlertChannel  string `toml:"alert_channel" json:"alert_channel"`

	// AlertRate is the sustained alerts per second; AlertBurst the bucket size.
	AlertRate  float64 `toml:"alert_rate" json:"alert_rate"`
	AlertBurst int     `toml:"alert_burst" json:"alert_burst"`

	Review audit.ReviewConfig `toml:"review" json:"review"`
}

// ClassificationConfig points at an optional field dictionary.
type ClassificationConfig struct {
	// DictionaryPath is a YAML dictionary replacing the built-in one.
	DictionaryPath string `toml:"dictionary_path" json:"dictionary_path"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `toml:"listen" json:"listen"`
	Path   string `toml:"path" json:"path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the default configuration.
func Default() *Config {
	dsn := "lexguard.db"
	if dir, err := ConfigDir(); err == nil {
		dsn = filepath.Join(dir, "lexguard.db")
	}

	return &Config{
		Version: CurrentVersion,
		Database: DatabaseConfig{
			Driver:          sqlstore.DriverSQLite,
			DSN:             dsn,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Password: password.DefaultPolicy(),
		MFA: MFAConfig{
			Config: mfa.DefaultConfig(),
			KeyEnv: DefaultMFAKeyEnvVar,
		},
		Session: auth.DefaultConfig(),
		Lockout: access.DefaultGuardConfig(),
		Audit: AuditConfig{
			KeyEnv:       audit.DefaultKeyEnvVar,
			AlertChannel: audit.DefaultAlertChannel,
			AlertRate:    1,
			AlertBurst:   10,
			Review:       audit.DefaultReviewConfig(),
		},
		Logging: logging.Config{
			Level:  "info",
			Format: logging.FormatJSON,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
			Path:   "/metrics",
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the lexguard configuration directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".lexguard"), nil
}

// ConfigPath returns the path to the default config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files may carry DSN and Redis credentials; keep them 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads ~/.lexguard/config.toml, or the defaults when it does not
// exist. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return LoadOrDefault("")
	}
	return LoadOrDefault(path)
}

// LoadOrDefault loads path, or the defaults when path is empty or does not
// exist yet.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Permissions might not be fixable on all systems
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// LoadFromPath loads configuration from a specific file with full validation.
// Keys absent from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish applies environment overrides, migration, defaults and validation.
func (c *Config) finish() error {
	c.ApplyEnvOverrides()
	if err := c.Migrate(); err != nil {
		return fmt.Errorf("config migration failed: %w", err)
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to path.
// SECURITY: Files are written with 0600 permissions (owner read/write only).
// RELIABILITY: The write is atomic; a crash leaves either the old or new file.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# lexguard configuration file\n")
	b.WriteString("# Generated by lexguard - edit with care\n")
	b.WriteString("#\n")
	b.WriteString("# Secrets belong in the environment (see key_env), not in this file.\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFileWithDir(path, []byte(b.String()), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns every problem found as
// ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// ==========================================================================
	// Database
	// ==========================================================================

	switch strings.ToLower(c.Database.Driver) {
	case sqlstore.DriverSQLite, sqlstore.DriverPostgres:
	default:
		add("database.driver", "invalid driver '%s', must be one of: sqlite, postgres", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		add("database.dsn", "must not be empty")
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		add("database.max_open_conns", "pool sizes cannot be negative")
	}

	// ==========================================================================
	// Password (IA-5)
	// ==========================================================================

	p := c.Password
	if p.MinLength < 8 {
		add("password.min_length", "must be at least 8, got %d", p.MinLength)
	}
	if p.MaxLength < p.MinLength {
		add("password.max_length", "must be at least min_length (%d), got %d", p.MinLength, p.MaxLength)
	}
	if p.ReuseWindow < 1 {
		add("password.reuse_window", "must be at least 1, got %d", p.ReuseWindow)
	}
	switch p.Algorithm {
	case password.AlgorithmBcrypt:
		if p.BcryptCost < password.DefaultBcryptCost || p.BcryptCost > 31 {
			add("password.bcrypt_cost", "must be between %d and 31, got %d", password.DefaultBcryptCost, p.BcryptCost)
		}
	case password.AlgorithmArgon2id:
	default:
		add("password.algorithm", "invalid algorithm '%s', must be one of: bcrypt, argon2id", p.Algorithm)
	}
	if p.MaxRepeat < 0 || p.SequenceLength < 0 {
		add("password.max_repeat", "repeat and sequence limits cannot be negative")
	}

	// ==========================================================================
	// MFA (IA-2(1))
	// ==========================================================================

	if c.MFA.BackupCodes < 1 || c.MFA.BackupCodes > 100 {
		add("mfa.backup_codes", "must be between 1 and 100, got %d", c.MFA.BackupCodes)
	}
	if c.MFA.Period < time.Second {
		add("mfa.period", "must be at least 1s, got %s", c.MFA.Period)
	}
	if c.MFA.Skew < 0 || c.MFA.Skew > 2 {
		add("mfa.skew", "must be between 0 and 2 steps, got %d", c.MFA.Skew)
	}
	if c.MFA.KeyEnv == "" {
		add("mfa.key_env", "must name an environment variable")
	}

	// ==========================================================================
	// Session (AC-10, AC-12)
	// ==========================================================================

	s := c.Session
	if s.MaxSessions < 1 {
		add("session.max_sessions", "must be at least 1, got %d", s.MaxSessions)
	}
	if s.IdleTimeout <= 0 {
		add("session.idle_timeout", "must be positive")
	}
	if s.MaxLifetime < s.IdleTimeout {
		add("session.max_lifetime", "must be at least idle_timeout (%s), got %s", s.IdleTimeout, s.MaxLifetime)
	}
	if s.WarnBefore < 0 || s.WarnBefore >= s.IdleTimeout {
		add("session.warn_before", "must be between 0 and idle_timeout, got %s", s.WarnBefore)
	}
	if s.TouchInterval < 0 || s.TouchInterval >= s.IdleTimeout {
		add("session.touch_interval", "must be between 0 and idle_timeout, got %s", s.TouchInterval)
	}

	// ==========================================================================
	// Lockout (AC-7)
	// ==========================================================================

	if c.Lockout.MaxAttempts < 0 {
		add("lockout.max_attempts", "cannot be negative")
	}
	if c.Lockout.LockoutDuration <= 0 {
		add("lockout.lockout_duration", "must be positive")
	}

	// ==========================================================================
	// Audit (AU-5, AU-6)
	// ==========================================================================

	if c.Audit.KeyEnv == "" {
		add("audit.key_env", "must name an environment variable")
	}
	if c.Audit.RedisAddr != "" {
		if _, _, err := net.SplitHostPort(c.Audit.RedisAddr); err != nil {
			add("audit.redis_addr", "invalid address: %v", err)
		}
	}
	if c.Audit.AlertRate < 0 || c.Audit.AlertBurst < 0 {
		add("audit.alert_rate", "rate and burst cannot be negative")
	}
	r := c.Audit.Review
	if r.UnusualHoursStart < 0 || r.UnusualHoursStart > 23 || r.UnusualHoursEnd < 0 || r.UnusualHoursEnd > 23 {
		add("audit.review.unusual_hours_start", "hours must be between 0 and 23")
	}

	// ==========================================================================
	// Logging and metrics
	// ==========================================================================

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case logging.FormatJSON, logging.FormatConsole:
	default:
		add("logging.format", "invalid format '%s', must be one of: json, console", c.Logging.Format)
	}
	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			add("metrics.listen", "invalid address: %v", err)
		}
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		add("metrics.path", "must start with '/'")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills values whose zero value is never valid.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Database.Driver == "" {
		c.Database.Driver = d.Database.Driver
	}
	if c.Database.DSN == "" && c.Database.Driver == sqlstore.DriverSQLite {
		c.Database.DSN = d.Database.DSN
	}
	if c.Password.Algorithm == "" {
		c.Password.Algorithm = d.Password.Algorithm
	}
	if c.Password.BcryptCost == 0 {
		c.Password.BcryptCost = d.Password.BcryptCost
	}
	if c.MFA.Issuer == "" {
		c.MFA.Issuer = d.MFA.Issuer
	}
	if c.MFA.KeyEnv == "" {
		c.MFA.KeyEnv = d.MFA.KeyEnv
	}
	if c.Session.MaxSessions == 0 {
		c.Session.MaxSessions = d.Session.MaxSessions
	}
	if c.Audit.KeyEnv == "" {
		c.Audit.KeyEnv = d.Audit.KeyEnv
	}
	if c.Audit.AlertChannel == "" {
		c.Audit.AlertChannel = d.Audit.AlertChannel
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = d.Metrics.Path
	}
}

// Migrate normalizes values written by older versions.
func (c *Config) Migrate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite3":
		c.Database.Driver = sqlstore.DriverSQLite
	case "postgresql", "pgx":
		c.Database.Driver = sqlstore.DriverPostgres
	}
	c.Database.Driver = strings.ToLower(c.Database.Driver)
	c.Password.Algorithm = strings.ToLower(c.Password.Algorithm)
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if c.Logging.Level == "warning" {
		c.Logging.Level = "warn"
	}
	if c.Version == "" {
		c.Version = CurrentVersion
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - LEXGUARD_DB_DRIVER: overrides database.driver
//   - LEXGUARD_DB_DSN: overrides database.dsn
//   - LEXGUARD_REDIS_ADDR: overrides audit.redis_addr
//   - LEXGUARD_REDIS_PASSWORD: overrides audit.redis_password
//   - LEXGUARD_DICTIONARY: overrides classification.dictionary_path
//   - LEXGUARD_POLICY: overrides authorization.policy_path
//   - LEXGUARD_LOG_LEVEL / LEXGUARD_LOG_FORMAT: override logging
//   - LEXGUARD_METRICS_LISTEN: overrides metrics.listen
//   - LEXGUARD_MAX_SESSIONS: overrides session.max_sessions
//   - LEXGUARD_EXTEND_ON_ACTIVITY: "1" or "true" enables sliding expiry
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("LEXGUARD_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("LEXGUARD_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("LEXGUARD_REDIS_ADDR"); v != "" {
		c.Audit.RedisAddr = v
	}
	if v := os.Getenv("LEXGUARD_REDIS_PASSWORD"); v != "" {
		c.Audit.RedisPassword = v
	}
	if v := os.Getenv("LEXGUARD_DICTIONARY"); v != "" {
		c.Classification.DictionaryPath = v
	}
	if v := os.Getenv("LEXGUARD_POLICY"); v != "" {
		c.Authorization.PolicyPath = v
	}
	if v := os.Getenv("LEXGUARD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LEXGUARD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("LEXGUARD_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}
	if v := os.Getenv("LEXGUARD_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.MaxSessions = n
		}
	}
	if v := os.Getenv("LEXGUARD_EXTEND_ON_ACTIVITY"); v != "" {
		c.Session.ExtendOnActivity = v == "1" || strings.ToLower(v) == "true"
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation
// (e.g. "session.idle_timeout").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field type; durations use time.ParseDuration syntax and
// lists are comma separated.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		if field.Type() == durationType {
			d, err := time.ParseDuration(strVal)
			if err != nil {
				return fmt.Errorf("invalid duration value: %v", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(strVal == "1" || lower == "true" || lower == "yes")
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, item := range strings.Split(strVal, ",") {
					if item = strings.TrimSpace(item); item != "" {
						items = append(items, item)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Password.DenyWords != nil {
		clone.Password.DenyWords = append([]string(nil), c.Password.DenyWords...)
	}
	return &clone
}

var dsnPassword = regexp.MustCompile(`(?i)(password\s*=\s*)('[^']*'|\S+)`)

// redactDSN hides the password in URL and key=value DSNs.
func redactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), redacted)
			return u.String()
		}
	}
	return dsnPassword.ReplaceAllString(dsn, "${1}"+redacted)
}

// String returns a JSON representation of the config for debugging.
// SECURITY: Database and Redis credentials are redacted (CWE-532, AU-9).
func (c *Config) String() string {
	safe := c.Clone()
	safe.Database.DSN = redactDSN(safe.Database.DSN)
	if safe.Audit.RedisPassword != "" {
		safe.Audit.RedisPassword = redacted
	}

	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
