// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor_cmd.go - Deployment health checks (CM-6, SI-4).
//
// Command: doctor
// Aliases: diag
//
// Checks performed:
//  1. Config valid      - the effective configuration passed validation
//  2. Database          - the store opens and answers a ping
//  3. Schema            - the schema is at the latest version
//  4. Audit key         - a chain key is available from the environment
//  5. MFA key           - a sealing key is available from the environment
//  6. Redis             - the alert channel answers (warn when unset)
//  7. Dictionary        - the classification dictionary parses
//  8. Policy            - the role policy file parses (when configured)
//  9. Audit chain       - the ledger verifies end to end
//
// Exit codes:
//
//	0   no check failed (warnings allowed)
//	1   one or more checks failed
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jeranaias/lexguard/internal/security/access"
	"github.com/jeranaias/lexguard/internal/security/audit"
	"github.com/jeranaias/lexguard/internal/security/crypto"
	"github.com/jeranaias/lexguard/internal/store/sqlstore"
)

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus is the outcome of one health check.
type CheckStatus int

const (
	// CheckPass indicates the check passed.
	CheckPass CheckStatus = iota
	// CheckWarn indicates a non-critical issue.
	CheckWarn
	// CheckFail indicates a critical issue.
	CheckFail
)

// String returns the lower-case status name.
func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarn:
		return "warn"
	case CheckFail:
		return "fail"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *CheckStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pass":
		*s = CheckPass
	case "warn":
		*s = CheckWarn
	case "fail":
		*s = CheckFail
	default:
		return fmt.Errorf("unknown check status %q", text)
	}
	return nil
}

// Symbol returns the styled status marker.
func (s CheckStatus) Symbol() string {
	switch s {
	case CheckPass:
		return SuccessStyle.Render("[OK]")
	case CheckWarn:
		return WarningStyle.Render("[!!]")
	case CheckFail:
		return ErrorStyle.Render("[FAIL]")
	default:
		return "?"
	}
}

// HealthCheck is a single health check result.
type HealthCheck struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
	Fix     string      `json:"fix,omitempty"`
}

// DoctorReport is the result of a doctor run.
type DoctorReport struct {
	Checks []HealthCheck `json:"checks"`
	Passed int           `json:"passed"`
	Warned int           `json:"warned"`
	Failed int           `json:"failed"`
}

func (r *DoctorReport) add(c HealthCheck) {
	r.Checks = append(r.Checks, c)
	switch c.Status {
	case CheckPass:
		r.Passed++
	case CheckWarn:
		r.Warned++
	case CheckFail:
		r.Failed++
	}
}

// =============================================================================
// COMMAND
// =============================================================================

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"diag"},
		Short:   "Run deployment health checks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report := runDoctor(cmd.Context(), opts)
			p := opts.printer(cmd)
			err := p.result(report, func(w io.Writer) {
				p.line(TitleStyle.Render("lexguard doctor"))
				p.line(RenderSeparator(41))
				for _, c := range report.Checks {
					p.line(fmt.Sprintf("%s %-12s %s", c.Status.Symbol(), c.Name, c.Message))
					if c.Status != CheckPass && c.Fix != "" {
						p.line("    " + DimStyle.Render("-> "+c.Fix))
					}
				}
				p.line(RenderSeparator(41))
				p.line(fmt.Sprintf("%d passed, %d warning, %d failed", report.Passed, report.Warned, report.Failed))
			})
			if err != nil {
				return err
			}
			if report.Failed > 0 {
				return NewCommandError("doctor", "check", fmt.Sprintf("%d check(s) failed", report.Failed), nil)
			}
			return nil
		},
	}
}

// runDoctor runs every check in order. Checks that need a working store or
// keys are skipped once those have failed.
func runDoctor(ctx context.Context, opts *rootOptions) *DoctorReport {
	cfg := opts.cfg
	report := &DoctorReport{}

	// The config was validated on load; a run that got this far has one.
	report.add(HealthCheck{Name: "config", Status: CheckPass, Message: "configuration valid"})

	storeOK := false
	db, err := openStore(cfg)
	if err != nil {
		report.add(HealthCheck{Name: "database", Status: CheckFail, Message: err.Error(),
			Fix: "check database.driver and database.dsn"})
	} else {
		defer db.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.DB().PingContext(pingCtx)
		cancel()
		if err != nil {
			report.add(HealthCheck{Name: "database", Status: CheckFail, Message: err.Error(),
				Fix: "check database.dsn and that the server is running"})
		} else {
			report.add(HealthCheck{Name: "database", Status: CheckPass, Message: cfg.Database.Driver + " reachable"})
			storeOK = true
		}
	}

	schemaOK := false
	if storeOK {
		version, err := db.SchemaVersion(ctx)
		latest := sqlstore.LatestSchemaVersion()
		switch {
		case err != nil:
			report.add(HealthCheck{Name: "schema", Status: CheckFail, Message: err.Error(), Fix: "Run: lexguard migrate"})
		case version < latest:
			report.add(HealthCheck{Name: "schema", Status: CheckFail,
				Message: fmt.Sprintf("version %d, need %d", version, latest), Fix: "Run: lexguard migrate"})
		default:
			report.add(HealthCheck{Name: "schema", Status: CheckPass, Message: fmt.Sprintf("version %d", version)})
			schemaOK = true
		}
	}

	keysOK := true
	if key, source, err := audit.LoadKey(cfg.Audit.KeyEnv); err != nil {
		keysOK = false
		report.add(HealthCheck{Name: "audit key", Status: CheckFail, Message: err.Error(),
			Fix: "Run: lexguard audit keygen <path> and set " + cfg.Audit.KeyEnv + "_FILE"})
	} else {
		report.add(HealthCheck{Name: "audit key", Status: CheckPass,
			Message: fmt.Sprintf("from %s, fingerprint %s", source, audit.Fingerprint(key))})
		crypto.ZeroBytes(key)
	}
	if key, err := loadSealingKey(cfg.MFA.KeyEnv); err != nil {
		keysOK = false
		report.add(HealthCheck{Name: "mfa key", Status: CheckFail, Message: err.Error(),
			Fix: "set " + cfg.MFA.KeyEnv + " to a hex-encoded 32-byte key"})
	} else {
		report.add(HealthCheck{Name: "mfa key", Status: CheckPass, Message: "sealing key present"})
		crypto.ZeroBytes(key)
	}

	report.add(checkRedis(ctx, opts))

	if _, err := newClassifier(cfg, nil, nil); err != nil {
		report.add(HealthCheck{Name: "dictionary", Status: CheckFail, Message: err.Error(),
			Fix: "fix or unset classification.dictionary_path"})
	} else {
		source := "built-in"
		if cfg.Classification.DictionaryPath != "" {
			source = cfg.Classification.DictionaryPath
		}
		report.add(HealthCheck{Name: "dictionary", Status: CheckPass, Message: source})
	}

	if path := cfg.Authorization.PolicyPath; path != "" {
		if rps, err := access.LoadPolicyFile(path); err != nil {
			report.add(HealthCheck{Name: "policy", Status: CheckFail, Message: err.Error(),
				Fix: "fix or unset authorization.policy_path"})
		} else {
			report.add(HealthCheck{Name: "policy", Status: CheckPass,
				Message: fmt.Sprintf("%d mapping(s) in %s", len(rps), path)})
		}
	}

	if !schemaOK || !keysOK {
		report.add(HealthCheck{Name: "audit chain", Status: CheckWarn, Message: "skipped, store or keys unavailable"})
		return report
	}
	report.add(checkChain(ctx, opts))
	return report
}

func checkRedis(ctx context.Context, opts *rootOptions) HealthCheck {
	cfg := opts.cfg.Audit
	if cfg.RedisAddr == "" {
		return HealthCheck{Name: "redis", Status: CheckWarn, Message: "not configured, alerts go to the log only",
			Fix: "set audit.redis_addr to publish alerts"}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer client.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return HealthCheck{Name: "redis", Status: CheckWarn, Message: err.Error(),
			Fix: "check audit.redis_addr; alerts fall back to the log"}
	}
	return HealthCheck{Name: "redis", Status: CheckPass, Message: cfg.RedisAddr + " reachable"}
}

func checkChain(ctx context.Context, opts *rootOptions) HealthCheck {
	a, err := opts.openApp(ctx, opts.cfg)
	if err != nil {
		return HealthCheck{Name: "audit chain", Status: CheckFail, Message: err.Error()}
	}
	defer a.close()
	report, err := a.ledger.Verify(ctx)
	if err != nil {
		return HealthCheck{Name: "audit chain", Status: CheckFail, Message: err.Error()}
	}
	if !report.Verified {
		return HealthCheck{Name: "audit chain", Status: CheckFail,
			Message: fmt.Sprintf("broken at entry %d", report.FirstBroken),
			Fix:     "Run: lexguard audit verify, then follow the incident procedure"}
	}
	return HealthCheck{Name: "audit chain", Status: CheckPass, Message: fmt.Sprintf("%d entries intact", report.Entries)}
}
