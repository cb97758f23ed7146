// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// audit_cmd.go - CLI commands for the tamper-evident audit ledger.
//
// Implements NIST 800-53:
//   - AU-6 (Audit Review, Analysis, and Reporting)
//   - AU-9 (Protection of Audit Information)
//
// Subcommands:
//
//	verify          Recompute the hash chain (exit 6 when broken)
//	tail [-n N]     Show the newest entries
//	review [-n N]   Summarise recent entries and flag anomalies
//	keygen <path>   Write a new chain key file
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lexguard/internal/security/audit"
	"github.com/jeranaias/lexguard/internal/store"
	"github.com/jeranaias/lexguard/internal/util"
)

func newAuditCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit ledger verification and review (AU-6, AU-9)",
	}
	cmd.AddCommand(
		newAuditVerifyCmd(opts),
		newAuditTailCmd(opts),
		newAuditReviewCmd(opts),
		newAuditKeygenCmd(opts),
	)
	return cmd
}

func newAuditVerifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the integrity of the audit chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				report, err := a.ledger.Verify(cmd.Context())
				if err != nil {
					return NewCommandError("audit", "verify", "read chain", err)
				}
				p := opts.printer(cmd)
				err = p.result(report, func(w io.Writer) {
					p.line(TitleStyle.Render("Audit chain verification"))
					p.line(RenderSeparator(50))
					if report.Verified {
						p.line(RenderStatus("verified") + fmt.Sprintf(" %d entries intact", report.Entries))
						return
					}
					p.line(RenderStatus("broken") + fmt.Sprintf(" first broken entry: %d", report.FirstBroken))
					for _, issue := range report.Issues {
						p.line("  " + ErrorStyle.Render(issue))
					}
				})
				if err != nil {
					return err
				}
				if !report.Verified {
					return &CommandError{
						Command: "audit",
						Action:  "verify",
						Reason:  fmt.Sprintf("chain broken at entry %d", report.FirstBroken),
						Err:     store.ErrIntegrity,
					}
				}
				return nil
			})
		},
	}
}

func newAuditTailCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest audit entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return NewValidationError("n", fmt.Sprint(limit), "must be positive")
			}
			return opts.withApp(cmd, func(a *app) error {
				entries, err := a.ledger.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if entries == nil {
					entries = []store.AuditEntry{}
				}
				p := opts.printer(cmd)
				return p.result(entries, func(w io.Writer) {
					for i := len(entries) - 1; i >= 0; i-- {
						e := entries[i]
						status := SuccessStyle.Render("ok  ")
						if !e.Success {
							status = ErrorStyle.Render("FAIL")
						}
						p.line(fmt.Sprintf("%6d %s %s %-28s %-10s %s %s",
							e.Seq, DimStyle.Render(formatTime(e.Timestamp)), status,
							e.Action, e.Severity, e.ActorID, DimStyle.Render(util.TruncateWidth(e.Message, 60))))
					}
				})
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "lines", "n", 20, "number of entries")
	return cmd
}

func newAuditReviewCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Summarise recent entries and flag anomalies (AU-6)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return NewValidationError("n", fmt.Sprint(limit), "must be positive")
			}
			return opts.withApp(cmd, func(a *app) error {
				entries, err := a.ledger.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
				res := audit.Review(entries, opts.cfg.Audit.Review)
				p := opts.printer(cmd)
				return p.result(res, func(w io.Writer) {
					printReview(p, res)
				})
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "lines", "n", 1000, "number of recent entries to review")
	return cmd
}

func printReview(p *printer, res *audit.ReviewResult) {
	p.line(TitleStyle.Render("Audit review"))
	p.line(RenderSeparator(50))
	p.field("Window:", formatTime(res.WindowStart)+" .. "+formatTime(res.WindowEnd))
	p.field("Entries:", res.TotalEntries)
	p.field("Failures:", res.FailureCount)

	p.line(SectionStyle.Render("Indicators"))
	ind := res.Indicators
	p.field("Failed logins:", ind.FailedLogins)
	p.field("Suspicious logins:", ind.SuspiciousLogins)
	p.field("Lockouts:", ind.Lockouts)
	p.field("Denials:", ind.Denials)
	p.field("Admin overrides:", ind.AdminOverrides)
	p.field("Unusual hours:", ind.UnusualHours)

	if len(res.Anomalies) == 0 {
		p.line(RenderStatus("ok") + " no anomalies")
		return
	}
	p.line(SectionStyle.Render("Anomalies"))
	for _, an := range res.Anomalies {
		p.line(fmt.Sprintf("  %s %-8s %s", RenderStatus("warn"), an.Severity, an.Description))
	}
}

func newAuditKeygenCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen <path>",
		Short: "Write a new hex-encoded chain key (0600)",
		Long: "Write a new hex-encoded chain key with 0600 permissions. Point\n" +
			audit.DefaultKeyEnvVar + "_FILE at it. Rotating the key breaks verification of existing entries.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := audit.GenerateKeyFile(args[0]); err != nil {
				return NewCommandError("audit", "keygen", args[0], err)
			}
			p := opts.printer(cmd)
			return p.result(map[string]string{"path": args[0]}, func(w io.Writer) {
				p.line(RenderStatus("ok") + " wrote " + args[0])
				p.line(DimStyle.Render("export " + audit.DefaultKeyEnvVar + "_FILE=" + args[0]))
			})
		},
	}
}
