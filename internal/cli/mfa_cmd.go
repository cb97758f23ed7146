// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lexguard/internal/util"
)

// newMFACmd groups second-factor management (IA-2(1)).
func newMFACmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mfa",
		Short: "Enroll and manage TOTP second factors (IA-2(1))",
	}
	cmd.AddCommand(
		newMFAEnrollCmd(opts),
		newMFAStatusCmd(opts),
		newMFADisableCmd(opts),
	)
	return cmd
}

// newMFAEnrollCmd enrolls and confirms in one run; the pending secret is
// never written anywhere before the first code checks out.
func newMFAEnrollCmd(opts *rootOptions) *cobra.Command {
	var (
		qrPath string
		qrSize int
	)
	cmd := &cobra.Command{
		Use:   "enroll <username|id>",
		Short: "Enroll an authenticator app and confirm it with a code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				ident, err := resolveIdentity(ctx, a.db, args[0])
				if err != nil {
					return err
				}
				enr, err := a.core.MFA.Enroll(ident.Username)
				if err != nil {
					return NewCommandError("mfa", "enroll", ident.Username, err)
				}
				if qrPath != "" {
					png, err := enr.QRCodePNG(qrSize)
					if err != nil {
						return NewCommandError("mfa", "enroll", "render qr code", err)
					}
					if err := util.AtomicWriteFile(qrPath, png, 0600); err != nil {
						return NewCommandError("mfa", "enroll", qrPath, err)
					}
				}

				// The provisioning material goes to stderr so that stdout
				// carries only the result.
				errOut := cmd.ErrOrStderr()
				fmt.Fprintln(errOut, SectionStyle.Render("Add this account to your authenticator app"))
				fmt.Fprintf(errOut, "%s %s\n", RenderLabel("URI:"), enr.URI)
				fmt.Fprintf(errOut, "%s %s\n", RenderLabel("Secret:"), enr.Secret)
				if qrPath != "" {
					fmt.Fprintf(errOut, "%s %s\n", RenderLabel("QR code:"), qrPath)
				}
				fmt.Fprintln(errOut, SectionStyle.Render("Backup codes (each works once)"))
				for _, c := range enr.BackupCodes {
					fmt.Fprintln(errOut, "  "+WarningStyle.Render(c))
				}

				code, err := newSecretReader(cmd.InOrStdin(), errOut).read("Code from app")
				if err != nil {
					return err
				}
				ok, err := a.core.MFA.ConfirmEnrollment(ctx, ident.ID, enr, code)
				if err != nil {
					return NewCommandError("mfa", "confirm", ident.Username, err)
				}
				if !ok {
					return NewValidationError("code", "", "code did not match; nothing was enrolled")
				}

				p := opts.printer(cmd)
				data := map[string]interface{}{
					"id":           ident.ID,
					"enabled":      true,
					"backup_codes": len(enr.BackupCodes),
				}
				return p.result(data, func(w io.Writer) {
					p.line(RenderStatus("ok") + " second factor enabled for " + ident.Username)
				})
			})
		},
	}
	cmd.Flags().StringVar(&qrPath, "qr", "", "also write the provisioning QR code as a PNG file")
	cmd.Flags().IntVar(&qrSize, "qr-size", 256, "QR code size in pixels")
	return cmd
}

func newMFAStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <username|id>",
		Short: "Show whether MFA is enabled and how many backup codes remain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				ident, err := resolveIdentity(ctx, a.db, args[0])
				if err != nil {
					return err
				}
				enabled, err := a.core.MFA.Enabled(ctx, ident.ID)
				if err != nil {
					return err
				}
				remaining := 0
				if enabled {
					if remaining, err = a.core.MFA.RemainingBackupCodes(ctx, ident.ID); err != nil {
						return err
					}
				}
				p := opts.printer(cmd)
				data := map[string]interface{}{"id": ident.ID, "enabled": enabled, "backup_codes_remaining": remaining}
				return p.result(data, func(w io.Writer) {
					p.field("Username:", ident.Username)
					p.field("Enabled:", enabled)
					p.field("Backup codes left:", remaining)
				})
			})
		},
	}
}

func newMFADisableCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "disable <username|id>",
		Short: "Remove the second factor and its backup codes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireConfirmation(cmd, yes, "remove the second factor of "+args[0]); err != nil {
				return err
			}
			return opts.withApp(cmd, func(a *app) error {
				ident, err := resolveIdentity(cmd.Context(), a.db, args[0])
				if err != nil {
					return err
				}
				if err := a.core.MFA.Disable(cmd.Context(), ident.ID, opts.actor); err != nil {
					return NewCommandError("mfa", "disable", ident.Username, notFoundAs(err, "mfa enrollment", ident.Username))
				}
				p := opts.printer(cmd)
				return p.result(map[string]interface{}{"id": ident.ID, "enabled": false}, func(w io.Writer) {
					p.line(RenderStatus("ok") + " second factor removed for " + ident.Username)
				})
			})
		},
	}
	addYesFlag(cmd, &yes)
	return cmd
}
