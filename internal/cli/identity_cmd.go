// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lexguard/internal/security"
	"github.com/jeranaias/lexguard/internal/security/classification"
	"github.com/jeranaias/lexguard/internal/security/password"
	"github.com/jeranaias/lexguard/internal/store"
)

// newIdentityCmd groups account management (AC-2).
func newIdentityCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "identity",
		Aliases: []string{"id"},
		Short:   "Provision and manage identities (AC-2)",
	}
	cmd.AddCommand(
		newIdentityAddCmd(opts),
		newIdentityShowCmd(opts),
		newIdentitySetActiveCmd(opts, "disable", false),
		newIdentitySetActiveCmd(opts, "enable", true),
	)
	return cmd
}

func newIdentityAddCmd(opts *rootOptions) *cobra.Command {
	var (
		role, department, clearance string
		withPassword, mustChange    bool
	)
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an identity",
		Example: "  lexguard identity add morgan --role attorney --department litigation --clearance secret --password\n" +
			"  printf 'S3cure-Passphrase!\\n' | lexguard identity add jordan --role paralegal --password --must-change",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := classification.ParseLevel(clearance)
			if err != nil {
				return NewValidationErrorWithExample("clearance", clearance, err.Error(), "internal, confidential, secret")
			}
			req := security.NewIdentity{
				Username:   args[0],
				Role:       role,
				Department: department,
				Clearance:  level,
				MustChange: mustChange,
			}
			if withPassword {
				req.Password, err = newSecretReader(cmd.InOrStdin(), cmd.ErrOrStderr()).read("Password")
				if err != nil {
					return err
				}
			}

			return opts.withApp(cmd, func(a *app) error {
				ident, violations, err := a.core.Provision(cmd.Context(), req, opts.actor)
				if err != nil {
					return NewCommandError("identity", "add", args[0], err)
				}
				if len(violations) > 0 {
					return violationsError("identity add", violations)
				}
				p := opts.printer(cmd)
				return p.result(ident, func(w io.Writer) {
					p.line(RenderStatus("ok") + " identity created")
					printIdentity(p, ident)
				})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&role, "role", "", "role name (required)")
	f.StringVar(&department, "department", "", "department used by same_department conditions")
	f.StringVar(&clearance, "clearance", "internal", "clearance level: internal, confidential or secret")
	f.BoolVar(&withPassword, "password", false, "read an initial password from the terminal or stdin")
	f.BoolVar(&mustChange, "must-change", false, "force a password change at first login")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func newIdentityShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <username|id>",
		Short: "Show an identity with its lockout and MFA state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				ident, err := resolveIdentity(ctx, a.db, args[0])
				if err != nil {
					return err
				}
				lock, err := a.core.Guard.Status(ctx, ident.ID)
				if err != nil {
					return err
				}
				mfaOn, err := a.core.MFA.Enabled(ctx, ident.ID)
				if err != nil {
					return err
				}
				mustChange, err := a.core.Passwords.MustChange(ctx, ident.ID)
				if err != nil {
					return err
				}
				data := struct {
					store.Identity
					MFAEnabled         bool               `json:"mfa_enabled"`
					MustChangePassword bool               `json:"must_change_password"`
					Lockout            store.LockoutState `json:"lockout"`
				}{ident, mfaOn, mustChange, lock}

				p := opts.printer(cmd)
				return p.result(data, func(w io.Writer) {
					printIdentity(p, ident)
					p.field("MFA:", mfaOn)
					p.field("Must change:", mustChange)
					p.field("Failed attempts:", lock.FailedAttempts)
					p.field("Locked until:", formatTimePtr(lock.LockedUntil))
				})
			})
		},
	}
}

func newIdentitySetActiveCmd(opts *rootOptions, verb string, active bool) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   verb + " <username|id>",
		Short: verb + " an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !active {
				if err := opts.requireConfirmation(cmd, yes, "disable "+args[0]+" and end its sessions"); err != nil {
					return err
				}
			}
			return opts.withApp(cmd, func(a *app) error {
				ident, err := resolveIdentity(cmd.Context(), a.db, args[0])
				if err != nil {
					return err
				}
				if err := a.core.SetActive(cmd.Context(), ident.ID, active, opts.actor); err != nil {
					return NewCommandError("identity", verb, ident.Username, err)
				}
				p := opts.printer(cmd)
				return p.result(map[string]interface{}{"id": ident.ID, "username": ident.Username, "active": active}, func(w io.Writer) {
					p.line(RenderStatus("ok") + " " + ident.Username + " " + verb + "d")
				})
			})
		},
	}
	if !active {
		addYesFlag(cmd, &yes)
	}
	return cmd
}

func printIdentity(p *printer, ident store.Identity) {
	p.field("ID:", ident.ID)
	p.field("Username:", ident.Username)
	p.field("Role:", ident.Role)
	p.field("Department:", ident.Department)
	p.line(RenderLabel("Clearance:") + " " + RenderLevel(ident.Clearance))
	p.field("Active:", ident.Active)
	p.field("Created:", formatTime(ident.CreatedAt))
}

// violationsError lists every policy rule a candidate password breaks.
func violationsError(command string, violations []password.Violation) error {
	return &PolicyError{Command: command, Violations: violations}
}
