// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"io"

	"github.com/spf13/cobra"
)

// newPasswordCmd groups authenticator management (IA-5).
func newPasswordCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "password",
		Aliases: []string{"passwd"},
		Short:   "Check and rotate passwords (IA-5)",
	}
	cmd.AddCommand(
		newPasswordCheckCmd(opts),
		newPasswordSetCmd(opts),
		newPasswordChangeCmd(opts),
		newPasswordRequireChangeCmd(opts),
	)
	return cmd
}

// newPasswordCheckCmd validates a candidate against the configured policy
// without touching the database.
func newPasswordCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check a candidate password against the policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			candidate, err := newSecretReader(cmd.InOrStdin(), cmd.ErrOrStderr()).read("Password")
			if err != nil {
				return err
			}
			violations := opts.cfg.Password.Validate(candidate)
			p := opts.printer(cmd)
			if p.json {
				return p.result(map[string]interface{}{"valid": len(violations) == 0, "violations": violations}, nil)
			}
			if len(violations) > 0 {
				return violationsError("password check", violations)
			}
			p.line(RenderStatus("ok") + " password satisfies the policy")
			return nil
		},
	}
}

func newPasswordSetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <username|id>",
		Short: "Set a password as an administrator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			candidate, err := newSecretReader(cmd.InOrStdin(), cmd.ErrOrStderr()).read("New password")
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(a *app) error {
				ident, err := resolveIdentity(cmd.Context(), a.db, args[0])
				if err != nil {
					return err
				}
				violations, err := a.core.Passwords.Change(cmd.Context(), ident.ID, candidate)
				if err != nil {
					return NewCommandError("password", "set", ident.Username, err)
				}
				if len(violations) > 0 {
					return violationsError("password set", violations)
				}
				p := opts.printer(cmd)
				return p.result(map[string]string{"id": ident.ID, "username": ident.Username}, func(w io.Writer) {
					p.line(RenderStatus("ok") + " password set for " + ident.Username)
				})
			})
		},
	}
}

// newPasswordChangeCmd rotates the caller's own password. It reads the
// current and the new password, one per line when piped.
func newPasswordChangeCmd(opts *rootOptions) *cobra.Command {
	var tf tokenFlag
	cmd := &cobra.Command{
		Use:   "change",
		Short: "Change your own password and end your other sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := tf.value()
			if err != nil {
				return err
			}
			r := newSecretReader(cmd.InOrStdin(), cmd.ErrOrStderr())
			current, err := r.read("Current password")
			if err != nil {
				return err
			}
			next, err := r.read("New password")
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(a *app) error {
				violations, err := a.core.ChangePassword(cmd.Context(), token, current, next)
				if err != nil {
					return NewCommandError("password", "change", "rotation refused", err)
				}
				if len(violations) > 0 {
					return violationsError("password change", violations)
				}
				p := opts.printer(cmd)
				return p.result(map[string]bool{"changed": true}, func(w io.Writer) {
					p.line(RenderStatus("ok") + " password changed; other sessions ended")
				})
			})
		},
	}
	tf.register(cmd)
	return cmd
}

func newPasswordRequireChangeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "require-change <username|id>",
		Short: "Force a password change at next login",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				ident, err := resolveIdentity(cmd.Context(), a.db, args[0])
				if err != nil {
					return err
				}
				if err := a.core.Passwords.RequireChange(cmd.Context(), ident.ID, opts.actor); err != nil {
					return NewCommandError("password", "require-change", ident.Username, err)
				}
				p := opts.printer(cmd)
				return p.result(map[string]interface{}{"id": ident.ID, "must_change": true}, func(w io.Writer) {
					p.line(RenderStatus("ok") + " " + ident.Username + " must change password at next login")
				})
			})
		},
	}
}
