// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// lockout_cmd.go - CLI commands for AC-7 lockout management.
//
// Command: lockout [subcommand]
// Aliases: lock
//
// Subcommands:
//
//	status <user>       Show failed attempts and lock window
//	unlock <user>       Clear the lock (audited as an admin override)
package cli

import (
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newLockoutCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "lockout",
		Aliases: []string{"lock"},
		Short:   "Account lockout management (AC-7)",
	}
	cmd.AddCommand(newLockoutStatusCmd(opts), newLockoutUnlockCmd(opts))
	return cmd
}

func newLockoutStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <username|id>",
		Short: "Show lockout status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				ident, err := resolveIdentity(ctx, a.db, args[0])
				if err != nil {
					return err
				}
				state, err := a.core.Guard.Status(ctx, ident.ID)
				if err != nil {
					return err
				}
				locked := state.LockedAt(time.Now())
				policy := a.core.Guard.Config()

				p := opts.printer(cmd)
				data := map[string]interface{}{
					"identity_id":      ident.ID,
					"username":         ident.Username,
					"locked":           locked,
					"failed_attempts":  state.FailedAttempts,
					"locked_until":     state.LockedUntil,
					"last_failed_at":   state.LastFailedAt,
					"max_attempts":     policy.MaxAttempts,
					"lockout_duration": policy.LockoutDuration.String(),
				}
				return p.result(data, func(w io.Writer) {
					p.line(TitleStyle.Render("Lockout status: " + ident.Username))
					p.line(RenderSeparator(50))
					if locked {
						p.line(RenderStatus("locked") + " locked until " + formatTimePtr(state.LockedUntil))
					} else {
						p.line(RenderStatus("ok") + " not locked")
					}
					p.field("Failed attempts:", state.FailedAttempts)
					p.field("Last failure:", formatTimePtr(state.LastFailedAt))
					p.field("Max attempts:", policy.MaxAttempts)
					p.field("Lockout duration:", formatDuration(policy.LockoutDuration))
				})
			})
		},
	}
}

func newLockoutUnlockCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "unlock <username|id>",
		Aliases: []string{"reset"},
		Short:   "Clear a lockout and reset the failure counter",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				ident, err := resolveIdentity(cmd.Context(), a.db, args[0])
				if err != nil {
					return err
				}
				if err := a.core.Guard.AdminUnlock(cmd.Context(), ident.ID, opts.actor); err != nil {
					return NewCommandError("lockout", "unlock", ident.Username, err)
				}
				p := opts.printer(cmd)
				return p.result(map[string]interface{}{"identity_id": ident.ID, "locked": false}, func(w io.Writer) {
					p.line(RenderStatus("ok") + " " + ident.Username + " unlocked")
				})
			})
		},
	}
}
