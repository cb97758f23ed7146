// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// session_cmd.go - CLI commands for AC-12 session management.
//
// Subcommands:
//
//	list <user>          Active sessions of an identity
//	revoke <session-id>  End one session
//	revoke-all <user>    End every session of an identity
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lexguard/internal/store"
	"github.com/jeranaias/lexguard/internal/util"
)

func newSessionCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"sessions"},
		Short:   "Session management (AC-10, AC-12)",
	}
	cmd.AddCommand(newSessionListCmd(opts), newSessionRevokeCmd(opts), newSessionRevokeAllCmd(opts))
	return cmd
}

func newSessionListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list <username|id>",
		Aliases: []string{"ls"},
		Short:   "List active sessions",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				ident, err := resolveIdentity(cmd.Context(), a.db, args[0])
				if err != nil {
					return err
				}
				sessions, err := a.core.Sessions.List(cmd.Context(), ident.ID)
				if err != nil {
					return err
				}
				if sessions == nil {
					sessions = []store.Session{}
				}
				p := opts.printer(cmd)
				return p.result(sessions, func(w io.Writer) {
					p.line(TitleStyle.Render(fmt.Sprintf("Sessions: %s (%d active, cap %d)",
						ident.Username, len(sessions), a.core.Sessions.Config().MaxSessions)))
					for _, s := range sessions {
						p.line(RenderSeparator(50))
						p.field("ID:", s.ID)
						p.field("Created:", formatTime(s.CreatedAt))
						p.field("Last activity:", formatTime(s.LastActivityAt))
						p.field("Expires:", formatTime(s.ExpiresAt))
						p.field("Origin:", s.Origin.RemoteAddr+" "+util.TruncateWidth(s.Origin.UserAgent, 48))
					}
				})
			})
		},
	}
}

func newSessionRevokeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <session-id>",
		Short: "End one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				if err := a.core.Sessions.TerminateByID(cmd.Context(), args[0], store.TerminationAdmin, opts.actor); err != nil {
					return NewCommandError("session", "revoke", args[0], err)
				}
				p := opts.printer(cmd)
				return p.result(map[string]string{"session_id": args[0]}, func(w io.Writer) {
					p.line(RenderStatus("ok") + " session " + args[0] + " ended")
				})
			})
		},
	}
}

func newSessionRevokeAllCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "revoke-all <username|id>",
		Short: "End every session of an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireConfirmation(cmd, yes, "end every session of "+args[0]); err != nil {
				return err
			}
			return opts.withApp(cmd, func(a *app) error {
				ident, err := resolveIdentity(cmd.Context(), a.db, args[0])
				if err != nil {
					return err
				}
				n, err := a.core.Sessions.TerminateAll(cmd.Context(), ident.ID, "", store.TerminationAdmin, opts.actor)
				if err != nil {
					return NewCommandError("session", "revoke-all", ident.Username, err)
				}
				p := opts.printer(cmd)
				return p.result(map[string]interface{}{"identity_id": ident.ID, "terminated": n}, func(w io.Writer) {
					p.line(RenderStatus("ok") + fmt.Sprintf(" ended %d session(s) of %s", n, ident.Username))
				})
			})
		},
	}
	addYesFlag(cmd, &yes)
	return cmd
}
