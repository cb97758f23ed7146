// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lexguard/internal/security"
)

// loginOutput is the JSON form of a login attempt.
type loginOutput struct {
	Outcome            string     `json:"outcome"`
	Token              string     `json:"token,omitempty"`
	SessionID          string     `json:"session_id,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	MustChangePassword bool       `json:"must_change_password,omitempty"`
	AttemptsRemaining  int        `json:"attempts_remaining,omitempty"`
	LockedUntil        *time.Time `json:"locked_until,omitempty"`
}

// newLoginCmd runs the full login flow (IA-2, AC-7, AC-12). When the
// identity has a second factor and --code is not given, the code is
// prompted for after the password is accepted.
func newLoginCmd(opts *rootOptions) *cobra.Command {
	var (
		code   string
		origin originFlags
	)
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Authenticate and print a session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := newSecretReader(cmd.InOrStdin(), cmd.ErrOrStderr())
			pw, err := r.read("Password")
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(a *app) error {
				req := security.LoginRequest{
					Username: args[0],
					Password: pw,
					Code:     code,
					Origin:   origin.origin(),
				}
				res, err := a.core.Login(cmd.Context(), req)
				if err != nil {
					return NewCommandError("login", "authenticate", args[0], err)
				}
				if res.Outcome == security.OutcomeMFARequired {
					if req.Code, err = r.read("MFA code"); err != nil {
						return err
					}
					if res, err = a.core.Login(cmd.Context(), req); err != nil {
						return NewCommandError("login", "authenticate", args[0], err)
					}
				}
				return printLogin(opts.printer(cmd), res)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "TOTP or backup code")
	origin.register(cmd)
	return cmd
}

func printLogin(p *printer, res security.LoginResult) error {
	out := loginOutput{
		Outcome:            res.Outcome.String(),
		Token:              res.Token,
		MustChangePassword: res.MustChangePassword,
		AttemptsRemaining:  res.AttemptsRemaining,
		LockedUntil:        res.LockedUntil,
	}
	if res.Session != nil {
		out.SessionID = res.Session.ID
		out.ExpiresAt = &res.Session.ExpiresAt
	}

	if res.Outcome != security.OutcomeAuthenticated {
		if p.json {
			if err := p.result(out, nil); err != nil {
				return err
			}
		}
		reason := "invalid credentials"
		if res.Outcome == security.OutcomeLocked {
			reason = "account locked until " + formatTimePtr(res.LockedUntil)
		}
		return &CommandError{Command: "login", Action: "authenticate", Reason: reason, Err: security.ErrUnauthenticated}
	}

	return p.result(out, func(w io.Writer) {
		p.line(RenderStatus("ok") + " authenticated")
		p.field("Session:", out.SessionID)
		p.field("Expires:", formatTimePtr(out.ExpiresAt))
		if res.MustChangePassword {
			p.line(WarningStyle.Render("Password change required: run 'lexguard password change'"))
		}
		p.line(DimStyle.Render(fmt.Sprintf("export %s=%s", TokenEnvVar, res.Token)))
	})
}

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	var tf tokenFlag
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity behind a session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := tf.value()
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(a *app) error {
				principal, err := a.core.Authenticate(cmd.Context(), token)
				if err != nil {
					return err
				}
				p := opts.printer(cmd)
				return p.result(principal, func(w io.Writer) {
					printIdentity(p, principal.Identity)
					p.field("Session:", principal.SessionID)
					p.field("Expires:", formatTime(principal.ExpiresAt))
					if principal.Warn {
						p.line(WarningStyle.Render("Session expires soon"))
					}
				})
			})
		},
	}
	tf.register(cmd)
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	var (
		tf  tokenFlag
		all bool
	)
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the current session, or every other one with --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := tf.value()
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(a *app) error {
				p := opts.printer(cmd)
				if all {
					n, err := a.core.LogoutEverywhere(cmd.Context(), token)
					if err != nil {
						return err
					}
					return p.result(map[string]int{"terminated": n}, func(w io.Writer) {
						p.line(RenderStatus("ok") + fmt.Sprintf(" ended %d other session(s)", n))
					})
				}
				if err := a.core.Logout(cmd.Context(), token); err != nil {
					return err
				}
				return p.result(map[string]bool{"terminated": true}, func(w io.Writer) {
					p.line(RenderStatus("ok") + " logged out")
				})
			})
		},
	}
	tf.register(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "end every other session of this identity")
	return cmd
}
