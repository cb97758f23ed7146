// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// authz_cmd.go - CLI commands for AC-3/AC-6 access enforcement.
//
// Subcommands:
//
//	check <user> <permission>   Evaluate a decision (audited when denied)
//	grant <user> <permission>   Store an individual allow or deny
//	grants <user>               List individual grants
//	roles <role>                List a role's permissions
//	load-policy [file]          Apply a YAML role policy
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lexguard/internal/security/access"
	"github.com/jeranaias/lexguard/internal/store"
)

func newAuthzCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "authz",
		Aliases: []string{"rbac"},
		Short:   "Role and grant based authorization (AC-3, AC-6)",
	}
	cmd.AddCommand(
		newAuthzCheckCmd(opts),
		newAuthzGrantCmd(opts),
		newAuthzGrantsCmd(opts),
		newAuthzRolesCmd(opts),
		newAuthzLoadPolicyCmd(opts),
	)
	return cmd
}

func newAuthzCheckCmd(opts *rootOptions) *cobra.Command {
	var department, target string
	cmd := &cobra.Command{
		Use:   "check <username|id> <permission>",
		Short: "Check whether an identity holds a permission",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				ident, err := resolveIdentity(cmd.Context(), a.db, args[0])
				if err != nil {
					return err
				}
				var actx *access.Context
				if department != "" || target != "" {
					actx = &access.Context{Department: department, TargetIdentityID: target}
				}
				allowed, err := a.core.Authorizer.HasPermission(cmd.Context(), ident.ID, args[1], actx)
				if err != nil {
					return NewCommandError("authz", "check", args[1], err)
				}
				p := opts.printer(cmd)
				data := map[string]interface{}{"identity_id": ident.ID, "permission": args[1], "allowed": allowed}
				return p.result(data, func(w io.Writer) {
					status := "ok"
					if !allowed {
						status = "denied"
					}
					p.line(RenderStatus(status) + fmt.Sprintf(" %s -> %s", ident.Username, args[1]))
				})
			})
		},
	}
	cmd.Flags().StringVar(&department, "department", "", "department owning the resource")
	cmd.Flags().StringVar(&target, "target", "", "identity ID the request acts on")
	return cmd
}

func newAuthzGrantCmd(opts *rootOptions) *cobra.Command {
	var (
		deny        bool
		from, until string
		reason      string
	)
	cmd := &cobra.Command{
		Use:     "grant <username|id> <permission>",
		Short:   "Allow, or with --deny forbid, a permission for one identity",
		Example: "  lexguard authz grant morgan matter.export --until 2025-06-30T00:00:00Z --reason 'discovery deadline'",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			validFrom, err := parseTimeFlag("from", from)
			if err != nil {
				return err
			}
			validUntil, err := parseTimeFlag("until", until)
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(a *app) error {
				ident, err := resolveIdentity(cmd.Context(), a.db, args[0])
				if err != nil {
					return err
				}
				g, err := a.core.Authorizer.Grant(cmd.Context(), store.PermissionGrant{
					IdentityID: ident.ID,
					Permission: args[1],
					Allow:      !deny,
					ValidFrom:  validFrom,
					ValidUntil: validUntil,
					Reason:     reason,
				}, opts.actor)
				if err != nil {
					return NewCommandError("authz", "grant", args[1], err)
				}
				p := opts.printer(cmd)
				return p.result(g, func(w io.Writer) {
					verb := "allowed"
					if deny {
						verb = "denied"
					}
					p.line(RenderStatus("ok") + fmt.Sprintf(" %s %s for %s", args[1], verb, ident.Username))
					p.field("Grant:", g.ID)
					p.field("Valid from:", formatTimePtr(g.ValidFrom))
					p.field("Valid until:", formatTimePtr(g.ValidUntil))
				})
			})
		},
	}
	f := cmd.Flags()
	f.BoolVar(&deny, "deny", false, "store an explicit deny instead of an allow")
	f.StringVar(&from, "from", "", "start of the validity window (RFC 3339)")
	f.StringVar(&until, "until", "", "end of the validity window, exclusive (RFC 3339)")
	f.StringVar(&reason, "reason", "", "justification recorded with the grant")
	return cmd
}

func newAuthzGrantsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "grants <username|id>",
		Short: "List individual grants, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				ident, err := resolveIdentity(cmd.Context(), a.db, args[0])
				if err != nil {
					return err
				}
				grants, err := a.core.Authorizer.Grants(cmd.Context(), ident.ID)
				if err != nil {
					return err
				}
				if grants == nil {
					grants = []store.PermissionGrant{}
				}
				p := opts.printer(cmd)
				return p.result(grants, func(w io.Writer) {
					p.line(TitleStyle.Render("Grants: " + ident.Username))
					for _, g := range grants {
						effect := SuccessStyle.Render("allow")
						if !g.Allow {
							effect = ErrorStyle.Render("deny ")
						}
						p.line(fmt.Sprintf("  %s %-28s %s .. %s  %s", effect, g.Permission,
							formatTimePtr(g.ValidFrom), formatTimePtr(g.ValidUntil), DimStyle.Render(g.Reason)))
					}
				})
			})
		},
	}
}

func newAuthzRolesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "roles <role>",
		Short: "List the permissions mapped to a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				rps, err := a.core.Authorizer.RolePermissions(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if rps == nil {
					rps = []store.RolePermission{}
				}
				p := opts.printer(cmd)
				return p.result(rps, func(w io.Writer) {
					p.line(TitleStyle.Render("Role: " + args[0]))
					for _, rp := range rps {
						line := "  " + rp.Permission
						for _, c := range rp.Conditions {
							line += DimStyle.Render(" [" + c.Kind + "]")
						}
						p.line(line)
					}
				})
			})
		},
	}
}

func newAuthzLoadPolicyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load-policy [file]",
		Short: "Apply a YAML role policy (default authorization.policy_path)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.cfg.Authorization.PolicyPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return NewValidationErrorWithExample("file", "", "no policy file given", "lexguard authz load-policy policy.yaml")
			}
			rps, err := access.LoadPolicyFile(path)
			if err != nil {
				return NewCommandError("authz", "load-policy", path, err)
			}
			return opts.withApp(cmd, func(a *app) error {
				n, err := a.core.Authorizer.ApplyPolicy(cmd.Context(), rps, opts.actor)
				if err != nil {
					return NewCommandError("authz", "load-policy", path, err)
				}
				p := opts.printer(cmd)
				return p.result(map[string]interface{}{"path": path, "mappings": len(rps), "changed": n}, func(w io.Writer) {
					p.line(RenderStatus("ok") + fmt.Sprintf(" %d mapping(s) read, %d changed", len(rps), n))
				})
			})
		},
	}
}
