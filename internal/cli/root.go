// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"io"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lexguard/internal/config"
)

// Version is set at build time.
var Version = "dev"

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	jsonOut    bool
	actor      string

	cfg *config.Config

	// openApp is replaced in tests.
	openApp func(ctx context.Context, cfg *config.Config) (*app, error)
}

// loadConfig reads --config, or the default location.
func (o *rootOptions) loadConfig() error {
	if o.configPath != "" {
		cfg, err := config.LoadOrDefault(o.configPath)
		if err != nil {
			return &CommandError{Command: "config", Action: "load", Reason: o.configPath, Err: err}
		}
		o.cfg = cfg
		return nil
	}
	cfg, err := config.Load()
	if err != nil {
		return &CommandError{Command: "config", Action: "load", Reason: "default location", Err: err}
	}
	o.cfg = cfg
	return nil
}

// withApp opens the application for the duration of fn.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := o.openApp(cmd.Context(), o.cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

// printer returns the output helper for cmd.
func (o *rootOptions) printer(cmd *cobra.Command) *printer {
	return &printer{out: cmd.OutOrStdout(), json: o.jsonOut, command: cmd.CommandPath()}
}

// currentActor identifies the operator for audit records.
func currentActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return "cli:" + name
	}
	return "cli:unknown"
}

// NewRootCommand builds the lexguard command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{openApp: openApp}

	root := &cobra.Command{
		Use:   "lexguard",
		Short: "Identity and trust core for legal case management",
		Long: "lexguard administers identities, credentials, second factors, sessions,\n" +
			"permissions, the tamper-evident audit ledger and field classification.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.actor == "" {
				opts.actor = currentActor()
			}
			return opts.loadConfig()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default ~/.lexguard/config.toml)")
	pf.BoolVar(&opts.jsonOut, "json", false, "output in JSON format")
	pf.StringVar(&opts.actor, "actor", "", "operator recorded in audit entries (default cli:$USER)")

	root.AddCommand(
		newVersionCmd(opts),
		newConfigCmd(opts),
		newMigrateCmd(opts),
		newIdentityCmd(opts),
		newPasswordCmd(opts),
		newMFACmd(opts),
		newLoginCmd(opts),
		newWhoamiCmd(opts),
		newLogoutCmd(opts),
		newLockoutCmd(opts),
		newSessionCmd(opts),
		newAuthzCmd(opts),
		newAuditCmd(opts),
		newClassifyCmd(opts),
		newRedactCmd(opts),
		newMetricsCmd(opts),
		newDoctorCmd(opts),
	)
	return root
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := opts.printer(cmd)
			info := map[string]string{"name": "lexguard", "version": Version}
			return p.result(info, func(w io.Writer) {
				p.line(TitleStyle.Render("lexguard") + " " + ValueStyle.Render(Version))
			})
		},
	}
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	root := NewRootCommand()
	if err := root.ExecuteContext(context.Background()); err != nil {
		jsonMode, _ := root.PersistentFlags().GetBool("json")
		DisplayError(err, jsonMode)
		return GetExitCode(err)
	}
	return ExitSuccess
}
