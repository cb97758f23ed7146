// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lexguard/internal/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit the configuration (CM-6)",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets redacted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				p := opts.printer(cmd)
				if p.json {
					// Secrets are masked on a copy.
					c := opts.cfg.Clone()
					c.Database.DSN = "[REDACTED]"
					if c.Audit.RedisPassword != "" {
						c.Audit.RedisPassword = "[REDACTED]"
					}
					return p.result(c, nil)
				}
				p.line(opts.cfg.String())
				return nil
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one value (e.g. session.idle_timeout)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := opts.cfg.Get(args[0])
				if err != nil {
					return NewValidationError("key", args[0], err.Error())
				}
				p := opts.printer(cmd)
				return p.result(map[string]interface{}{"key": args[0], "value": v}, func(w io.Writer) {
					p.field(args[0], v)
				})
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change one value and save the file",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				c := opts.cfg.Clone()
				if err := c.Set(args[0], args[1]); err != nil {
					return NewValidationError("key", args[0], err.Error())
				}
				if err := c.Validate(); err != nil {
					return err
				}
				path, err := opts.savePath()
				if err != nil {
					return err
				}
				if err := config.SaveTOML(c, path); err != nil {
					return NewCommandError("config", "save", path, err)
				}
				p := opts.printer(cmd)
				return p.result(map[string]string{"key": args[0], "value": args[1], "path": path}, func(w io.Writer) {
					p.line(RenderStatus("ok") + " " + args[0] + " = " + args[1])
				})
			},
		},
		newConfigInitCmd(opts),
	)
	return cmd
}

func newConfigInitCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := opts.savePath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return NewValidationErrorWithExample("path", path, "file exists", "lexguard config init --force")
			}
			if err := config.SaveTOML(config.Default(), path); err != nil {
				return NewCommandError("config", "init", path, err)
			}
			p := opts.printer(cmd)
			return p.result(map[string]string{"path": path}, func(w io.Writer) {
				p.line(RenderStatus("ok") + " wrote " + path)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// savePath is --config, or the default location.
func (o *rootOptions) savePath() (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	if err := config.EnsureConfigDir(); err != nil {
		return "", NewCommandError("config", "save", "create config directory", err)
	}
	return config.ConfigPath()
}
