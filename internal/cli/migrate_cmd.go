// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/lexguard/internal/store/sqlstore"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore(opts.cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := db.Migrate(cmd.Context())
			if err != nil {
				return NewCommandError("migrate", "apply", opts.cfg.Database.Driver, err)
			}
			version, err := db.SchemaVersion(cmd.Context())
			if err != nil {
				return NewCommandError("migrate", "read version", opts.cfg.Database.Driver, err)
			}

			logger := newLogger(opts.cfg)
			defer func() { _ = logger.Sync() }()
			logger.Info("CM-3: schema migrated",
				zap.String("driver", opts.cfg.Database.Driver),
				zap.Int("applied", applied),
				zap.Int("version", version),
			)

			p := opts.printer(cmd)
			data := map[string]interface{}{
				"driver":  opts.cfg.Database.Driver,
				"applied": applied,
				"version": version,
				"latest":  sqlstore.LatestSchemaVersion(),
			}
			return p.result(data, func(w io.Writer) {
				p.line(RenderStatus("ok") + " schema up to date")
				p.field("Driver:", opts.cfg.Database.Driver)
				p.field("Applied:", applied)
				p.field("Version:", version)
			})
		},
	}
}
