package main

import (
	"github.com/spf13/cobra"

	"github.com/rpattn/replay/internal/db"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			return db.RunMigrations(cfg.Database, logger)
		},
	}
}
