package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rpattn/replay/internal/config"
	"github.com/rpattn/replay/internal/db"
	"github.com/rpattn/replay/internal/logging"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "replayctl",
		Short:         "Work item history import tools",
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("REPLAY_CONFIG_PATH"), "Directory containing config.yaml")

	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newImportCmd(opts))
	cmd.AddCommand(newTemplatesCmd(opts))
	return cmd
}

func (o *rootOptions) load() (config.Config, *logrus.Logger, error) {
	if _, err := config.LoadEnvFiles(".env", ".env.local"); err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	logger.SetOutput(os.Stderr)
	return cfg, logger, nil
}

func connect(ctx context.Context, cfg config.Config) (*db.Connection, error) {
	return db.NewConnection(ctx, cfg.Database)
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
