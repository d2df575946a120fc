package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/rpattn/replay/internal/app"
	"github.com/rpattn/replay/internal/domain"
)

func newTemplatesCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage the pool of files records attach by name",
	}
	cmd.AddCommand(newTemplatesUploadCmd(root))
	cmd.AddCommand(newTemplatesListCmd(root))
	return cmd
}

func newTemplatesUploadCmd(root *rootOptions) *cobra.Command {
	var actorID int64

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload files into the template pool",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), root, func(services *app.App) error {
				actor, err := services.Stores.Actors.GetByID(cmd.Context(), actorID)
				if err != nil {
					return fmt.Errorf("load --actor: %w", err)
				}

				fs := afero.NewOsFs()
				var uploaded []domain.Attachment
				for _, path := range args {
					content, err := afero.ReadFile(fs, path)
					if err != nil {
						return err
					}
					attachment, err := services.WorkItems.UploadTemplate(cmd.Context(), actor, filepath.Base(path), content)
					if err != nil {
						return fmt.Errorf("upload %s: %w", path, err)
					}
					uploaded = append(uploaded, attachment)
				}
				return writeJSON(uploaded)
			})
		},
	}
	cmd.Flags().Int64Var(&actorID, "actor", 0, "Id of the uploading user (required)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newTemplatesListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the template pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), root, func(services *app.App) error {
				templates, err := services.WorkItems.ListTemplates(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(templates)
			})
		},
	}
}

func withServices(ctx context.Context, root *rootOptions, fn func(*app.App) error) error {
	cfg, logger, err := root.load()
	if err != nil {
		return err
	}
	conn, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	services, err := app.New(ctx, cfg, app.PostgresStores(conn), app.Options{}, logger)
	if err != nil {
		return err
	}
	defer services.Close()
	return fn(services)
}

// uploadDir hands every regular file directly below dir to upload.
func uploadDir(ctx context.Context, fs afero.Fs, dir string, upload func(name string, content []byte) error) error {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return fmt.Errorf("read templates dir: %w", err)
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			continue
		}
		content, err := afero.ReadFile(fs, filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		if err := upload(entry.Name(), content); err != nil {
			return fmt.Errorf("upload %s: %w", entry.Name(), err)
		}
	}
	return nil
}
