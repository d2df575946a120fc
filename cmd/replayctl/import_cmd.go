package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/rpattn/replay/internal/app"
	"github.com/rpattn/replay/internal/blobstore"
	"github.com/rpattn/replay/internal/domain"
	"github.com/rpattn/replay/internal/importer"
	"github.com/rpattn/replay/internal/repository/memory"
)

type importOutput struct {
	Command    string          `json:"command"`
	DryRun     bool            `json:"dry_run"`
	DurationMS int64           `json:"duration_ms"`
	Result     importer.Result `json:"result"`
}

func newImportCmd(root *rootOptions) *cobra.Command {
	var (
		file         string
		contentType  string
		actorID      int64
		noValidate   bool
		dryRun       bool
		templatesDir string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replay a history file synchronously and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			osFs := afero.NewOsFs()
			data, err := afero.ReadFile(osFs, file)
			if err != nil {
				return fmt.Errorf("read --file: %w", err)
			}
			if contentType == "" {
				contentType = contentTypeFor(file)
			}

			var (
				stores app.Stores
				opts   app.Options
			)
			if dryRun {
				store := memory.NewStore()
				if _, err := store.Actors().Create(ctx, domain.Actor{ID: actorID, Login: "dry-run", Admin: true}); err != nil {
					return err
				}
				stores = app.MemoryStores(store)
				opts.Blobs = blobstore.NewFSStore(afero.NewMemMapFs(), "/")
			} else {
				conn, err := connect(ctx, cfg)
				if err != nil {
					return err
				}
				defer conn.Close()
				stores = app.PostgresStores(conn)
			}

			services, err := app.New(ctx, cfg, stores, opts, logger)
			if err != nil {
				return err
			}
			defer services.Close()

			if dryRun && templatesDir != "" {
				actor, err := stores.Actors.GetByID(ctx, actorID)
				if err != nil {
					return err
				}
				if err := uploadDir(ctx, osFs, templatesDir, func(name string, content []byte) error {
					_, err := services.WorkItems.UploadTemplate(ctx, actor, name, content)
					return err
				}); err != nil {
					return err
				}
			}

			start := time.Now()
			result, err := services.Importer.Call(ctx, importer.Request{
				ContentType: contentType,
				Data:        data,
				Validate:    !noValidate,
				InitiatorID: actorID,
			})
			if err != nil {
				return err
			}

			if err := writeJSON(importOutput{
				Command:    "import",
				DryRun:     dryRun,
				DurationMS: time.Since(start).Milliseconds(),
				Result:     result,
			}); err != nil {
				return err
			}
			if !result.Success {
				return errors.New("import failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "CSV or XLSX history file (required)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content type of --file (default: derived from the extension)")
	cmd.Flags().Int64Var(&actorID, "actor", 0, "Id of the user the import runs as (required)")
	cmd.Flags().BoolVar(&noValidate, "no-validate", false, "Skip business rule validation")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Run against in-memory stores and discard the outcome")
	cmd.Flags().StringVar(&templatesDir, "templates-dir", "", "Directory seeding the template pool of a dry run")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func contentTypeFor(file string) string {
	if strings.EqualFold(filepath.Ext(file), ".xlsx") {
		return importer.ContentTypeXLSX
	}
	return importer.ContentTypeCSV
}
