package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/replay/internal/domain"
)

type importRunRepository struct {
	pool *pgxpool.Pool
}

// NewImportRunRepository wires a repository backed by pgxpool.
func NewImportRunRepository(pool *pgxpool.Pool) ImportRunRepository {
	return &importRunRepository{pool: pool}
}

const importRunColumns = `id, channel, actor_id, content_type, validate, status, result, error, enqueued_at, started_at, completed_at`

// Record inserts the run or overwrites its mutable columns when it already exists.
func (r *importRunRepository) Record(ctx context.Context, run domain.ImportRun) error {
	if r.pool == nil {
		return fmt.Errorf("import run repository not initialized")
	}

	var result any
	if len(run.Result) > 0 {
		result = []byte(run.Result)
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO import_runs (`+importRunColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   result = EXCLUDED.result,
		   error = EXCLUDED.error,
		   started_at = EXCLUDED.started_at,
		   completed_at = EXCLUDED.completed_at`,
		run.ID,
		run.Channel,
		run.ActorID,
		run.ContentType,
		run.Validate,
		string(run.Status),
		result,
		run.Error,
		run.EnqueuedAt,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record import run: %w", err)
	}

	return nil
}

// Latest returns the most recently enqueued run on a channel.
func (r *importRunRepository) Latest(ctx context.Context, channel string) (domain.ImportRun, error) {
	runs, err := r.List(ctx, channel, 1, 0)
	if err != nil {
		return domain.ImportRun{}, err
	}
	if len(runs) == 0 {
		return domain.ImportRun{}, ErrNotFound
	}
	return runs[0], nil
}

func (r *importRunRepository) List(ctx context.Context, channel string, limit int, offset int) ([]domain.ImportRun, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("import run repository not initialized")
	}

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+importRunColumns+`
		 FROM import_runs
		 WHERE channel = $1
		 ORDER BY enqueued_at DESC
		 LIMIT $2 OFFSET $3`,
		channel,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list import runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.ImportRun{}
	for rows.Next() {
		run, scanErr := scanImportRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan import run: %w", scanErr)
		}
		runs = append(runs, run)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate import runs: %w", rowsErr)
	}

	return runs, nil
}

func scanImportRun(row pgx.Row) (domain.ImportRun, error) {
	var (
		run         domain.ImportRun
		status      string
		result      []byte
		errText     pgtype.Text
		startedAt   pgtype.Timestamptz
		completedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&run.ID,
		&run.Channel,
		&run.ActorID,
		&run.ContentType,
		&run.Validate,
		&status,
		&result,
		&errText,
		&run.EnqueuedAt,
		&startedAt,
		&completedAt,
	); err != nil {
		return domain.ImportRun{}, err
	}

	run.Status = domain.ImportRunStatus(status)
	run.Result = result
	if errText.Valid {
		run.Error = errText.String
	}
	if startedAt.Valid {
		value := startedAt.Time
		run.StartedAt = &value
	}
	if completedAt.Valid {
		value := completedAt.Time
		run.CompletedAt = &value
	}
	return run, nil
}
