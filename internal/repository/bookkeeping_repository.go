package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/rpattn/replay/internal/domain"
)

type bookkeepingRepository struct {
	pool *pgxpool.Pool
}

// NewBookkeepingRepository wires a repository that rewrites timestamps in place.
func NewBookkeepingRepository(pool *pgxpool.Pool) BookkeepingRepository {
	return &bookkeepingRepository{pool: pool}
}

func (r *bookkeepingRepository) SetEntityTimestamps(ctx context.Context, id int64, createdAt, updatedAt time.Time) error {
	return r.exec(ctx, "set entity timestamps",
		`UPDATE entities SET created_at = $2, updated_at = $3 WHERE id = $1`,
		id, createdAt, updatedAt,
	)
}

func (r *bookkeepingRepository) SetAttachmentTimestamps(ctx context.Context, id int64, createdAt, updatedAt time.Time) error {
	return r.exec(ctx, "set attachment timestamps",
		`UPDATE attachments SET created_at = $2, updated_at = $3 WHERE id = $1`,
		id, createdAt, updatedAt,
	)
}

func (r *bookkeepingRepository) SetLatestJournalCreatedAt(ctx context.Context, journableType domain.JournableType, journableID int64, createdAt time.Time) error {
	return r.exec(ctx, "set journal timestamp",
		`UPDATE journals SET created_at = $3
		 WHERE id = (
		   SELECT id FROM journals
		   WHERE journable_type = $1 AND journable_id = $2
		   ORDER BY version DESC LIMIT 1
		 )`,
		string(journableType), journableID, createdAt,
	)
}

func (r *bookkeepingRepository) exec(ctx context.Context, message string, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return translate(err, message)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(ErrNotFound, message)
	}
	return nil
}
