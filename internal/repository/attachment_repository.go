package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/rpattn/replay/internal/db"
	"github.com/rpattn/replay/internal/domain"
)

type attachmentRepository struct {
	pool *pgxpool.Pool
}

// NewAttachmentRepository wires a repository backed by pgxpool.
func NewAttachmentRepository(pool *pgxpool.Pool) AttachmentRepository {
	return &attachmentRepository{pool: pool}
}

const attachmentColumns = `id, container_id, filename, storage_key, content_type, filesize, digest, author_id, created_at, updated_at`

func (r *attachmentRepository) Create(ctx context.Context, attachment domain.Attachment) (domain.Attachment, error) {
	var created domain.Attachment
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO attachments (container_id, filename, storage_key, content_type, filesize, digest, author_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING `+attachmentColumns,
			attachment.ContainerID, attachment.Filename, attachment.StorageKey, attachment.ContentType,
			attachment.Filesize, attachment.Digest, attachment.AuthorID,
		)
		var err error
		created, err = scanAttachment(row)
		if err != nil {
			return translate(err, "create attachment")
		}
		return insertJournal(ctx, tx, domain.JournableAttachment, created.ID, attachment.AuthorID, map[string]any{
			"filename":     created.Filename,
			"container_id": created.ContainerID,
			"digest":       created.Digest,
		})
	})
	if err != nil {
		return domain.Attachment{}, err
	}
	return created, nil
}

func (r *attachmentRepository) GetByID(ctx context.Context, id int64) (domain.Attachment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE id = $1`, id)
	attachment, err := scanAttachment(row)
	if err != nil {
		return domain.Attachment{}, translate(err, "get attachment")
	}
	return attachment, nil
}

func (r *attachmentRepository) ListByContainer(ctx context.Context, containerID int64) ([]domain.Attachment, error) {
	return r.list(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE container_id = $1 ORDER BY id`, containerID)
}

func (r *attachmentRepository) ListTemplates(ctx context.Context) ([]domain.Attachment, error) {
	return r.list(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE container_id IS NULL ORDER BY id`)
}

func (r *attachmentRepository) Delete(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM attachments WHERE id = $1`, id)
		if err != nil {
			return translate(err, "delete attachment")
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(ErrNotFound, "delete attachment %d", id)
		}
		_, err = tx.Exec(ctx,
			`DELETE FROM journals WHERE journable_type = $1 AND journable_id = $2`,
			string(domain.JournableAttachment), id,
		)
		return translate(err, "delete attachment journals")
	})
}

func (r *attachmentRepository) list(ctx context.Context, query string, args ...any) ([]domain.Attachment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err, "list attachments")
	}
	defer rows.Close()

	attachments := []domain.Attachment{}
	for rows.Next() {
		attachment, err := scanAttachment(rows)
		if err != nil {
			return nil, translate(err, "scan attachment")
		}
		attachments = append(attachments, attachment)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "iterate attachments")
	}
	return attachments, nil
}

func scanAttachment(row pgx.Row) (domain.Attachment, error) {
	var attachment domain.Attachment
	err := row.Scan(
		&attachment.ID,
		&attachment.ContainerID,
		&attachment.Filename,
		&attachment.StorageKey,
		&attachment.ContentType,
		&attachment.Filesize,
		&attachment.Digest,
		&attachment.AuthorID,
		&attachment.CreatedAt,
		&attachment.UpdatedAt,
	)
	return attachment, err
}
