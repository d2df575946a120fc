package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/rpattn/replay/internal/db"
	"github.com/rpattn/replay/internal/domain"
)

// entityRepository implements EntityRepository interface
type entityRepository struct {
	pool *pgxpool.Pool
}

// NewEntityRepository creates a new entity repository
func NewEntityRepository(pool *pgxpool.Pool) EntityRepository {
	return &entityRepository{pool: pool}
}

const entityColumns = `id, subject, properties, author_id, lock_version, created_at, updated_at`

// Create creates a new entity together with its first journal entry
func (r *entityRepository) Create(ctx context.Context, entity domain.Entity, userID int64) (domain.Entity, error) {
	propertiesJSON, err := entity.GetPropertiesAsJSONB()
	if err != nil {
		return domain.Entity{}, errors.Wrap(err, "marshal properties")
	}

	var created domain.Entity
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO entities (subject, properties, author_id, lock_version, created_at, updated_at)
			 VALUES ($1, $2, $3, 0, NOW(), NOW())
			 RETURNING `+entityColumns,
			entity.Subject, propertiesJSON, entity.AuthorID,
		)
		var scanErr error
		created, scanErr = scanEntity(row)
		if scanErr != nil {
			return translate(scanErr, "create entity")
		}
		return insertJournal(ctx, tx, domain.JournableEntity, created.ID, userID, entitySnapshot(created))
	})
	if err != nil {
		return domain.Entity{}, err
	}
	return created, nil
}

// Update persists the entity when its lock version still matches and journals the change
func (r *entityRepository) Update(ctx context.Context, entity domain.Entity, userID int64) (domain.Entity, error) {
	propertiesJSON, err := entity.GetPropertiesAsJSONB()
	if err != nil {
		return domain.Entity{}, errors.Wrap(err, "marshal properties")
	}

	var updated domain.Entity
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`UPDATE entities
			 SET subject = $2, properties = $3, lock_version = lock_version + 1, updated_at = NOW()
			 WHERE id = $1 AND lock_version = $4
			 RETURNING `+entityColumns,
			entity.ID, entity.Subject, propertiesJSON, entity.LockVersion,
		)
		var scanErr error
		updated, scanErr = scanEntity(row)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return errors.Wrapf(ErrStaleObject, "update entity %d", entity.ID)
		}
		if scanErr != nil {
			return translate(scanErr, "update entity")
		}
		return insertJournal(ctx, tx, domain.JournableEntity, updated.ID, userID, entitySnapshot(updated))
	})
	if err != nil {
		return domain.Entity{}, err
	}
	return updated, nil
}

// GetByID retrieves an entity by ID
func (r *entityRepository) GetByID(ctx context.Context, id int64) (domain.Entity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)
	entity, err := scanEntity(row)
	if err != nil {
		return domain.Entity{}, translate(err, "get entity")
	}
	return entity, nil
}

// Delete removes an entity and its journals. A missing row or a lock version
// mismatch yields ErrStaleObject.
func (r *entityRepository) Delete(ctx context.Context, id int64, lockVersion int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		// attachments go with the entity through the cascade, their journals do not
		if _, err := tx.Exec(ctx,
			`DELETE FROM journals WHERE journable_type = $1
			   AND journable_id IN (SELECT id FROM attachments WHERE container_id = $2)`,
			string(domain.JournableAttachment), id,
		); err != nil {
			return translate(err, "delete attachment journals")
		}

		tag, err := tx.Exec(ctx, `DELETE FROM entities WHERE id = $1 AND lock_version = $2`, id, lockVersion)
		if err != nil {
			return translate(err, "delete entity")
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(ErrStaleObject, "delete entity %d", id)
		}
		_, err = tx.Exec(ctx,
			`DELETE FROM journals WHERE journable_type = $1 AND journable_id = $2`,
			string(domain.JournableEntity), id,
		)
		return translate(err, "delete entity journals")
	})
}

func scanEntity(row pgx.Row) (domain.Entity, error) {
	var (
		entity     domain.Entity
		properties []byte
	)
	if err := row.Scan(
		&entity.ID,
		&entity.Subject,
		&properties,
		&entity.AuthorID,
		&entity.LockVersion,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	); err != nil {
		return domain.Entity{}, err
	}
	props, err := domain.FromJSONBProperties(properties)
	if err != nil {
		return domain.Entity{}, errors.Wrap(err, "unmarshal properties")
	}
	entity.Properties = props
	return entity, nil
}

func entitySnapshot(entity domain.Entity) map[string]any {
	data := make(map[string]any, len(entity.Properties)+1)
	for key, value := range entity.Properties {
		data[key] = value
	}
	data["subject"] = entity.Subject
	return data
}

func insertJournal(ctx context.Context, tx pgx.Tx, journableType domain.JournableType, journableID, userID int64, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "marshal journal data")
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO journals (journable_type, journable_id, user_id, version, data, created_at)
		 SELECT $1, $2, $3, COALESCE(MAX(version), 0) + 1, $4, $5
		 FROM journals WHERE journable_type = $1 AND journable_id = $2`,
		string(journableType), journableID, userID, payload, time.Now(),
	)
	return translate(err, "insert journal")
}
