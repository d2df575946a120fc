package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/replay/internal/domain"
)

type relationRepository struct {
	pool *pgxpool.Pool
}

// NewRelationRepository wires a repository backed by pgxpool.
func NewRelationRepository(pool *pgxpool.Pool) RelationRepository {
	return &relationRepository{pool: pool}
}

func (r *relationRepository) Create(ctx context.Context, relation domain.Relation) (domain.Relation, error) {
	var created domain.Relation
	var relationType string
	err := r.pool.QueryRow(ctx,
		`INSERT INTO relations (from_id, to_id, relation_type)
		 VALUES ($1, $2, $3)
		 RETURNING id, from_id, to_id, relation_type, created_at`,
		relation.FromID, relation.ToID, string(relation.Type),
	).Scan(&created.ID, &created.FromID, &created.ToID, &relationType, &created.CreatedAt)
	if err != nil {
		return domain.Relation{}, translate(err, "create relation")
	}
	created.Type = domain.RelationType(relationType)
	return created, nil
}

func (r *relationRepository) ListByEntity(ctx context.Context, entityID int64) ([]domain.Relation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, from_id, to_id, relation_type, created_at
		 FROM relations WHERE from_id = $1 OR to_id = $1 ORDER BY id`,
		entityID,
	)
	if err != nil {
		return nil, translate(err, "list relations")
	}
	defer rows.Close()

	relations := []domain.Relation{}
	for rows.Next() {
		var (
			relation     domain.Relation
			relationType string
		)
		if err := rows.Scan(&relation.ID, &relation.FromID, &relation.ToID, &relationType, &relation.CreatedAt); err != nil {
			return nil, translate(err, "scan relation")
		}
		relation.Type = domain.RelationType(relationType)
		relations = append(relations, relation)
	}
	return relations, translate(rows.Err(), "iterate relations")
}
