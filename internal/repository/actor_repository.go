package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/replay/internal/domain"
)

type actorRepository struct {
	pool *pgxpool.Pool
}

// NewActorRepository wires a repository backed by pgxpool.
func NewActorRepository(pool *pgxpool.Pool) ActorRepository {
	return &actorRepository{pool: pool}
}

func (r *actorRepository) GetByID(ctx context.Context, id int64) (domain.Actor, error) {
	var actor domain.Actor
	err := r.pool.QueryRow(ctx,
		`SELECT id, login, name, mail, admin FROM users WHERE id = $1`, id,
	).Scan(&actor.ID, &actor.Login, &actor.Name, &actor.Mail, &actor.Admin)
	if err != nil {
		return domain.Actor{}, translate(err, "get user")
	}
	return actor, nil
}

func (r *actorRepository) Create(ctx context.Context, actor domain.Actor) (domain.Actor, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, name, mail, admin) VALUES ($1, $2, $3, $4) RETURNING id`,
		actor.Login, actor.Name, actor.Mail, actor.Admin,
	).Scan(&actor.ID)
	if err != nil {
		return domain.Actor{}, translate(err, "create user")
	}
	return actor, nil
}
