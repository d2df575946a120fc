package auth

import (
	"context"
	"errors"

	"github.com/rpattn/replay/internal/domain"
)

type contextKey string

const actorKey contextKey = "actor"

var (
	// ErrUnauthenticated is returned when no actor is bound to the request.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden is returned when the bound actor lacks the required role.
	ErrForbidden = errors.New("administrator privileges required")
)

// ContextWithActor returns a new context that carries the authenticated actor.
func ContextWithActor(ctx context.Context, actor domain.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the authenticated actor from the context, if any.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	if ctx == nil {
		return domain.Actor{}, false
	}
	actor, ok := ctx.Value(actorKey).(domain.Actor)
	if !ok || actor.ID == 0 {
		return domain.Actor{}, false
	}
	return actor, true
}

// RequireAdmin returns the authenticated actor when it is an administrator.
func RequireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrUnauthenticated
	}
	if !actor.Admin {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}
