package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/replay/internal/auth"
	"github.com/rpattn/replay/internal/domain"
	"github.com/rpattn/replay/internal/logging"
	"github.com/rpattn/replay/internal/repository"
)

// ActorHeader carries the id of the acting user.
const ActorHeader = "X-Actor-ID"

// ActorFinder resolves the acting user.
type ActorFinder interface {
	GetByID(ctx context.Context, id int64) (domain.Actor, error)
}

// ActorMiddleware binds the user named by ActorHeader to the request context.
// Requests without the header pass through unauthenticated.
func ActorMiddleware(actors ActorFinder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(ActorHeader))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				http.Error(w, "invalid actor id", http.StatusUnauthorized)
				return
			}
			actor, err := actors.GetByID(r.Context(), id)
			if errors.Is(err, repository.ErrNotFound) {
				http.Error(w, "unknown actor", http.StatusUnauthorized)
				return
			}
			if err != nil {
				logging.FromContext(r.Context()).WithError(err).Error("failed to resolve actor")
				http.Error(w, "failed to resolve actor", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.ContextWithActor(r.Context(), actor)))
		})
	}
}
