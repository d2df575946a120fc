package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/replay/internal/auth"
	"github.com/rpattn/replay/internal/domain"
	"github.com/rpattn/replay/internal/repository/memory"
)

func TestActorMiddleware(t *testing.T) {
	store := memory.NewStore()
	admin, err := store.Actors().Create(context.Background(), domain.Actor{Login: "admin", Admin: true})
	require.NoError(t, err)

	var seen *domain.Actor
	handler := ActorMiddleware(store.Actors())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor, ok := auth.ActorFromContext(r.Context()); ok {
			seen = &actor
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		status int
		actor  bool
	}{
		{name: "anonymous", status: http.StatusNoContent},
		{name: "known", header: "1", status: http.StatusNoContent, actor: true},
		{name: "unknown", header: "42", status: http.StatusUnauthorized},
		{name: "malformed", header: "abc", status: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(ActorHeader, tc.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.actor {
				require.NotNil(t, seen)
				assert.Equal(t, admin.ID, seen.ID)
			} else {
				assert.Nil(t, seen)
			}
		})
	}
}
