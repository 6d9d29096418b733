package auth

import (
	"context"
	"encoding/json"
	"net/http"
)

type actorContextKey struct{}

// Middleware verifies the bearer token and stores the Actor on the request
// context for the HTTP layer to hand to services.
func Middleware(m Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				writeUnauthorized(w, "missing bearer token")
				return
			}
			claims, err := m.Parse(token)
			if err != nil {
				writeUnauthorized(w, err.Error())
				return
			}
			actor, err := claims.Actor()
			if err != nil {
				writeUnauthorized(w, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
		})
	}
}

func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext is only meant for HTTP handlers sitting behind Middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"kind": "unauthorized", "message": msg})
}
