package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/kalambet/cinematch/internal/session"
)

type sessionKey struct{}

// SessionAuth resolves the bearer token to a live session and stores it in
// the request context. Requests without one are rejected as not yet
// authenticated.
func SessionAuth(sessions *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				httpError(w, http.StatusUnauthorized, "not_authenticated", "not yet authenticated: log in first")
				return
			}
			s, err := sessions.Get(token)
			if err != nil {
				httpError(w, http.StatusUnauthorized, "not_authenticated", "not yet authenticated: session unknown or expired")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, s)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}

func sessionFrom(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey{}).(*session.Session)
	return s
}
