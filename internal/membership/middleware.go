// internal/membership/middleware.go
package membership

import (
	"errors"
	"net/http"
	"strings"

	"readhub/internal/apperrors"
	"readhub/internal/observability"
)

// RequireSession resolves the bearer token on each request into a session
// and rejects requests without one.
func RequireSession(store SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				apperrors.WriteError(w, apperrors.NewUnauthorizedError("authentication required"))
				return
			}
			sess, err := store.Get(r.Context(), token)
			if err != nil {
				if !errors.Is(err, ErrSessionNotFound) {
					observability.LoggerFromContext(r.Context()).Error().Err(err).Msg("session lookup failed")
				}
				apperrors.WriteError(w, apperrors.NewUnauthorizedError("session expired, please sign in again"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

// RequireRole rejects sessions whose role is not role. It must run after
// RequireSession.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := SessionFromContext(r.Context())
			if !ok {
				apperrors.WriteError(w, apperrors.NewUnauthorizedError("authentication required"))
				return
			}
			if sess.Role != role {
				apperrors.WriteError(w, apperrors.NewForbiddenError("insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	// EventSource cannot set headers.
	return r.URL.Query().Get("token")
}
