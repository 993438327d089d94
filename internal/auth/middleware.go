// middleware.go

// Bearer token authentication middleware.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/MGallo-Code/pomodoro/internal/store"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const userKey contextKey = "user"

// UserFromContext returns the authenticated user. false if RequireAuth hasn't run.
func UserFromContext(ctx context.Context) (*store.User, bool) {
	u, ok := ctx.Value(userKey).(*store.User)
	return u, ok
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireAuth validates the bearer token and loads the user, which must still
// exist and be active. Injects the user into context; 401 otherwise.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			logWarn(r, "require auth failed", "reason", "missing_bearer_token")
			writeError(w, r, ErrInvalidToken)
			return
		}
		user, err := h.Svc.Authenticate(r.Context(), token)
		if err != nil {
			logWarn(r, "require auth failed", "reason", "invalid_token")
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}
