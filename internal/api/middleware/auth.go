package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/togetherhq/identity/internal/api/response"
	"github.com/togetherhq/identity/internal/core"
	"github.com/togetherhq/identity/internal/model"
)

type contextKey string

const (
	sessionKey contextKey = "session"
	userKey    contextKey = "user"
)

// SessionToken extracts the opaque session token from the request: the
// session cookie for browsers, a Bearer header for API callers.
func SessionToken(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	authHeader := r.Header.Get("Authorization")
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token != authHeader {
		return token
	}
	return ""
}

// SessionAuth returns middleware that resolves the session token to a live
// session and its user, injecting both into the request context. A read
// also slides the session expiry forward via Touch.
func SessionAuth(sessions *core.SessionService, users *core.UserService, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionToken(r, cookieName)
			if token == "" {
				response.WriteError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			sess, err := sessions.Get(r.Context(), token)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			if err := sessions.Touch(r.Context(), sess); err != nil {
				response.WriteServiceError(w, err)
				return
			}

			user, err := users.GetByID(r.Context(), sess.UserID)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey, sess)
			ctx = context.WithValue(ctx, userKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSession extracts the authenticated session from the request context.
func GetSession(ctx context.Context) *model.Session {
	sess, _ := ctx.Value(sessionKey).(*model.Session)
	return sess
}

// GetUser extracts the authenticated user from the request context.
func GetUser(ctx context.Context) *model.User {
	user, _ := ctx.Value(userKey).(*model.User)
	return user
}
