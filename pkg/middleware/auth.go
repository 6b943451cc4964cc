package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"pipeline-crm-backend/pkg/models"
	"pipeline-crm-backend/pkg/utils"
)

// ContextKey keys request-scoped values
type ContextKey string

const (
	UserContextKey ContextKey = "user"

	// SessionCookie carries the access token for browser clients
	SessionCookie = "pipeline_session"
)

// TokenValidator turns an access token into the user it was issued to
type TokenValidator interface {
	ExtractUserFromToken(token string) (*models.User, error)
}

// TokenFromRequest reads the bearer header, falling back to the session cookie
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// AuthMiddleware rejects requests without a valid access token and stores
// the user in the request context.
func AuthMiddleware(tokens TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				utils.WriteUnauthorizedResponse(w, "Missing access token")
				return
			}
			user, err := tokens.ExtractUserFromToken(token)
			if err != nil {
				logger.Debug("rejected token", "path", r.URL.Path, "error", err)
				utils.WriteUnauthorizedResponse(w, "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// OptionalAuthMiddleware attaches the user when a valid token is present and
// lets anonymous requests through.
func OptionalAuthMiddleware(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := TokenFromRequest(r); token != "" {
				if user, err := tokens.ExtractUserFromToken(token); err == nil {
					r = r.WithContext(WithUser(r.Context(), user))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUser stores user in ctx and tells the enclosing RequestLogger, if
// any, who the request belongs to.
func WithUser(ctx context.Context, user *models.User) context.Context {
	if seen, ok := ctx.Value(requestUserKey).(*requestUser); ok && user != nil {
		seen.id.Store(&user.ID)
	}
	return context.WithValue(ctx, UserContextKey, user)
}

func GetUserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	return user, ok
}

// RequireUser returns the authenticated user or an error
func RequireUser(ctx context.Context) (*models.User, error) {
	user, ok := GetUserFromContext(ctx)
	if !ok || user == nil || user.ID == "" {
		return nil, errors.New("user not authenticated")
	}
	return user, nil
}
