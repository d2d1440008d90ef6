package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/auth"
	"github.com/medibook/go-appointments/internal/domain/user"
)

// TokenParser verifies a bearer token.
type TokenParser interface {
	Parse(raw string) (*auth.Claims, error)
}

// Authenticate requires an "Authorization: Bearer <jwt>" header and stores
// the caller's user.Identity in the request context.
func Authenticate(tokens TokenParser, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, raw, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(raw) == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				jsonError(w, "could not validate credentials", http.StatusUnauthorized)
				return
			}

			claims, err := tokens.Parse(strings.TrimSpace(raw))
			if err != nil {
				logger.Debug("rejected token",
					zap.Error(err),
					zap.String("request_id", GetRequestID(r.Context())),
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				jsonError(w, "could not validate credentials", http.StatusUnauthorized)
				return
			}

			id := user.Identity{UserID: claims.UserID, Email: claims.Email, Role: user.Role(claims.UserType)}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...user.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				jsonError(w, "could not validate credentials", http.StatusUnauthorized)
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			jsonError(w, "forbidden", http.StatusForbidden)
		})
	}
}

func WithIdentity(ctx context.Context, id user.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// IdentityFrom returns the authenticated caller, if any.
func IdentityFrom(ctx context.Context) (user.Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(user.Identity)
	return id, ok
}
