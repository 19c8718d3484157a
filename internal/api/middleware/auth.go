package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/contental/keyserver/internal/api/response"
	"github.com/contental/keyserver/internal/core"
)

type contextKey string

const ownerKey contextKey = "owner"

// Owner is the authenticated account acting on a request. The key lifecycle
// core only ever sees the ID.
type Owner struct {
	ID       string
	Username string
}

// Auth returns a middleware that validates Bearer session tokens and
// injects the owner identity into the request context.
func Auth(authSvc *core.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader {
				response.WriteError(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			claims, err := authSvc.ValidateToken(token)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "invalid session")
				return
			}

			owner := &Owner{ID: claims.Subject, Username: claims.Username}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey, owner)))
		})
	}
}

// GetOwner extracts the authenticated owner from the request context.
func GetOwner(ctx context.Context) *Owner {
	owner, _ := ctx.Value(ownerKey).(*Owner)
	return owner
}

// WithOwner returns a context carrying the given owner identity. Used by
// tests and the MCP server's fixed operator identity.
func WithOwner(ctx context.Context, owner *Owner) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}
