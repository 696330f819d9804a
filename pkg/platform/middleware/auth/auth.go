// Package auth provides JWT bearer-token middleware for the review API.
// It only authenticates; the reviewer identity it extracts is handed to the
// workflow as an explicit parameter by the handlers, never read ambiently.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"folio/pkg/requestcontext"
)

// Role of an authenticated principal.
type Role string

const (
	RoleOwner Role = "owner"
	RoleStaff Role = "staff"
)

// Claims are the validated claims the middleware cares about.
type Claims struct {
	Subject string
	Role    Role
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

type (
	subjectKey struct{}
	roleKey    struct{}
)

// Subject retrieves the authenticated principal ID from the context.
func Subject(ctx context.Context) string {
	if s, ok := ctx.Value(subjectKey{}).(string); ok {
		return s
	}
	return ""
}

// ActorRole retrieves the authenticated principal's role from the context.
func ActorRole(ctx context.Context) Role {
	if r, ok := ctx.Value(roleKey{}).(Role); ok {
		return r
	}
	return ""
}

// WithPrincipal injects an authenticated principal into a context. Exposed
// for handler tests that bypass the middleware chain.
func WithPrincipal(ctx context.Context, subject string, role Role) context.Context {
	ctx = context.WithValue(ctx, subjectKey{}, subject)
	return context.WithValue(ctx, roleKey{}, role)
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","message":"%s"}`, errCode, errDesc))
}

// Require authenticates the request and, when roles are given, enforces that
// the principal holds one of them.
func Require(validator TokenValidator, logger *slog.Logger, roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}

			if len(roles) > 0 && !hasRole(claims.Role, roles) {
				writeJSONError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, claims.Subject, claims.Role)))
		})
	}
}

func hasRole(have Role, want []Role) bool {
	for _, r := range want {
		if r == have {
			return true
		}
	}
	return false
}
