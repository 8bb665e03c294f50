package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bsknet/backend/internal/auth"
)

type contextKey string

const ctxPrincipalKey contextKey = "principal"

type TokenValidator interface {
	Validate(token string) (auth.Principal, error)
}

// BearerAuth rejects requests without a valid bearer token and stores the
// token's principal in the request context.
func BearerAuth(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				deny(w, http.StatusUnauthorized, "missing or malformed Authorization header")
				return
			}
			p, err := v.Validate(raw)
			if err != nil {
				deny(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRole lets through principals holding one of roles. Admin passes
// every check.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromCtx(r.Context())
			if !ok {
				deny(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if p.Role == auth.RoleAdmin {
				next.ServeHTTP(w, r)
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			deny(w, http.StatusForbidden, "forbidden")
		})
	}
}

func PrincipalFromCtx(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(ctxPrincipalKey).(auth.Principal)
	return p, ok
}

func WithPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipalKey, p)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
