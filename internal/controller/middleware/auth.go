// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"opsplane/internal/auth"
	"opsplane/internal/logger"
	"opsplane/pkg/api"

	"github.com/google/uuid"
)

// TokenParser validates a bearer token and returns its principal.
type TokenParser interface {
	Parse(token string) (*auth.Principal, error)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

func bearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// Authenticate resolves the bearer token into a principal and stores it in
// the request context. Every operation is scoped by the principal's tenant.
func Authenticate(tokens TokenParser, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, "Missing bearer token", http.StatusUnauthorized)
				return
			}

			p, err := tokens.Parse(token)
			if err != nil {
				logger.FromContext(r.Context(), log).Info("rejected bearer token",
					"fingerprint", auth.Fingerprint(token), "error", err)
				writeError(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := auth.WithPrincipal(r.Context(), p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantIDFromContext returns the tenant of the authenticated principal.
func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return p.TenantID, true
}
