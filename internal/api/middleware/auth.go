// Package middleware holds the HTTP middleware for the protected API routes.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sibylhq/sibyl/internal/api/ctxkeys"
	pkgauth "github.com/sibylhq/sibyl/pkg/auth"
)

// AuthMiddleware validates the Bearer JWT and injects UserID and WorkspaceID
// into the request context. Applied to all /api/v1/* routes; /auth/* and
// /health stay public.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractBearerToken(r)
		if tokenString == "" {
			writeUnauthorized(w, "missing or invalid Authorization header")
			return
		}

		claims, err := pkgauth.ParseJWT(tokenString)
		if err != nil {
			writeUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := r.Context()
		ctx = ctxkeys.WithValue(ctx, ctxkeys.UserID, claims.UserID)
		ctx = ctxkeys.WithValue(ctx, ctxkeys.WorkspaceID, claims.WorkspaceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearerToken reads the token from "Authorization: Bearer <token>".
// Returns "" when the header is missing, uses another scheme, or carries an
// empty token.
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message}) //nolint:errcheck
}
