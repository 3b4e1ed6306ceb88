package middleware

import (
	"context"
	"net/http"
	"strings"

	"notes-sync-indexer/internal/logger"
	"notes-sync-indexer/pkg/jwt"
	"notes-sync-indexer/pkg/response"
)

type contextKey string

const OwnerIDKey contextKey = "ownerID"

// AuthMiddleware accepts a bearer token in the Authorization header, or in
// the token query parameter for websocket upgrades.
func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				response.Unauthorized(w, "Missing or malformed authorization")
				return
			}

			claims, err := jwt.ValidateToken(token, jwtSecret)
			if err != nil {
				response.Unauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), OwnerIDKey, claims.OwnerID)
			ctx = logger.WithLogger(ctx, logger.Ctx(ctx).With("owner_id", claims.OwnerID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}

func GetOwnerID(r *http.Request) string {
	ownerID, ok := r.Context().Value(OwnerIDKey).(string)
	if !ok {
		return ""
	}
	return ownerID
}
