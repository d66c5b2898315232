package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"taskdeck/internal/logx"
)

type contextKey struct{}

// FromContext returns the verified claims injected by Middleware.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(*Claims)
	return c, ok
}

// Middleware rejects requests without a valid bearer token and injects
// the claims into the request context.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				logx.Event("warning", "auth_failed", logx.Fields{"reason": "missing_token", "path": r.URL.Path})
				writeAuthError(w, "UNAUTHORIZED", "Invalid or missing token")
				return
			}

			claims, err := VerifyToken(token, secret)
			if err != nil {
				switch {
				case errors.Is(err, ErrTokenExpired):
					logx.Event("warning", "auth_failed", logx.Fields{"reason": "token_expired", "path": r.URL.Path})
					writeAuthError(w, "TOKEN_EXPIRED", "Token has expired. Please log in again.")
				default:
					logx.Event("warning", "auth_failed", logx.Fields{"reason": "invalid_token", "path": r.URL.Path})
					writeAuthError(w, "INVALID_TOKEN", "Invalid token")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func writeAuthError(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
