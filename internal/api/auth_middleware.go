package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/cricketstatspack/portal/internal/auth"
)

type claimsKey struct{}

func (api *Api) TokenAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			writeError(w, http.StatusUnauthorized, "Authorization header format must be Bearer {token}")
			return
		}

		claims, err := api.deps.Tokens.ValidateToken(parts[1])
		if errors.Is(err, auth.ErrExpiredToken) {
			writeError(w, http.StatusUnauthorized, "Token has expired")
			return
		}
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFrom(ctx context.Context) *auth.TokenClaims {
	c, _ := ctx.Value(claimsKey{}).(*auth.TokenClaims)
	return c
}
