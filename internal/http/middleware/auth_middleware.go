package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sandeepkv93/identity-linking-service/internal/http/response"
	"github.com/sandeepkv93/identity-linking-service/internal/observability"
	"github.com/sandeepkv93/identity-linking-service/internal/security"
)

type contextKey string

const (
	ClaimsContextKey contextKey = "claims"
	UserIDContextKey contextKey = "user_id"
)

// AuthMiddleware resolves the session identity from the access cookie or a
// bearer header. Requests without a valid access token never reach next.
func AuthMiddleware(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, source := accessToken(r)
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing", source)
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			claims, err := jwtMgr.ParseAccessToken(raw)
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "invalid", source)
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
				return
			}
			userID, err := claims.UserID()
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "invalid_subject", source)
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
				return
			}
			observability.RecordAccessTokenValidation(r.Context(), "valid", source)
			markRequestUser(r.Context(), userID)
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			ctx = context.WithValue(ctx, UserIDContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accessToken(r *http.Request) (string, string) {
	if raw := security.GetCookie(r, security.AccessCookieName); raw != "" {
		return raw, "cookie"
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:]), "bearer"
	}
	return "", "none"
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}

func UserIDFromContext(ctx context.Context) (uint, bool) {
	id, ok := ctx.Value(UserIDContextKey).(uint)
	return id, ok && id != 0
}
