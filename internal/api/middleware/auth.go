package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazereport/internal/auth"
	"github.com/good-yellow-bee/blazereport/internal/logging"
	"github.com/good-yellow-bee/blazereport/internal/models"
)

// Context keys for storing user information.
type contextKey string

const (
	claimsKey contextKey = "claims"
)

func jsonStatus(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func jsonUnauthorized(w http.ResponseWriter) {
	jsonStatus(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
}

func jsonForbidden(w http.ResponseWriter) {
	jsonStatus(w, http.StatusForbidden, "FORBIDDEN", "access denied")
}

// JWTAuth returns middleware that validates bearer tokens.
func JWTAuth(tokens *auth.JWTService, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	logger = logging.OrNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				jsonUnauthorized(w)
				return
			}

			claims, err := tokens.ValidateToken(token)
			if err != nil {
				logger.Infow("jwt auth failed", "remote_addr", r.RemoteAddr, logging.FieldError, err)
				jsonUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims stores claims in ctx.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims returns the JWT claims from context.
func GetClaims(ctx context.Context) *auth.Claims {
	if c, ok := ctx.Value(claimsKey).(*auth.Claims); ok {
		return c
	}
	return nil
}

// GetUserID returns the user ID from context.
func GetUserID(ctx context.Context) string {
	if c := GetClaims(ctx); c != nil {
		return c.UserID
	}
	return ""
}

// GetUsername returns the username from context.
func GetUsername(ctx context.Context) string {
	if c := GetClaims(ctx); c != nil {
		return c.Username
	}
	return ""
}

// GetRole returns the user role from context.
func GetRole(ctx context.Context) models.Role {
	if c := GetClaims(ctx); c != nil {
		return c.Role
	}
	return ""
}
