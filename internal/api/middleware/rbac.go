package middleware

import (
	"net/http"
	"slices"

	"github.com/good-yellow-bee/blazereport/internal/models"
)

// RequireRole returns middleware that requires one of the given roles.
// Admins always pass.
func RequireRole(allowedRoles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := GetRole(r.Context())
			if role.IsAdmin() || (role != "" && slices.Contains(allowedRoles, role)) {
				next.ServeHTTP(w, r)
				return
			}
			jsonForbidden(w)
		})
	}
}

// RequireCanWrite allows admins and operators, who may trigger runs.
func RequireCanWrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !GetRole(r.Context()).CanWrite() {
			jsonForbidden(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
