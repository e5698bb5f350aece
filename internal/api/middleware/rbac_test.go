package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/good-yellow-bee/blazereport/internal/auth"
	"github.com/good-yellow-bee/blazereport/internal/models"
)

func withRole(r *http.Request, role models.Role) *http.Request {
	if role == "" {
		return r
	}
	return r.WithContext(WithClaims(r.Context(), &auth.Claims{UserID: "u-1", Username: "u", Role: role}))
}

func TestRequireCanWrite(t *testing.T) {
	tests := []struct {
		role models.Role
		want int
	}{
		{models.RoleAdmin, http.StatusOK},
		{models.RoleOperator, http.StatusOK},
		{models.RoleViewer, http.StatusForbidden},
		{"auditor", http.StatusForbidden},
		{"", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			handler := RequireCanWrite(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, withRole(httptest.NewRequest("POST", "/run", nil), tt.role))
			if rec.Code != tt.want {
				t.Errorf("role %q: status = %d, want %d", tt.role, rec.Code, tt.want)
			}
		})
	}
}

func TestRequireRole_AdminAlwaysAllowed(t *testing.T) {
	handler := RequireRole(models.RoleViewer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withRole(httptest.NewRequest("GET", "/", nil), models.RoleAdmin))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
