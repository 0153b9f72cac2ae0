package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runRequireRole(t *testing.T, userRoles []string, required ...string) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if userRoles != nil {
		req = req.WithContext(WithUser(req.Context(), "u1", userRoles...))
	}
	c := e.NewContext(req, httptest.NewRecorder())
	return RequireRole(required...)(okHandler)(c)
}

func TestRequireRole_Allowed(t *testing.T) {
	if err := runRequireRole(t, []string{"nurse"}, "physician", "nurse"); err != nil {
		t.Errorf("expected access, got %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	err := runRequireRole(t, []string{"nurse"}, "physician")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", httpErr.Code)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	if err := runRequireRole(t, nil, "physician"); err == nil {
		t.Error("expected forbidden without roles")
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	if err := runRequireRole(t, []string{"admin"}, "physician"); err != nil {
		t.Errorf("expected admin to bypass, got %v", err)
	}
}

func TestHasRole(t *testing.T) {
	tests := []struct {
		roles    []string
		required []string
		want     bool
	}{
		{[]string{"physician"}, []string{"physician"}, true},
		{[]string{"nurse", "physician"}, []string{"admin", "physician"}, true},
		{[]string{"nurse"}, []string{"physician"}, false},
		{[]string{"admin"}, []string{"anything"}, true},
		{nil, []string{"nurse"}, false},
	}
	for _, tt := range tests {
		if got := HasRole(tt.roles, tt.required...); got != tt.want {
			t.Errorf("HasRole(%v, %v) = %v, want %v", tt.roles, tt.required, got, tt.want)
		}
	}
}
