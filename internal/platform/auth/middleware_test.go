package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func statusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	return -1
}

func TestJWTMiddleware(t *testing.T) {
	tm := newTestManager()
	valid, _, err := tm.Issue(Principal{UserID: 7, Role: "patient"})
	if err != nil {
		t.Fatal(err)
	}
	foreign, _, err := NewTokenManager([]byte("another-key"), "medtracker", 0).Issue(Principal{UserID: 7, Role: "patient"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		route  string
		header string
		want   int
	}{
		{"missing header", "/api/v1/medications/tablets", "", http.StatusUnauthorized},
		{"wrong scheme", "/api/v1/medications/tablets", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"bearer without token", "/api/v1/medications/tablets", "Bearer ", http.StatusUnauthorized},
		{"malformed token", "/api/v1/medications/tablets", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"token from another key", "/api/v1/medications/tablets", "Bearer " + foreign, http.StatusUnauthorized},
		{"valid token", "/api/v1/medications/tablets", "Bearer " + valid, http.StatusOK},
		{"lowercase scheme", "/api/v1/medications/tablets", "bearer " + valid, http.StatusOK},
		{"health is public", "/health", "", http.StatusOK},
		{"metrics is public", "/metrics", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, tt.route, nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			c := e.NewContext(req, httptest.NewRecorder())
			c.SetPath(tt.route)

			if got := statusOf(JWTMiddleware(tm)(okHandler)(c)); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestJWTMiddleware_SetsPrincipal(t *testing.T) {
	tm := newTestManager()
	tok, _, err := tm.Issue(Principal{UserID: 7, Role: "patient"})
	if err != nil {
		t.Fatal(err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/medications/daily", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	c := e.NewContext(req, httptest.NewRecorder())

	var got Principal
	err = JWTMiddleware(tm)(func(c echo.Context) error {
		got, err = MustPrincipal(c)
		return err
	})(c)
	if err != nil {
		t.Fatal(err)
	}
	if got != (Principal{UserID: 7, Role: "patient"}) {
		t.Errorf("principal = %+v", got)
	}
	if c.Get("user_id") != int64(7) {
		t.Errorf("user_id = %v", c.Get("user_id"))
	}
}

func TestMustPrincipal_Anonymous(t *testing.T) {
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if _, err := MustPrincipal(c); statusOf(err) != http.StatusUnauthorized {
		t.Errorf("err = %v, want 401", err)
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name      string
		principal *Principal
		want      int
	}{
		{"caretaker allowed", &Principal{UserID: 1, Role: "caretaker"}, http.StatusOK},
		{"patient denied", &Principal{UserID: 2, Role: "patient"}, http.StatusForbidden},
		{"unknown role denied", &Principal{UserID: 3, Role: "admin"}, http.StatusForbidden},
		{"anonymous", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/medications/schedule", nil)
			if tt.principal != nil {
				req = req.WithContext(WithPrincipal(req.Context(), *tt.principal))
			}
			c := echo.New().NewContext(req, httptest.NewRecorder())

			if got := statusOf(RequireRole("caretaker")(okHandler)(c)); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsPublicPath(t *testing.T) {
	for route, want := range map[string]bool{
		"/health":                   true,
		"/health/db":                true,
		"/metrics":                  true,
		"/":                         false,
		"/api/v1/medications/daily": false,
	} {
		if got := IsPublicPath(route); got != want {
			t.Errorf("IsPublicPath(%q) = %v", route, got)
		}
	}
}
