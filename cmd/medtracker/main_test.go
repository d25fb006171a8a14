package main

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/medtracker/medtracker/internal/config"
	"github.com/medtracker/medtracker/internal/platform/auth"
	"github.com/medtracker/medtracker/internal/platform/blobstore"
	"github.com/medtracker/medtracker/internal/platform/db"
	"github.com/medtracker/medtracker/internal/platform/metrics"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:           "0",
		Env:            "test",
		LogLevel:       "info",
		JWTSecret:      "test-signing-key-0123456789",
		JWTIssuer:      "medtracker",
		TokenTTL:       time.Hour,
		CORSOrigins:    []string{"http://localhost:3000"},
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		RequestTimeout: 5 * time.Second,
		MaxPhotoBytes:  1 << 20,
	}
}

// testApp has no database; only routes that never reach storage are exercised.
func testApp() *app {
	cfg := testConfig()
	return &app{
		cfg:     cfg,
		logger:  zerolog.Nop(),
		metrics: metrics.NewCollector(),
		photos:  blobstore.NewInMemoryBlobStore(cfg.MaxPhotoBytes),
		tokens:  auth.NewTokenManager([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.TokenTTL),
	}
}

func TestRouter_Health(t *testing.T) {
	e := newRouter(testApp())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestRouter_Metrics(t *testing.T) {
	e := newRouter(testApp())

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "medtracker_http_requests_total") {
		t.Error("expected request counter in metrics output")
	}
}

func TestRouter_PanicsAreCounted(t *testing.T) {
	a := testApp()
	e := newRouter(a)
	e.GET("/boom", func(echo.Context) error { panic("nil schedule") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if got := testutil.ToFloat64(a.metrics.RequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Errorf("expected the panic to be counted as a 500, got %v", got)
	}
}

func TestRouter_APIRequiresToken(t *testing.T) {
	e := newRouter(testApp())

	for _, path := range []string{
		"/api/v1/medications/daily?date=2024-01-01",
		"/api/v1/medications/tablets",
		"/api/v1/patients",
	} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rec.Code)
		}
	}
}

func TestRouter_ScheduleRequiresCaretaker(t *testing.T) {
	a := testApp()
	e := newRouter(a)
	token, _, err := a.tokens.Issue(auth.Principal{UserID: 1, Role: "patient"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/medications/schedule", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestRouter_DailyRequiresDate(t *testing.T) {
	a := testApp()
	e := newRouter(a)
	token, _, err := a.tokens.Issue(auth.Principal{UserID: 1, Role: "patient"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/medications/daily", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestNewPhotoStore(t *testing.T) {
	cfg := testConfig()
	store, err := newPhotoStore(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*blobstore.InMemoryBlobStore); !ok {
		t.Errorf("expected in-memory store without PHOTO_DIR, got %T", store)
	}

	cfg.PhotoDir = t.TempDir()
	store, err = newPhotoStore(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*blobstore.FileSystemBlobStore); !ok {
		t.Errorf("expected filesystem store with PHOTO_DIR, got %T", store)
	}
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "production", "warn")
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected output %q", out)
	}

	buf.Reset()
	fallback := newLogger(&buf, "production", "bogus")
	fallback.Info().Msg("default level")
	if !strings.Contains(buf.String(), "default level") {
		t.Error("expected an unknown level to fall back to info")
	}
}

func TestMigrationSource(t *testing.T) {
	names, err := fs.Glob(migrationSource(""), "*.sql")
	if err != nil || len(names) == 0 {
		t.Fatalf("expected embedded migrations, got %v %v", names, err)
	}

	dir := t.TempDir()
	if _, err := fs.Stat(migrationSource(dir), "001_core.sql"); err == nil {
		t.Error("expected the override directory to replace the embedded set")
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	applied := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printMigrationStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "core", Applied: true, AppliedAt: &applied},
		{Version: 2, Name: "next"},
	})
	out := buf.String()
	if !strings.Contains(out, "applied") || !strings.Contains(out, "2024-01-01 12:00:00") {
		t.Errorf("missing applied row in %q", out)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("missing pending row in %q", out)
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	want := map[string]bool{"serve": false, "migrate": false, "user": false, "mapping": false, "tablet": false, "token": false}
	for _, c := range rootCmd().Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}
