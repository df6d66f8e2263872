package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/configvault/configvault/internal/config"
	"github.com/configvault/configvault/internal/middleware"
	"github.com/configvault/configvault/internal/storage"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// minimal storage.Storage mock for readiness tests
// ---------------------------------------------------------------------------

type readinessMockStorage struct{ existsErr error }

func (m *readinessMockStorage) Upload(_ context.Context, _ string, _ io.Reader, _ int64) (*storage.UploadResult, error) {
	return nil, nil
}
func (m *readinessMockStorage) Download(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, nil
}
func (m *readinessMockStorage) Delete(_ context.Context, _ string) error { return nil }
func (m *readinessMockStorage) Exists(_ context.Context, _ string) (bool, error) {
	return m.existsErr == nil, m.existsErr
}

func newHealthDB(t *testing.T, pingOK bool) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if pingOK {
		mock.ExpectPing()
	} else {
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	}
	return db
}

func get(t *testing.T, r http.Handler, target string, header map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return w, body
}

// ---------------------------------------------------------------------------
// healthCheckHandler
// ---------------------------------------------------------------------------

func TestHealthCheckHandler_Healthy(t *testing.T) {
	r := gin.New()
	r.GET("/health", healthCheckHandler(newHealthDB(t, true)))

	w, body := get(t, r, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}

func TestHealthCheckHandler_Unhealthy(t *testing.T) {
	r := gin.New()
	r.GET("/health", healthCheckHandler(newHealthDB(t, false)))

	w, body := get(t, r, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("status = %v, want unhealthy", body["status"])
	}
}

// ---------------------------------------------------------------------------
// readinessHandler
// ---------------------------------------------------------------------------

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name        string
		pingOK      bool
		backend     storage.Storage
		wantStatus  int
		wantStorage interface{}
	}{
		{"database only", true, nil, http.StatusOK, nil},
		{"database and storage", true, &readinessMockStorage{}, http.StatusOK, "healthy"},
		{"database down", false, &readinessMockStorage{}, http.StatusServiceUnavailable, nil},
		{"storage down", true, &readinessMockStorage{existsErr: errors.New("403")}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/ready", readinessHandler(newHealthDB(t, tt.pingOK), tt.backend))

			w, body := get(t, r, "/ready", nil)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body["ready"] != (tt.wantStatus == http.StatusOK) {
				t.Errorf("ready = %v", body["ready"])
			}
			checks, _ := body["checks"].(map[string]interface{})
			if checks["storage"] != tt.wantStorage {
				t.Errorf("checks.storage = %v, want %v", checks["storage"], tt.wantStorage)
			}
		})
	}
}

func TestVersionHandler(t *testing.T) {
	r := gin.New()
	r.GET("/version", versionHandler())

	w, body := get(t, r, "/version", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if body["version"] != Version {
		t.Errorf("version = %v, want %s", body["version"], Version)
	}
	if body["api_version"] != "v1" {
		t.Errorf("api_version = %v, want v1", body["api_version"])
	}
}

// ---------------------------------------------------------------------------
// NewRouter
// ---------------------------------------------------------------------------

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Security.PublicAPI.MinClientVersion = "2.0.0"
	return cfg
}

func newTestRouter(t *testing.T, cfg *config.Config) *gin.Engine {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	r, bg, err := NewRouter(cfg, db)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	t.Cleanup(bg.Shutdown)
	return r
}

func TestNewRouter_NilDatabase(t *testing.T) {
	if _, _, err := NewRouter(testConfig(), nil); !errors.Is(err, ErrNoDatabase) {
		t.Errorf("err = %v, want ErrNoDatabase", err)
	}
}

func TestNewRouter_InvalidMinClientVersion(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	cfg := testConfig()
	cfg.Security.PublicAPI.MinClientVersion = "not-a-version"
	if _, _, err := NewRouter(cfg, db); err == nil {
		t.Error("expected an error for an unparsable minimum client version")
	}
}

func TestNewRouter_ProtectedRoutesRequireToken(t *testing.T) {
	r := newTestRouter(t, testConfig())

	for _, target := range []string{
		"/api/auth/me",
		"/api/config",
		"/api/config/prod/map",
		"/api/projects",
		"/api/audit-logs/recent",
	} {
		w, body := get(t, r, target, nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", target, w.Code)
		}
		if body["error"] != "Unauthorized" {
			t.Errorf("%s: error = %v, want Unauthorized", target, body["error"])
		}
	}
}

func TestNewRouter_GlobalMiddleware(t *testing.T) {
	r := newTestRouter(t, testConfig())

	w, _ := get(t, r, "/version", map[string]string{middleware.RequestIDHeader: "req-123"})
	if got := w.Header().Get(middleware.RequestIDHeader); got != "req-123" {
		t.Errorf("X-Request-ID = %q, want req-123", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestNewRouter_PublicRoutesGateOldClients(t *testing.T) {
	r := newTestRouter(t, testConfig())

	w, _ := get(t, r, "/api/public/validate", map[string]string{
		middleware.ClientVersionHeader: "1.4.0",
		"X-API-Key":                    "pk_00000000000000000000000000000000",
	})
	if w.Code != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", w.Code)
	}
}

func TestNewRouter_RateLimitHeaders(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RateLimiting.Enabled = true
	r := newTestRouter(t, cfg)

	w, _ := get(t, r, "/api/config", nil)
	if w.Header().Get("X-RateLimit-Limit") == "" {
		t.Error("expected rate-limit headers on /api/config")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRateLimitConfig(t *testing.T) {
	got := rateLimitConfig(config.RateLimitingConfig{RequestsPerMinute: 30})
	if got.RequestsPerMinute != 30 {
		t.Errorf("RequestsPerMinute = %d, want 30", got.RequestsPerMinute)
	}
	if got.BurstSize != middleware.DefaultRateLimitConfig().BurstSize {
		t.Errorf("BurstSize = %d, want the default", got.BurstSize)
	}
}
