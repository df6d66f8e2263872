package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/configvault/configvault/internal/audit"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func newRequestIDRouter() *gin.Engine {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})
	return r
}

func TestRequestIDMiddleware_Generates(t *testing.T) {
	w := serve(newRequestIDRouter(), http.MethodGet, "/")

	id := w.Header().Get(RequestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("X-Request-ID %q is not a UUID: %v", id, err)
	}
	if w.Body.String() != id {
		t.Errorf("context id %q differs from header %q", w.Body.String(), id)
	}
}

func TestRequestIDMiddleware_Propagates(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "trace-abc")
	newRequestIDRouter().ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "trace-abc" {
		t.Errorf("X-Request-ID = %q, want trace-abc", got)
	}
	if w.Body.String() != "trace-abc" {
		t.Errorf("context id = %q, want trace-abc", w.Body.String())
	}
}

func TestRequestIDMiddleware_UniquePerRequest(t *testing.T) {
	r := newRequestIDRouter()
	a := serve(r, http.MethodGet, "/").Header().Get(RequestIDHeader)
	b := serve(r, http.MethodGet, "/").Header().Get(RequestIDHeader)
	if a == b {
		t.Errorf("two requests share the id %q", a)
	}
}

func TestRequestMetadataMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		wantIP  string
	}{
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1", "X-Real-IP": "198.51.100.2"}, "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "198.51.100.2"},
		{"remote address", nil, "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got audit.RequestMetadata
			var ok bool
			r := gin.New()
			r.Use(RequestMetadataMiddleware())
			r.GET("/", func(c *gin.Context) {
				got, ok = audit.MetadataFromContext(c.Request.Context())
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.0.2.1:51234"
			req.Header.Set("User-Agent", "cfv-cli/1.2.0")
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			r.ServeHTTP(httptest.NewRecorder(), req)

			if !ok {
				t.Fatal("metadata missing from request context")
			}
			if got.IPAddress != tt.wantIP {
				t.Errorf("IPAddress = %q, want %q", got.IPAddress, tt.wantIP)
			}
			if got.UserAgent != "cfv-cli/1.2.0" {
				t.Errorf("UserAgent = %q", got.UserAgent)
			}
		})
	}
}

func TestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	r := gin.New()
	r.Use(RequestIDMiddleware(), LoggerMiddleware())
	r.GET("/api/config/:environment/map", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	req := httptest.NewRequest(http.MethodGet, "/api/config/prod/map?projectId=p1", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log output is not one JSON record: %v\n%s", err, buf.String())
	}
	want := map[string]any{
		"msg":        "http request",
		"level":      "WARN",
		"method":     "GET",
		"path":       "/api/config/prod/map",
		"query":      "projectId=p1",
		"status":     float64(404),
		"request_id": "req-1",
	}
	for k, v := range want {
		if rec[k] != v {
			t.Errorf("%s = %v, want %v", k, rec[k], v)
		}
	}
}
