package auditlogs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/configvault/configvault/internal/db/models"
	"github.com/configvault/configvault/internal/middleware"
	"github.com/configvault/configvault/internal/services"
	"github.com/configvault/configvault/internal/services/fakes"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	db    *fakes.DB
	audit *services.AuditService
	alice *models.User
	bob   *models.User
}

func newFixture() *fixture {
	db := fakes.New()
	return &fixture{
		db:    db,
		audit: services.NewAuditService(db.Audit(), nil),
		alice: db.Users().AddUser(&models.User{Username: "alice", Email: "alice@example.com", IsActive: true}),
		bob:   db.Users().AddUser(&models.User{Username: "bob", Email: "bob@example.com", IsActive: true}),
	}
}

func (f *fixture) router(caller *models.User) *gin.Engine {
	r := gin.New()
	g := r.Group("/api/audit-logs")
	g.Use(func(c *gin.Context) {
		if caller != nil {
			c.Set(middleware.UserKey, caller)
		}
		c.Next()
	})
	NewHandlers(f.audit).Register(g)
	return r
}

func (f *fixture) record(actor *models.User, action, resourceType string, n int) {
	for i := 0; i < n; i++ {
		f.audit.Record(context.Background(), actor, services.Entry{
			Action:       action,
			ResourceType: resourceType,
			ResourceName: fmt.Sprint(i),
		})
	}
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func decodePage(t *testing.T, w *httptest.ResponseRecorder) services.Page {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var p services.Page
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func TestList_OnlyCallersEntries(t *testing.T) {
	f := newFixture()
	f.record(f.alice, models.ActionUpdateConfig, models.ResourceConfiguration, 3)
	f.record(f.bob, models.ActionUpdateConfig, models.ResourceConfiguration, 4)
	r := f.router(f.alice)

	for _, target := range []string{"/api/audit-logs", "/api/audit-logs/my"} {
		p := decodePage(t, get(r, target))
		assert.Equal(t, 3, p.TotalElements, target)
		assert.Equal(t, services.DefaultPageSize, p.PageSize)
		for _, e := range p.Items {
			assert.Equal(t, f.alice.ID, *e.UserID)
		}
	}
}

func TestList_Paging(t *testing.T) {
	f := newFixture()
	f.record(f.alice, models.ActionLogin, models.ResourceUser, 7)
	r := f.router(f.alice)

	p := decodePage(t, get(r, "/api/audit-logs?page=1&size=5"))
	assert.Len(t, p.Items, 2)
	assert.Equal(t, 1, p.PageNumber)
	assert.Equal(t, 2, p.TotalPages)
	assert.True(t, p.Last)
	assert.False(t, p.First)

	w := get(r, "/api/audit-logs?page=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = get(r, "/api/audit-logs?page=-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestList_ResponseShape(t *testing.T) {
	f := newFixture()
	f.record(f.alice, models.ActionCreateProject, models.ResourceProject, 1)

	w := get(f.router(f.alice), "/api/audit-logs")
	require.Equal(t, http.StatusOK, w.Code)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	for _, field := range []string{"content", "pageNumber", "pageSize", "totalElements", "totalPages", "first", "last"} {
		assert.Contains(t, raw, field)
	}
	assert.Contains(t, w.Body.String(), `"resourceType":"PROJECT"`)
}

func TestDateRange(t *testing.T) {
	f := newFixture()
	f.record(f.alice, models.ActionLogin, models.ResourceUser, 5)
	r := f.router(f.alice)

	entries := f.db.Audit().Entries()
	start := entries[1].CreatedAt.Format("2006-01-02T15:04:05.000Z07:00")
	end := entries[3].CreatedAt.Format("2006-01-02T15:04:05.000Z07:00")

	p := decodePage(t, get(r, "/api/audit-logs/date-range?startDate="+start+"&endDate="+end))
	assert.Equal(t, 3, p.TotalElements)

	// The fake clock starts at midnight, so a whole-second window covers every entry.
	p = decodePage(t, get(r, "/api/audit-logs/date-range?startDate=2024-01-01T00:00:00&endDate=2024-01-01T00:00:01"))
	assert.Equal(t, 5, p.TotalElements)
}

func TestDateRange_BadInput(t *testing.T) {
	f := newFixture()
	r := f.router(f.alice)

	tests := []struct {
		name   string
		target string
	}{
		{"missing start", "/api/audit-logs/date-range?endDate=2024-01-01T00:00:00"},
		{"missing end", "/api/audit-logs/date-range?startDate=2024-01-01T00:00:00"},
		{"unparsable", "/api/audit-logs/date-range?startDate=yesterday&endDate=2024-01-01T00:00:00"},
		{"reversed", "/api/audit-logs/date-range?startDate=2024-02-01T00:00:00&endDate=2024-01-01T00:00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, tt.target)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestFilter(t *testing.T) {
	f := newFixture()
	f.record(f.alice, models.ActionDeleteConfig, models.ResourceConfiguration, 2)
	f.record(f.alice, models.ActionCreateProject, models.ResourceProject, 1)
	f.record(f.bob, models.ActionDeleteConfig, models.ResourceConfiguration, 4)
	r := f.router(f.alice)

	p := decodePage(t, get(r, "/api/audit-logs/filter?action="+models.ActionDeleteConfig))
	assert.Equal(t, 2, p.TotalElements)

	p = decodePage(t, get(r, "/api/audit-logs/filter?resourceType="+models.ResourceProject))
	assert.Equal(t, 1, p.TotalElements)

	p = decodePage(t, get(r, "/api/audit-logs/filter"))
	assert.Equal(t, 3, p.TotalElements)
}

func TestFilter_IgnoresUserIDParameter(t *testing.T) {
	f := newFixture()
	f.record(f.bob, models.ActionLogin, models.ResourceUser, 4)
	r := f.router(f.alice)

	p := decodePage(t, get(r, "/api/audit-logs/filter?userId="+f.bob.ID))
	assert.Equal(t, 0, p.TotalElements)
	assert.NotNil(t, p.Items)
}

func TestRecent(t *testing.T) {
	f := newFixture()
	f.record(f.alice, models.ActionUpdateConfig, models.ResourceConfiguration, 12)
	r := f.router(f.alice)

	w := get(r, "/api/audit-logs/recent")
	require.Equal(t, http.StatusOK, w.Code)
	var logs []models.AuditLog
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	require.Len(t, logs, 10)
	assert.Equal(t, "11", *logs[0].ResourceName)

	w = get(f.router(f.bob), "/api/audit-logs/recent")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestUnauthenticated(t *testing.T) {
	r := newFixture().router(nil)
	for _, target := range []string{"/api/audit-logs", "/api/audit-logs/filter", "/api/audit-logs/recent"} {
		w := get(r, target)
		assert.Equal(t, http.StatusUnauthorized, w.Code, target)
	}
}
