package session

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/configvault/configvault/internal/auth"
	"github.com/configvault/configvault/internal/db/models"
	"github.com/configvault/configvault/internal/middleware"
	"github.com/configvault/configvault/internal/services"
	"github.com/configvault/configvault/internal/services/fakes"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Setenv(auth.JWTSecretEnv, "session-test-secret-at-least-32-chars!")
	os.Exit(m.Run())
}

func newRouter(t *testing.T) (*gin.Engine, *fakes.DB) {
	t.Helper()
	db := fakes.New()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	db.Users().AddUser(&models.User{Username: "alice", Email: "alice@example.com", PasswordHash: string(hash), IsActive: true})

	accounts := services.NewAccountService(db.Users(), services.NewAuditService(db.Audit(), nil), time.Hour)
	h := NewHandlers(accounts)

	r := gin.New()
	r.Use(middleware.RequestMetadataMiddleware())
	r.POST("/api/auth/login", h.Login())
	r.GET("/api/auth/me", middleware.AuthMiddleware(accounts), h.Me())
	return r, db
}

func login(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLogin(t *testing.T) {
	r, db := newRouter(t)

	w := login(r, `{"usernameOrEmail":"alice@example.com","password":"secret"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "alice", res.Username)
	assert.NotEmpty(t, res.UserID)
	assert.NotEmpty(t, res.Token)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+res.Token)
	me := httptest.NewRecorder()
	r.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), `"username":"alice"`)

	entries := db.Audit().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionLogin, entries[0].Action)
	assert.Equal(t, "203.0.113.7", *entries[0].IPAddress)
}

func TestLogin_Failures(t *testing.T) {
	r, db := newRouter(t)

	for _, body := range []string{
		`{"usernameOrEmail":"alice","password":"wrong"}`,
		`{"usernameOrEmail":"ghost","password":"secret"}`,
	} {
		w := login(r, body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "invalid username, email or password")
	}
	assert.Equal(t, http.StatusBadRequest, login(r, `{"usernameOrEmail":"alice"}`).Code)
	assert.Equal(t, http.StatusBadRequest, login(r, `not json`).Code)

	failures := 0
	for _, e := range db.Audit().Entries() {
		if e.Status == models.AuditStatusFailure {
			failures++
		}
	}
	assert.Equal(t, 2, failures)
}

func TestMe_RequiresToken(t *testing.T) {
	r, _ := newRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
