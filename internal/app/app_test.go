package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bissquit/deepvisas/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(driver string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         "0",
			MetricsPort:  "0",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		Storage: config.StorageConfig{Driver: driver},
		Auth:    config.AuthConfig{SecretHashing: "plain"},
		Log:     config.LogConfig{Level: "error", Format: "text"},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	application, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = application.Shutdown(ctx)
	})
	return application
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestApp_HealthEndpoints(t *testing.T) {
	application := newTestApp(t, testConfig(config.DriverMemory))
	h := application.Router()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "").Code)

	rec := do(t, h, http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Contains(t, v, "version")
}

func TestApp_APIDocs(t *testing.T) {
	application := newTestApp(t, testConfig(config.DriverMemory))

	rec := do(t, application.Router(), http.MethodGet, "/docs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `url: "/api/openapi.yaml"`)
	assert.Contains(t, rec.Body.String(), "swagger-ui-bundle.js")
}

func TestApp_AdminAPIGuarded(t *testing.T) {
	application := newTestApp(t, testConfig(config.DriverMemory))
	h := application.Router()

	rec := do(t, h, http.MethodGet, "/api/v1/admin/identities", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/auth/signin", `{"email":"user@deepvisas.com","password":"password123"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/admin/identities", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	do(t, h, http.MethodPost, "/api/v1/auth/signout", "")
	rec = do(t, h, http.MethodPost, "/api/v1/auth/signin", `{"email":"admin@deepvisas.com","password":"password123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redirect":"/admin"`)

	rec = do(t, h, http.MethodGet, "/api/v1/admin/identities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "user@deepvisas.com")
	assert.NotContains(t, rec.Body.String(), "password123")
}

func TestApp_PagesShareSessionWithAPI(t *testing.T) {
	application := newTestApp(t, testConfig(config.DriverMemory))
	h := application.Router()

	rec := do(t, h, http.MethodGet, "/dashboard", "")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/signin", rec.Header().Get("Location"))

	do(t, h, http.MethodPost, "/api/v1/auth/signin", `{"email":"user@deepvisas.com","password":"password123"}`)

	rec = do(t, h, http.MethodGet, "/dashboard", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, application.Sessions().IsAuthenticated())
}

func TestApp_RateLimitsCredentialChecks(t *testing.T) {
	cfg := testConfig(config.DriverMemory)
	cfg.Auth.RateLimit = 0.001
	cfg.Auth.RateBurst = 2
	h := newTestApp(t, cfg).Router()

	body := `{"email":"user@deepvisas.com","password":"wrong"}`
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/v1/auth/signin", body).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/v1/auth/signin", body).Code)

	rec := do(t, h, http.MethodPost, "/api/v1/auth/signin", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestApp_SessionSurvivesRestart(t *testing.T) {
	cfg := testConfig(config.DriverSQLite)
	cfg.Storage.Path = filepath.Join(t.TempDir(), "deepvisas.db")
	cfg.Session.SigningKey = strings.Repeat("k", config.MinSigningKeyLength)
	cfg.Session.MaxAge = time.Hour

	first, err := New(cfg)
	require.NoError(t, err)
	rec := do(t, first.Router(), http.MethodPost, "/api/v1/auth/signup", `{"email":"new@x.com","password":"abcdef"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, first.Router(), http.MethodPost, "/api/v1/auth/signin", `{"email":"NEW@x.com","password":"abcdef"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, first.Shutdown(ctx))

	second := newTestApp(t, cfg)
	user, ok := second.Sessions().CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "new@x.com", user.Email)
	assert.Empty(t, user.Secret)

	rec = do(t, second.Router(), http.MethodGet, "/dashboard", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApp_UnknownHashingRejected(t *testing.T) {
	cfg := testConfig(config.DriverMemory)
	cfg.Auth.SecretHashing = "md5"

	_, err := New(cfg)
	assert.Error(t, err)
}
