package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bissquit/deepvisas/internal/domain"
	"github.com/bissquit/deepvisas/internal/guard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type stubSessions struct {
	current *domain.Identity
}

func (s *stubSessions) Guard(policy guard.Policy) guard.Decision {
	return policy.Evaluate(s.current)
}

func (s *stubSessions) CurrentUser() (domain.Identity, bool) {
	if s.current == nil {
		return domain.Identity{}, false
	}
	return *s.current, true
}

func okHandler(t *testing.T, wantEmail string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := GetIdentity(r.Context())
		assert.True(t, ok)
		assert.Equal(t, wantEmail, identity.Email)
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequirePage(t *testing.T) {
	admin := &domain.Identity{Email: "admin@deepvisas.com", Role: domain.RoleAdmin}
	user := &domain.Identity{Email: "user@deepvisas.com", Role: domain.RoleUser}

	tests := []struct {
		name         string
		current      *domain.Identity
		policy       guard.Policy
		wantStatus   int
		wantLocation string
	}{
		{"anonymous to sign-in", nil, guard.RequireRole(domain.RoleUser), http.StatusSeeOther, "/signin"},
		{"user barred from admin", user, guard.RequireRole(domain.RoleAdmin), http.StatusSeeOther, "/"},
		{"user allowed", user, guard.RequireRole(domain.RoleUser), http.StatusOK, ""},
		{"admin allowed on user page", admin, guard.RequireRole(domain.RoleUser), http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &stubSessions{current: tt.current}
			wantEmail := ""
			if tt.current != nil {
				wantEmail = tt.current.Email
			}
			h := RequirePage(sessions, tt.policy)(okHandler(t, wantEmail))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantLocation, rec.Header().Get("Location"))
		})
	}
}

func TestRequireAPI(t *testing.T) {
	user := &domain.Identity{Email: "user@deepvisas.com", Role: domain.RoleUser}

	tests := []struct {
		name         string
		current      *domain.Identity
		wantStatus   int
		wantRedirect string
	}{
		{"anonymous", nil, http.StatusUnauthorized, "/signin"},
		{"wrong role", user, http.StatusForbidden, "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireAPI(&stubSessions{current: tt.current}, guard.RequireRole(domain.RoleAdmin))(
				http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
					t.Fatal("handler must not run")
				}),
			)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/identities", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body struct {
				Error struct {
					Message  string `json:"message"`
					Redirect string `json:"redirect"`
				} `json:"error"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantRedirect, body.Error.Redirect)
			assert.NotEmpty(t, body.Error.Message)
		})
	}
}

func TestRateLimit(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(0), 2)
	h := RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/signin", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCORSMiddleware(t *testing.T) {
	h := CORSMiddleware([]string{"http://localhost:5173"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/signin", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandleError(t *testing.T) {
	errKnown := errors.New("known")
	mappings := []ErrorMapping{{Error: errKnown, Status: http.StatusConflict}}

	rec := httptest.NewRecorder()
	HandleError(httptest.NewRequest(http.MethodGet, "/", nil).Context(), rec, errors.Join(errKnown), mappings)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "known")

	rec = httptest.NewRecorder()
	HandleError(httptest.NewRequest(http.MethodGet, "/", nil).Context(), rec, errors.New("boom"), mappings)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}
