package httputil

import (
	"context"
	"net/http"

	"github.com/bissquit/deepvisas/internal/domain"
	"github.com/bissquit/deepvisas/internal/guard"
	"github.com/bissquit/deepvisas/internal/pkg/ctxlog"
	"golang.org/x/time/rate"
)

// CORSMiddleware creates CORS middleware that handles preflight requests
// and adds appropriate CORS headers to responses.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	originsSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && (originsSet[origin] || originsSet["*"]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type contextKey string

const identityKey contextKey = "identity"

// SessionGuard is the view of the session manager the guard middleware needs.
type SessionGuard interface {
	Guard(policy guard.Policy) guard.Decision
	CurrentUser() (domain.Identity, bool)
}

// RequirePage gates page routes. Denied requests are redirected with
// 303 See Other to the route the guard decided on.
func RequirePage(sessions SessionGuard, policy guard.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := sessions.Guard(policy)
			if !decision.Allowed {
				ctxlog.FromContext(r.Context()).Debug("page access denied",
					"path", r.URL.Path,
					"redirect", decision.Redirect,
				)
				Redirect(w, r, decision.Redirect)
				return
			}
			next.ServeHTTP(w, withCurrentIdentity(r, sessions))
		})
	}
}

// RequireAPI gates JSON routes. Anonymous callers get 401, callers lacking
// the role get 403; both carry the redirect the guard decided on.
func RequireAPI(sessions SessionGuard, policy guard.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := sessions.Guard(policy)
			if !decision.Allowed {
				status := http.StatusForbidden
				message := "insufficient permissions"
				if decision.Redirect == domain.RouteSignIn {
					status = http.StatusUnauthorized
					message = "unauthorized"
				}
				ErrorWithRedirect(w, status, message, decision.Redirect)
				return
			}
			next.ServeHTTP(w, withCurrentIdentity(r, sessions))
		})
	}
}

func withCurrentIdentity(r *http.Request, sessions SessionGuard) *http.Request {
	identity, ok := sessions.CurrentUser()
	if !ok {
		return r
	}
	ctx := ctxlog.With(r.Context(), "email", identity.Email, "role", identity.Role)
	return r.WithContext(WithIdentity(ctx, identity))
}

// WithIdentity stores the identity the request was admitted for.
func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity extracts the identity stored by the guard middleware.
func GetIdentity(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(domain.Identity)
	return identity, ok
}

// RateLimit rejects requests with 429 once limiter runs out of tokens.
func RateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				Error(w, http.StatusTooManyRequests, "too many attempts, try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
