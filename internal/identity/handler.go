// Package identity exposes the session manager over the dashboard's JSON API.
package identity

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/bissquit/deepvisas/internal/credentials"
	"github.com/bissquit/deepvisas/internal/domain"
	"github.com/bissquit/deepvisas/internal/pkg/httputil"
	"github.com/bissquit/deepvisas/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// SessionService is the part of session.Manager the API drives.
type SessionService interface {
	CurrentUser() (domain.Identity, bool)
	Authenticate(ctx context.Context, email, secret string) (domain.Identity, domain.Route, error)
	SignUpIdentity(ctx context.Context, identity domain.Identity) error
	SignOut(ctx context.Context) (domain.Route, error)
}

// Directory lists stored identities.
type Directory interface {
	List(ctx context.Context) ([]domain.Identity, error)
}

var errorMappings = []httputil.ErrorMapping{
	{Error: session.ErrInvalidCredentials, Status: http.StatusUnauthorized},
	{Error: session.ErrEmailAlreadyRegistered, Status: http.StatusConflict},
	{Error: credentials.ErrInvalidIdentity, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for the identity module.
type Handler struct {
	sessions  SessionService
	directory Directory
	validator *validator.Validate
}

// NewHandler creates a new identity handler.
func NewHandler(sessions SessionService, directory Directory) *Handler {
	return &Handler{
		sessions:  sessions,
		directory: directory,
		validator: validator.New(),
	}
}

// RegisterRoutes registers the public auth routes. attempts wraps the
// routes that check credentials, typically with a rate limiter.
func (h *Handler) RegisterRoutes(r chi.Router, attempts func(http.Handler) http.Handler) {
	if attempts == nil {
		attempts = func(next http.Handler) http.Handler { return next }
	}
	r.Route("/auth", func(r chi.Router) {
		r.With(attempts).Post("/signin", h.SignIn)
		r.With(attempts).Post("/signup", h.SignUp)
		r.Post("/signout", h.SignOut)
		r.Get("/session", h.Session)
	})
}

// RegisterAdminRoutes registers routes that require the admin role.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/admin/identities", h.ListIdentities)
}

// SignInRequest represents sign-in request body.
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignUpRequest represents sign-up request body.
type SignUpRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	DisplayName string `json:"display_name" validate:"max=100"`
}

// SignInResponse is returned after a successful sign-in.
type SignInResponse struct {
	User     domain.Identity `json:"user"`
	Redirect domain.Route    `json:"redirect"`
}

// RedirectResponse tells the client where to navigate next.
type RedirectResponse struct {
	Redirect domain.Route `json:"redirect"`
}

// SessionResponse describes the current session.
type SessionResponse struct {
	Authenticated bool             `json:"authenticated"`
	User          *domain.Identity `json:"user,omitempty"`
}

// SignIn handles POST /auth/signin.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	user, redirect, err := h.sessions.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, SignInResponse{User: user, Redirect: redirect})
}

// SignUp handles POST /auth/signup. The new identity is not signed in.
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	err := h.sessions.SignUpIdentity(r.Context(), domain.Identity{
		Email:       req.Email,
		Secret:      req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, RedirectResponse{Redirect: domain.RouteSignIn})
}

// SignOut handles POST /auth/signout. It always ends the session; a
// failure to clear the persisted snapshot is reported as 500.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	redirect, err := h.sessions.SignOut(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, RedirectResponse{Redirect: redirect})
}

// Session handles GET /auth/session.
func (h *Handler) Session(w http.ResponseWriter, _ *http.Request) {
	var resp SessionResponse
	if user, ok := h.sessions.CurrentUser(); ok {
		resp.Authenticated = true
		resp.User = &user
	}
	httputil.Success(w, http.StatusOK, resp)
}

// ListIdentities handles GET /admin/identities.
func (h *Handler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	identities, err := h.directory.List(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, identities)
}
