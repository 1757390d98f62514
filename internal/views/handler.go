package views

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/bissquit/deepvisas/internal/credentials"
	"github.com/bissquit/deepvisas/internal/domain"
	"github.com/bissquit/deepvisas/internal/guard"
	"github.com/bissquit/deepvisas/internal/pkg/ctxlog"
	"github.com/bissquit/deepvisas/internal/pkg/httputil"
	"github.com/bissquit/deepvisas/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Sections linked from the user and admin areas.
var (
	UserSections  = []string{"applications", "appointments", "notifications", "pricing"}
	AdminSections = []string{"identities", "availability"}
)

// Sessions is the part of session.Manager the pages drive.
type Sessions interface {
	httputil.SessionGuard
	SignIn(ctx context.Context, email, secret string) (domain.Route, error)
	SignUpIdentity(ctx context.Context, identity domain.Identity) error
	SignOut(ctx context.Context) (domain.Route, error)
}

// Directory lists stored identities for the admin area.
type Directory interface {
	List(ctx context.Context) ([]domain.Identity, error)
}

// Handler serves the dashboard pages.
type Handler struct {
	sessions  Sessions
	directory Directory
	renderer  *Renderer
	validator *validator.Validate
}

// NewHandler creates a new page handler.
func NewHandler(sessions Sessions, directory Directory, renderer *Renderer) *Handler {
	return &Handler{
		sessions:  sessions,
		directory: directory,
		renderer:  renderer,
		validator: validator.New(),
	}
}

// RegisterRoutes registers public and guarded pages. attempts wraps the
// form posts that check credentials.
func (h *Handler) RegisterRoutes(r chi.Router, attempts func(http.Handler) http.Handler) {
	if attempts == nil {
		attempts = func(next http.Handler) http.Handler { return next }
	}

	r.Get(domain.RouteLanding.String(), h.Landing)
	r.Get(domain.RouteSignIn.String(), h.SignInForm)
	r.With(attempts).Post(domain.RouteSignIn.String(), h.SignIn)
	r.Get(domain.RouteSignUp.String(), h.SignUpForm)
	r.With(attempts).Post(domain.RouteSignUp.String(), h.SignUp)
	r.Post("/signout", h.SignOut)

	r.Group(func(r chi.Router) {
		r.Use(httputil.RequirePage(h.sessions, guard.RequireRole(domain.RoleUser)))
		r.Get(domain.RouteUserArea.String(), h.Dashboard)
		r.Get(domain.RouteUserArea.String()+"/{section}", h.Dashboard)
	})

	r.Group(func(r chi.Router) {
		r.Use(httputil.RequirePage(h.sessions, guard.RequireRole(domain.RoleAdmin)))
		r.Get(domain.RouteAdminArea.String(), h.Admin)
		r.Get(domain.RouteAdminArea.String()+"/{section}", h.Admin)
	})
}

type signInForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type signUpForm struct {
	Email       string `validate:"required,email"`
	Password    string `validate:"required"`
	DisplayName string `validate:"max=100"`
}

// Landing handles GET /.
func (h *Handler) Landing(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, PageLanding, Page{Title: "Visa appointment tracker"})
}

// SignInForm handles GET /signin. Signed-in visitors go to their landing route.
func (h *Handler) SignInForm(w http.ResponseWriter, r *http.Request) {
	if user, ok := h.sessions.CurrentUser(); ok {
		httputil.Redirect(w, r, domain.LandingFor(user.Role))
		return
	}

	page := Page{Title: "Sign in"}
	if r.URL.Query().Get("registered") != "" {
		page.Notice = "Account created. Sign in to continue."
	}
	h.render(w, r, http.StatusOK, PageSignIn, page)
}

// SignIn handles POST /signin. Failures re-render the form with the
// entered email kept.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	form := signInForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	page := Page{Title: "Sign in", Email: form.Email}

	if err := h.validator.Struct(form); err != nil {
		page.Error = "Enter a valid email and password."
		h.render(w, r, http.StatusBadRequest, PageSignIn, page)
		return
	}

	redirect, err := h.sessions.SignIn(r.Context(), form.Email, form.Password)
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		page.Error = "Invalid email or password."
		h.render(w, r, http.StatusUnauthorized, PageSignIn, page)
		return
	case err != nil:
		h.internalError(w, r, err)
		return
	}

	httputil.Redirect(w, r, redirect)
}

// SignUpForm handles GET /signup.
func (h *Handler) SignUpForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, PageSignUp, Page{Title: "Create account"})
}

// SignUp handles POST /signup and sends the visitor to the sign-in form.
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	form := signUpForm{
		Email:       strings.TrimSpace(r.PostFormValue("email")),
		Password:    r.PostFormValue("password"),
		DisplayName: strings.TrimSpace(r.PostFormValue("display_name")),
	}
	page := Page{Title: "Create account", Email: form.Email, DisplayName: form.DisplayName}

	if err := h.validator.Struct(form); err != nil {
		page.Error = "Enter a valid email and password."
		h.render(w, r, http.StatusBadRequest, PageSignUp, page)
		return
	}

	err := h.sessions.SignUpIdentity(r.Context(), domain.Identity{
		Email:       form.Email,
		Secret:      form.Password,
		DisplayName: form.DisplayName,
	})
	switch {
	case errors.Is(err, session.ErrEmailAlreadyRegistered):
		page.Error = "An account with this email already exists."
		h.render(w, r, http.StatusConflict, PageSignUp, page)
		return
	case errors.Is(err, credentials.ErrInvalidIdentity):
		page.Error = "Enter a valid email and password."
		h.render(w, r, http.StatusBadRequest, PageSignUp, page)
		return
	case err != nil:
		h.internalError(w, r, err)
		return
	}

	http.Redirect(w, r, domain.RouteSignIn.String()+"?registered=1", http.StatusSeeOther)
}

// SignOut handles POST /signout.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	redirect, err := h.sessions.SignOut(r.Context())
	if err != nil {
		// The session is already anonymous in memory; navigation proceeds.
		ctxlog.FromContext(r.Context()).Error("sign out", "error", err)
	}
	httputil.Redirect(w, r, redirect)
}

// Dashboard handles GET /dashboard and /dashboard/{section}.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	section := chi.URLParam(r, "section")
	if section != "" && !slices.Contains(UserSections, section) {
		http.NotFound(w, r)
		return
	}

	h.render(w, r, http.StatusOK, PageDashboard, Page{
		Title:    "Dashboard",
		Section:  section,
		Sections: UserSections,
	})
}

// Admin handles GET /admin and /admin/{section}.
func (h *Handler) Admin(w http.ResponseWriter, r *http.Request) {
	section := chi.URLParam(r, "section")
	if section != "" && !slices.Contains(AdminSections, section) {
		http.NotFound(w, r)
		return
	}

	page := Page{Title: "Administration", Section: section, Sections: AdminSections}
	if section == "identities" {
		identities, err := h.directory.List(r.Context())
		if err != nil {
			h.internalError(w, r, err)
			return
		}
		page.Identities = identities
	}
	h.render(w, r, http.StatusOK, PageAdmin, page)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name string, page Page) {
	if page.User == nil {
		// Guarded pages render the identity the guard admitted.
		if user, ok := httputil.GetIdentity(r.Context()); ok {
			page.User = &user
		} else if user, ok := h.sessions.CurrentUser(); ok {
			page.User = &user
		}
	}

	var buf bytes.Buffer
	if err := h.renderer.Render(&buf, name, page); err != nil {
		h.internalError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		ctxlog.FromContext(r.Context()).Warn("write page", "page", name, "error", err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	ctxlog.FromContext(r.Context()).Error("internal error", "error", err)
	httputil.Text(w, http.StatusInternalServerError, "internal error")
}
