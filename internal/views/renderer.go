// Package views serves the dashboard's HTML pages and sign-in forms.
package views

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/bissquit/deepvisas/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Page names understood by Renderer.Render.
const (
	PageLanding   = "landing"
	PageSignIn    = "signin"
	PageSignUp    = "signup"
	PageDashboard = "dashboard"
	PageAdmin     = "admin"
)

// Page is the data every template receives.
type Page struct {
	Title       string
	User        *domain.Identity
	Notice      string
	Error       string
	Email       string
	DisplayName string
	Section     string
	Sections    []string
	Identities  []domain.Identity
}

// Renderer renders pages from the embedded templates.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer parses every page together with the shared layout.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":       titleCase,
		"displayName": displayName,
	}

	r := &Renderer{templates: make(map[string]*template.Template)}
	for _, name := range []string{PageLanding, PageSignIn, PageSignUp, PageDashboard, PageAdmin} {
		tmpl, err := template.New(name).Funcs(funcMap).ParseFS(templatesFS,
			"templates/layout.html",
			fmt.Sprintf("templates/%s.html", name),
		)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// Render writes the named page to w. Nothing is written if rendering fails.
func (r *Renderer) Render(w io.Writer, name string, page Page) error {
	tmpl, ok := r.templates[name]
	if !ok {
		return fmt.Errorf("template not found: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", page); err != nil {
		return fmt.Errorf("execute template %s: %w", name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

func displayName(identity *domain.Identity) string {
	if identity == nil {
		return ""
	}
	if identity.DisplayName != "" {
		return identity.DisplayName
	}
	return identity.Email
}
