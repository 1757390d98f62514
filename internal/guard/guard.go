// Package guard decides whether a protected view may be rendered for the
// current session.
package guard

import "github.com/bissquit/deepvisas/internal/domain"

// Decision is the outcome of evaluating a Policy.
type Decision struct {
	Allowed  bool
	Redirect domain.Route
}

// Allow is the decision that lets the view render.
var Allow = Decision{Allowed: true}

// RedirectTo builds a decision that sends the visitor to route.
func RedirectTo(route domain.Route) Decision {
	return Decision{Redirect: route}
}

// Policy describes who may see a view.
type Policy struct {
	role domain.Role
}

// Authenticated admits any signed-in identity.
func Authenticated() Policy {
	return Policy{}
}

// RequireRole admits identities holding role. Admins satisfy user.
func RequireRole(role domain.Role) Policy {
	return Policy{role: role}
}

// Role returns the required role, or "" if any identity is admitted.
func (p Policy) Role() domain.Role {
	return p.role
}

// Evaluate applies the policy to the current identity (nil when anonymous).
// It has no side effects and must be called on every navigation.
func (p Policy) Evaluate(current *domain.Identity) Decision {
	if current == nil {
		return RedirectTo(domain.RouteSignIn)
	}
	if p.role != "" && !current.Role.HasPermission(p.role) {
		return RedirectTo(domain.RouteLanding)
	}
	return Allow
}
