package domain

// Route is a navigation target inside the dashboard.
type Route string

// Routes the session and guard layers redirect to.
const (
	RouteLanding   Route = "/"
	RouteSignIn    Route = "/signin"
	RouteSignUp    Route = "/signup"
	RouteUserArea  Route = "/dashboard"
	RouteAdminArea Route = "/admin"
)

// LandingFor returns the first route shown after a successful sign-in.
func LandingFor(role Role) Route {
	if role == RoleAdmin {
		return RouteAdminArea
	}
	return RouteUserArea
}

func (r Route) String() string {
	return string(r)
}
