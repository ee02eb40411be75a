package session

import (
	"slices"

	"github.com/ecovibe/ecovibe/internal/models"
)

// Outcome is what a route guard tells the router to do.
type Outcome int

const (
	// Render the protected page.
	Render Outcome = iota
	// Defer rendering until hydration completes. Never a denial.
	Defer
	// Redirect to Decision.Route.
	Redirect
)

func (o Outcome) String() string {
	switch o {
	case Render:
		return "render"
	case Defer:
		return "defer"
	case Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Decision is the result of Guard.
type Decision struct {
	Outcome Outcome
	Route   Route
}

// Requirement describes who may see a page.
type Requirement struct {
	// Roles allowed on the page. Empty allows every role.
	Roles []models.Role
	// Active requires account_status "active".
	Active bool
}

// Preset requirements for the dashboard areas.
var (
	Dashboard      = Requirement{Active: true}
	AdminOnly      = Requirement{Roles: []models.Role{models.RoleAdmin, models.RoleSuperAdmin}, Active: true}
	SuperAdminOnly = Requirement{Roles: []models.Role{models.RoleSuperAdmin}, Active: true}
)

// Guard decides whether a page protected by req may render for snap.
func Guard(snap Snapshot, req Requirement) Decision {
	if snap.Hydrating {
		return Decision{Outcome: Defer}
	}

	if snap.User == nil {
		return Decision{Outcome: Redirect, Route: RouteLogin}
	}

	if len(req.Roles) > 0 && !slices.Contains(req.Roles, snap.User.Role) {
		return Decision{Outcome: Redirect, Route: RouteUnauthorized}
	}

	if req.Active {
		switch snap.User.AccountStatus {
		case models.AccountStatusActive:
		case models.AccountStatusInactive:
			return Decision{Outcome: Redirect, Route: RouteVerify}
		default:
			return Decision{Outcome: Redirect, Route: RouteUnauthorized}
		}
	}

	return Decision{Outcome: Render}
}
