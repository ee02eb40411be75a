package session

import (
	"github.com/ecovibe/ecovibe/internal/models"
	"github.com/rs/zerolog/log"
)

// Route is a navigation target in the dashboard.
type Route string

const (
	RouteLogin        Route = "/login"
	RouteDashboard    Route = "/dashboard"
	RouteVerify       Route = "/verify"
	RouteUnauthorized Route = "/unauthorized"
)

// Navigator moves the user to a route.
type Navigator interface {
	Navigate(route Route)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(Route)

func (f NavigatorFunc) Navigate(route Route) { f(route) }

// LandingRoute maps a freshly logged-in user to where they should go.
// Unknown account statuses get the most restrictive outcome.
func LandingRoute(user *models.User) Route {
	if user == nil {
		return RouteLogin
	}

	switch user.AccountStatus {
	case models.AccountStatusActive:
		return RouteDashboard
	case models.AccountStatusInactive:
		return RouteVerify
	case models.AccountStatusSuspended:
		return RouteUnauthorized
	default:
		log.Warn().
			Str("account_status", string(user.AccountStatus)).
			Str("user_id", user.ID).
			Msg("unexpected account status from backend, treating as unauthorized")
		return RouteUnauthorized
	}
}
