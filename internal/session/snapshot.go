package session

import "github.com/ecovibe/ecovibe/internal/models"

// State is the coarse lifecycle position of a session.
type State int

const (
	StateUninitialized State = iota
	StateHydrating
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHydrating:
		return "hydrating"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only copy of the session taken under the manager's
// lock. Route guards and API consumers read snapshots, never the manager's
// fields.
type Snapshot struct {
	User         *models.User
	AccessToken  string
	RefreshToken string
	Hydrating    bool
	State        State
}

// IsAuthenticated returns true when a user is present.
func (s Snapshot) IsAuthenticated() bool {
	return s.User != nil
}

// Role and status flags are derived from User on every call.

func (s Snapshot) IsClient() bool       { return s.User.IsClient() }
func (s Snapshot) IsAdmin() bool        { return s.User.IsAdmin() }
func (s Snapshot) IsSuperAdmin() bool   { return s.User.IsSuperAdmin() }
func (s Snapshot) IsAtLeastAdmin() bool { return s.User.IsAtLeastAdmin() }
func (s Snapshot) IsActive() bool       { return s.User.IsActive() }
func (s Snapshot) IsInactive() bool     { return s.User.IsInactive() }
func (s Snapshot) IsSuspended() bool    { return s.User.IsSuspended() }
