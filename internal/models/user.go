package models

// Role is the authorization tier of a user.
type Role string

const (
	RoleClient     Role = "client"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// AccountStatus is the lifecycle state of a user record, independent of Role.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusInactive  AccountStatus = "inactive"
	AccountStatusSuspended AccountStatus = "suspended"
)

// Known returns true if the status is one the backend is documented to send.
func (s AccountStatus) Known() bool {
	switch s {
	case AccountStatusActive, AccountStatusInactive, AccountStatusSuspended:
		return true
	default:
		return false
	}
}

// User is the identity record returned by the backend and persisted
// alongside the session tokens.
type User struct {
	ID            string        `json:"id,omitempty"`
	Name          string        `json:"name"`
	Email         string        `json:"email,omitempty"`
	Role          Role          `json:"role"`
	AccountStatus AccountStatus `json:"account_status"`
	Avatar        string        `json:"avatar,omitempty"`
}

// IsClient returns true for the client role.
func (u *User) IsClient() bool {
	return u != nil && u.Role == RoleClient
}

// IsAdmin returns true for the admin role only, not super_admin.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// IsSuperAdmin returns true for the super_admin role.
func (u *User) IsSuperAdmin() bool {
	return u != nil && u.Role == RoleSuperAdmin
}

// IsAtLeastAdmin returns true for admin and super_admin.
func (u *User) IsAtLeastAdmin() bool {
	return u.IsAdmin() || u.IsSuperAdmin()
}

func (u *User) IsActive() bool {
	return u != nil && u.AccountStatus == AccountStatusActive
}

func (u *User) IsInactive() bool {
	return u != nil && u.AccountStatus == AccountStatusInactive
}

func (u *User) IsSuspended() bool {
	return u != nil && u.AccountStatus == AccountStatusSuspended
}

// Clone returns a copy so callers can't mutate session-owned state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	clone := *u
	return &clone
}
