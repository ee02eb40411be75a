package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUser_RoleFlags(t *testing.T) {
	tests := []struct {
		role         Role
		client       bool
		admin        bool
		superAdmin   bool
		atLeastAdmin bool
	}{
		{RoleClient, true, false, false, false},
		{RoleAdmin, false, true, false, true},
		{RoleSuperAdmin, false, false, true, true},
		{Role("auditor"), false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			u := &User{Name: "Wanjiru", Role: tt.role, AccountStatus: AccountStatusActive}
			assert.Equal(t, tt.client, u.IsClient())
			assert.Equal(t, tt.admin, u.IsAdmin())
			assert.Equal(t, tt.superAdmin, u.IsSuperAdmin())
			assert.Equal(t, tt.atLeastAdmin, u.IsAtLeastAdmin())
		})
	}
}

func TestUser_StatusFlags(t *testing.T) {
	u := &User{Role: RoleClient, AccountStatus: AccountStatusInactive}
	assert.True(t, u.IsInactive())
	assert.False(t, u.IsActive())
	assert.False(t, u.IsSuspended())

	u.AccountStatus = AccountStatusSuspended
	assert.True(t, u.IsSuspended())
	assert.False(t, u.IsInactive())
}

func TestUser_FlagsFollowRoleChanges(t *testing.T) {
	u := &User{Role: RoleClient, AccountStatus: AccountStatusActive}
	assert.False(t, u.IsAdmin())

	u.Role = RoleAdmin
	assert.True(t, u.IsAdmin())
	assert.True(t, u.IsAtLeastAdmin())
	assert.False(t, u.IsClient())
}

func TestUser_NilIsAnonymous(t *testing.T) {
	var u *User
	assert.False(t, u.IsClient())
	assert.False(t, u.IsAtLeastAdmin())
	assert.False(t, u.IsActive())
	assert.Nil(t, u.Clone())
}

func TestAccountStatus_Known(t *testing.T) {
	assert.True(t, AccountStatusActive.Known())
	assert.True(t, AccountStatusInactive.Known())
	assert.True(t, AccountStatusSuspended.Known())
	assert.False(t, AccountStatus("pending").Known())
	assert.False(t, AccountStatus("").Known())
}
