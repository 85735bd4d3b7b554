// Package usertest builds a Guard over a seeded user table for handler tests.
package usertest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"feedshop-rewards/services/user"
)

const (
	ServiceID = "svc-order"
	AdminID   = "admin-1"
)

// NewGuard seeds a SERVICE caller, an ADMIN caller and the given users into db, and returns a Guard
// backed by the built-in access control policy.
func NewGuard(t *testing.T, db *gorm.DB, users ...*user.User) *user.Guard {
	t.Helper()

	require.NoError(t, db.AutoMigrate(&user.User{}))
	store := user.NewStore(user.StoreParams{DB: db})

	seed := append([]*user.User{
		{ID: ServiceID, LoginID: ServiceID, Role: user.RoleService},
		{ID: AdminID, LoginID: AdminID, Role: user.RoleAdmin},
	}, users...)
	for _, u := range seed {
		if u.Role == "" {
			u.Role = user.RoleUser
		}
		if u.LoginID == "" {
			u.LoginID = u.ID
		}
		require.NoError(t, store.Save(context.Background(), u))
	}

	authz, err := user.NewAuthorizer(nil)
	require.NoError(t, err)

	return user.NewGuard(store, authz)
}
