package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantgate.io/internal/audit"
	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/auth/authtest"
)

var superAdmin = auth.Principal{UserID: "usr_root", Roles: []string{auth.RoleSuperAdmin}}

func newAdmin(t *testing.T) (*auth.AdminService, *authtest.Store) {
	t.Helper()
	store := authtest.NewSeededStore()
	svc, err := auth.NewAdminService(store, auth.WithAdminClock(func() time.Time {
		return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	}))
	require.NoError(t, err)
	return svc, store
}

func TestCreateTenantProvisionsDefaultRoles(t *testing.T) {
	svc, store := newAdmin(t)
	ctx := audit.WithActor(context.Background(), superAdmin.UserID)

	tenant, err := svc.CreateTenant(ctx, superAdmin, auth.TenantInput{Name: " Acme ", OwnerEmail: "Owner@Acme.io"})
	require.NoError(t, err)
	assert.Equal(t, "Acme", tenant.Name)
	assert.Equal(t, "owner@acme.io", tenant.OwnerEmail)
	assert.True(t, tenant.IsActive)

	roles, err := svc.ListRoles(ctx, superAdmin, tenant.ID)
	require.NoError(t, err)
	var scoped []string
	for _, r := range roles {
		if r.TenantID == tenant.ID {
			scoped = append(scoped, r.Name)
		}
	}
	assert.ElementsMatch(t, []string{auth.RoleAdmin, auth.RoleAuthenticated}, scoped)

	audits := store.Audits()
	require.Len(t, audits, 3)
	for _, e := range audits {
		assert.Equal(t, tenant.ID, e.TenantID)
		assert.Equal(t, superAdmin.UserID, e.ChangedBy)
	}
}

func TestTenantOperationsRequireSuperAdmin(t *testing.T) {
	svc, _ := newAdmin(t)
	admin := auth.Principal{UserID: "usr_a", TenantID: "tnt_a", Roles: []string{auth.RoleAdmin}}
	_, err := svc.CreateTenant(context.Background(), admin, auth.TenantInput{Name: "x"})
	require.ErrorIs(t, err, auth.ErrForbidden)
	_, err = svc.ListTenants(context.Background(), admin)
	require.ErrorIs(t, err, auth.ErrForbidden)
}

func TestDeleteTenantBlockedWhileUsersBelong(t *testing.T) {
	svc, store := newAdmin(t)
	ctx := context.Background()
	tenant, err := svc.CreateTenant(ctx, superAdmin, auth.TenantInput{Name: "Acme"})
	require.NoError(t, err)

	require.NoError(t, store.CreateUser(ctx, &auth.User{ID: "usr_1", TenantID: tenant.ID, Username: "u1", Status: auth.UserStatusActive}))
	err = svc.DeleteTenant(ctx, superAdmin, tenant.ID)
	require.ErrorIs(t, err, auth.ErrConflict)

	require.NoError(t, store.DeleteUser(ctx, "usr_1"))
	require.NoError(t, svc.DeleteTenant(ctx, superAdmin, tenant.ID))
	_, err = svc.GetTenant(ctx, superAdmin, tenant.ID)
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestCreateRoleRules(t *testing.T) {
	svc, _ := newAdmin(t)
	ctx := context.Background()
	admin := auth.Principal{UserID: "usr_a", TenantID: "tnt_a", Roles: []string{auth.RoleAdmin}}

	_, err := svc.CreateRole(ctx, admin, "", "Super-Admin", "")
	require.ErrorIs(t, err, auth.ErrConflict)
	_, err = svc.CreateRole(ctx, admin, "", "authenticated", "")
	require.ErrorIs(t, err, auth.ErrConflict)

	role, err := svc.CreateRole(ctx, admin, "tnt_other", "Editor", "edits")
	require.NoError(t, err)
	assert.Equal(t, "editor", role.Name)
	assert.Equal(t, "tnt_a", role.TenantID)

	_, err = svc.CreateRole(ctx, admin, "", "editor", "")
	require.ErrorIs(t, err, auth.ErrConflict)
}

func TestDeleteRoleBlockedWhileAssigned(t *testing.T) {
	svc, store := newAdmin(t)
	ctx := context.Background()
	admin := auth.Principal{UserID: "usr_a", TenantID: "tnt_a", Roles: []string{auth.RoleAdmin}}
	require.NoError(t, store.CreateUser(ctx, &auth.User{ID: "usr_1", TenantID: "tnt_a", Username: "u1", Status: auth.UserStatusActive}))

	role, err := svc.CreateRole(ctx, admin, "", "editor", "")
	require.NoError(t, err)
	_, err = svc.AssignRole(ctx, admin, "usr_1", role.ID)
	require.NoError(t, err)

	_, err = svc.AssignRole(ctx, admin, "usr_1", role.ID)
	require.ErrorIs(t, err, auth.ErrConflict)

	require.ErrorIs(t, svc.DeleteRole(ctx, admin, role.ID), auth.ErrConflict)
	require.NoError(t, svc.RemoveRole(ctx, admin, "usr_1", role.ID))
	require.NoError(t, svc.DeleteRole(ctx, admin, role.ID))
}

func TestSystemRolesAreReadOnlyForTenantAdmins(t *testing.T) {
	svc, _ := newAdmin(t)
	admin := auth.Principal{UserID: "usr_a", TenantID: "tnt_a", Roles: []string{auth.RoleAdmin}}
	err := svc.DeleteRole(context.Background(), admin, "rol_system_authenticated")
	require.ErrorIs(t, err, auth.ErrForbidden)
}

func TestAssignRoleFromOtherTenantRejected(t *testing.T) {
	svc, store := newAdmin(t)
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, &auth.User{ID: "usr_1", TenantID: "tnt_a", Username: "u1"}))
	store.SeedRole(auth.Role{ID: "rol_b", TenantID: "tnt_b", Name: "editor"})
	_, err := svc.AssignRole(ctx, superAdmin, "usr_1", "rol_b")
	require.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestUsersAreTenantScoped(t *testing.T) {
	svc, store := newAdmin(t)
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, &auth.User{ID: "usr_1", TenantID: "tnt_a", Username: "u1", Email: "u1@a.io"}))
	require.NoError(t, store.CreateUser(ctx, &auth.User{ID: "usr_2", TenantID: "tnt_b", Username: "u2", Email: "u2@b.io"}))
	admin := auth.Principal{UserID: "usr_1", TenantID: "tnt_a", Roles: []string{auth.RoleAdmin}}

	users, err := svc.ListUsers(ctx, admin)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "usr_1", users[0].ID)

	_, err = svc.GetUser(ctx, admin, "usr_2")
	require.ErrorIs(t, err, auth.ErrNotFound)

	all, err := svc.ListUsers(ctx, superAdmin)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpdateUserChecksConflictsExcludingSelf(t *testing.T) {
	svc, store := newAdmin(t)
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, &auth.User{ID: "usr_1", TenantID: "tnt_a", Username: "u1", Email: "u1@a.io"}))
	require.NoError(t, store.CreateUser(ctx, &auth.User{ID: "usr_2", TenantID: "tnt_a", Username: "u2", Email: "u2@a.io"}))

	same := "U1@a.io"
	updated, err := svc.UpdateUser(ctx, superAdmin, "usr_1", auth.UserUpdate{Email: &same})
	require.NoError(t, err)
	assert.Equal(t, "u1@a.io", updated.Email)

	taken := "u2@a.io"
	_, err = svc.UpdateUser(ctx, superAdmin, "usr_1", auth.UserUpdate{Email: &taken})
	require.ErrorIs(t, err, auth.ErrConflict)

	bad := "frozen"
	_, err = svc.UpdateUser(ctx, superAdmin, "usr_1", auth.UserUpdate{Status: &bad})
	require.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestMeAndAuditListing(t *testing.T) {
	svc, store := newAdmin(t)
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, &auth.User{ID: "usr_1", TenantID: "tnt_a", Username: "u1"}))
	me, err := svc.Me(ctx, auth.Principal{UserID: "usr_1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", me.Username)

	_, err = svc.Me(ctx, auth.Principal{})
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	require.NoError(t, store.AppendAudit(ctx, &audit.Entry{ID: "aud_1", TenantID: "tnt_a", TableName: "users", RecordID: "usr_1", Action: audit.ActionCreate}))
	require.NoError(t, store.AppendAudit(ctx, &audit.Entry{ID: "aud_2", TenantID: "tnt_b", TableName: "users", RecordID: "usr_2", Action: audit.ActionCreate}))
	admin := auth.Principal{UserID: "usr_1", TenantID: "tnt_a", Roles: []string{auth.RoleAdmin}}
	entries, err := svc.ListAuditLogs(ctx, admin, audit.Filter{TenantID: "tnt_b"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "aud_1", entries[0].ID)
}
