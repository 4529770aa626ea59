package auth

import (
	"context"
	"time"

	"tenantgate.io/internal/audit"
	"tenantgate.io/internal/notify"
)

// UserStore persists users and their companion rows.
type UserStore interface {
	// UserFieldExists reports whether any user other than excludeUserID has value in field.
	UserFieldExists(ctx context.Context, field ConflictField, value, excludeUserID string) (bool, error)
	// ProfileFieldExists is the same check against secondary contacts in profiles.
	ProfileFieldExists(ctx context.Context, field ConflictField, value, excludeUserID string) (bool, error)

	CreateUser(ctx context.Context, user *User) error
	CreateProfile(ctx context.Context, profile *Profile) error
	CreateUserAuth(ctx context.Context, ua *UserAuth) error
	FindAccount(ctx context.Context, lookup Lookup) (*Account, error)
	ListUsers(ctx context.Context, tenantID string) ([]User, error)
	UpdateUser(ctx context.Context, userID string, upd UserUpdate) (User, error)
	DeleteUser(ctx context.Context, userID string) error
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	MarkVerified(ctx context.Context, userID string) error
}

// OTPStore manages the one-time code state in user_auth.
type OTPStore interface {
	// SetOTP overwrites any pending code.
	SetOTP(ctx context.Context, userID, code string, expiry time.Time) error
	// ConsumeOTP clears the pending code only if it still equals code.
	ConsumeOTP(ctx context.Context, userID, code string) (bool, error)
	RecordLogin(ctx context.Context, userID, ip string, at time.Time) error
}

type RoleStore interface {
	// FindRoleByName prefers a tenant-scoped role and falls back to the system role.
	FindRoleByName(ctx context.Context, tenantID, name string) (*Role, error)
	CreateRole(ctx context.Context, role *Role) error
	ListRoles(ctx context.Context, tenantID string) ([]Role, error)
	GetRole(ctx context.Context, roleID string) (Role, error)
	UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error)
	DeleteRole(ctx context.Context, roleID string) error
	RoleAssigned(ctx context.Context, roleID string) (bool, error)
	AssignRole(ctx context.Context, ur *UserRole) error
	RemoveRole(ctx context.Context, userID, roleID string) error
	UserRoles(ctx context.Context, userID string) ([]Role, error)
}

type TenantStore interface {
	CreateTenant(ctx context.Context, tenant *Tenant) error
	ListTenants(ctx context.Context) ([]Tenant, error)
	GetTenant(ctx context.Context, id string) (Tenant, error)
	UpdateTenant(ctx context.Context, id string, upd TenantUpdate) (Tenant, error)
	DeleteTenant(ctx context.Context, id string) error
	TenantInUse(ctx context.Context, id string) (bool, error)
}

// Store is everything the auth and admin services persist through.
type Store interface {
	UserStore
	OTPStore
	RoleStore
	TenantStore
	audit.Appender

	ListAuditLogs(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
	EnqueueNotification(ctx context.Context, msg *notify.Message) error

	// InTx runs fn inside one transaction; fn's Store is bound to it.
	InTx(ctx context.Context, fn func(Store) error) error
}

// Notifier is woken after a transaction that queued notifications commits.
type Notifier interface {
	Wake()
}
