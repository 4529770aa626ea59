package auth

import (
	"time"
)

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

type Tenant struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	OwnerName  string    `json:"owner_name,omitempty"`
	OwnerEmail string    `json:"owner_email,omitempty"`
	OwnerPhone string    `json:"owner_phone,omitempty"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// User is a global identity. Username, email and phone are unique across all tenants.
type User struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id,omitempty"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"primary_phone,omitempty"`
	PasswordHash string    `json:"-"`
	IsVerified   bool      `json:"is_verified"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Profile struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	TenantID       string    `json:"tenant_id,omitempty"`
	FullName       string    `json:"full_name,omitempty"`
	FirstName      string    `json:"first_name,omitempty"`
	LastName       string    `json:"last_name,omitempty"`
	SecondaryEmail string    `json:"secondary_email,omitempty"`
	SecondaryPhone string    `json:"secondary_phone,omitempty"`
	Address        string    `json:"address,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UserAuth holds the pending one-time code and last login for a user.
type UserAuth struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	TenantID    string     `json:"tenant_id,omitempty"`
	OTP         string     `json:"-"`
	OTPExpiry   *time.Time `json:"-"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP string     `json:"last_login_ip,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Role is tenant-scoped, or system-wide when TenantID is empty.
type Role struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type UserRole struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	TenantID  string    `json:"tenant_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Account is a user loaded together with its profile, auth row and roles.
type Account struct {
	User    User
	Profile *Profile
	Auth    *UserAuth
	Roles   []Role
}

// RoleNames returns the names of the account's roles.
func (a *Account) RoleNames() []string {
	names := make([]string, 0, len(a.Roles))
	for _, r := range a.Roles {
		names = append(names, r.Name)
	}
	return dedupeRoles(names)
}

// UserView is the sanitized user representation returned to clients.
type UserView struct {
	User
	Profile *Profile `json:"profile,omitempty"`
	Roles   []string `json:"roles"`
}

// View sanitizes the account for responses.
func (a *Account) View() UserView {
	roles := a.RoleNames()
	if roles == nil {
		roles = []string{}
	}
	return UserView{User: a.User, Profile: a.Profile, Roles: roles}
}

// Lookup selects a single user by id, email or phone (first non-empty wins).
type Lookup struct {
	ID    string
	Email string
	Phone string
}

type TenantUpdate struct {
	Name       *string
	OwnerName  *string
	OwnerEmail *string
	OwnerPhone *string
	IsActive   *bool
}

type UserUpdate struct {
	Username *string
	Email    *string
	Phone    *string
	Status   *string
}

type RoleUpdate struct {
	Name        *string
	Description *string
}
