package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tenantgate.io/internal/audit"
	"tenantgate.io/internal/ids"
	"tenantgate.io/internal/tenancy"
)

// AdminService manages tenants, roles and users on behalf of an authenticated principal.
type AdminService struct {
	store Store
	now   func() time.Time
}

type AdminOption func(*AdminService)

// WithAdminClock overrides the time source.
func WithAdminClock(fn func() time.Time) AdminOption {
	return func(s *AdminService) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewAdminService(store Store, opts ...AdminOption) (*AdminService, error) {
	if store == nil {
		return nil, errors.New("admin store is required")
	}
	s := &AdminService{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type TenantInput struct {
	Name       string
	OwnerName  string
	OwnerEmail string
	OwnerPhone string
}

func requireSuperAdmin(p Principal) error {
	if !p.IsSuperAdmin() {
		return fmt.Errorf("%w: super-admin role required", ErrForbidden)
	}
	return nil
}

func requireID(id, name string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidInput, name)
	}
	return id, nil
}

// sameTenant reports whether p may act on a record owned by tenantID.
func sameTenant(p Principal, tenantID string) bool {
	return p.IsSuperAdmin() || tenantID == p.TenantID
}

// CreateTenant inserts the tenant and provisions its default roles while the
// session is scoped to the new tenant.
func (s *AdminService) CreateTenant(ctx context.Context, p Principal, in TenantInput) (Tenant, error) {
	if err := requireSuperAdmin(p); err != nil {
		return Tenant{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Tenant{}, fmt.Errorf("%w: tenant name is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	tenant := Tenant{
		ID:         ids.New(ids.Tenant),
		Name:       in.Name,
		OwnerName:  strings.TrimSpace(in.OwnerName),
		OwnerEmail: normalizeEmail(in.OwnerEmail),
		OwnerPhone: normalizePhone(in.OwnerPhone),
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	provision := func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx Store) error {
			if err := tx.CreateTenant(ctx, &tenant); err != nil {
				return err
			}
			if _, err := audit.Record(ctx, tx, audit.Change{
				TenantID:  tenant.ID,
				TableName: "tenants",
				RecordID:  tenant.ID,
				Action:    audit.ActionCreate,
				New:       tenant,
			}); err != nil {
				return err
			}
			for _, def := range TenantDefaultRoles {
				role := def
				role.ID = ids.New(ids.Role)
				role.TenantID = tenant.ID
				role.CreatedAt = now
				role.UpdatedAt = now
				if err := tx.CreateRole(ctx, &role); err != nil {
					return err
				}
				if _, err := audit.Record(ctx, tx, audit.Change{
					TenantID:  tenant.ID,
					TableName: "roles",
					RecordID:  role.ID,
					Action:    audit.ActionCreate,
					New:       role,
				}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	var err error
	if sess, ok := tenancy.SessionFromContext(ctx); ok {
		err = sess.Scoped(ctx, tenant.ID, func(ctx context.Context) error {
			return provision(tenancy.WithTenantID(ctx, tenant.ID))
		})
	} else {
		err = provision(ctx)
	}
	if err != nil {
		return Tenant{}, err
	}
	return tenant, nil
}

func (s *AdminService) ListTenants(ctx context.Context, p Principal) ([]Tenant, error) {
	if err := requireSuperAdmin(p); err != nil {
		return nil, err
	}
	return s.store.ListTenants(ctx)
}

func (s *AdminService) GetTenant(ctx context.Context, p Principal, id string) (Tenant, error) {
	id, err := requireID(id, "tenant_id")
	if err != nil {
		return Tenant{}, err
	}
	if !sameTenant(p, id) {
		return Tenant{}, fmt.Errorf("%w: tenant not found", ErrNotFound)
	}
	return s.store.GetTenant(ctx, id)
}

func (s *AdminService) UpdateTenant(ctx context.Context, p Principal, id string, upd TenantUpdate) (Tenant, error) {
	if err := requireSuperAdmin(p); err != nil {
		return Tenant{}, err
	}
	id, err := requireID(id, "tenant_id")
	if err != nil {
		return Tenant{}, err
	}
	if upd.Name != nil {
		trimmed := strings.TrimSpace(*upd.Name)
		if trimmed == "" {
			return Tenant{}, fmt.Errorf("%w: tenant name is required", ErrInvalidInput)
		}
		upd.Name = &trimmed
	}
	if upd.OwnerEmail != nil {
		v := normalizeEmail(*upd.OwnerEmail)
		upd.OwnerEmail = &v
	}
	var updated Tenant
	err = s.store.InTx(ctx, func(tx Store) error {
		old, err := tx.GetTenant(ctx, id)
		if err != nil {
			return err
		}
		if updated, err = tx.UpdateTenant(ctx, id, upd); err != nil {
			return err
		}
		_, err = audit.Record(ctx, tx, audit.Change{
			TenantID:  id,
			TableName: "tenants",
			RecordID:  id,
			Action:    audit.ActionUpdate,
			Old:       old,
			New:       updated,
		})
		return err
	})
	return updated, err
}

// DeleteTenant refuses while users still belong to the tenant; its roles go with it.
func (s *AdminService) DeleteTenant(ctx context.Context, p Principal, id string) error {
	if err := requireSuperAdmin(p); err != nil {
		return err
	}
	id, err := requireID(id, "tenant_id")
	if err != nil {
		return err
	}
	return s.store.InTx(ctx, func(tx Store) error {
		old, err := tx.GetTenant(ctx, id)
		if err != nil {
			return err
		}
		inUse, err := tx.TenantInUse(ctx, id)
		if err != nil {
			return err
		}
		if inUse {
			return fmt.Errorf("%w: tenant still has users", ErrConflict)
		}
		if err := tx.DeleteTenant(ctx, id); err != nil {
			return err
		}
		_, err = audit.Record(ctx, tx, audit.Change{
			TableName: "tenants",
			RecordID:  id,
			Action:    audit.ActionDelete,
			Old:       old,
		})
		return err
	})
}

// TenantUsers lists the users belonging to tenantID.
func (s *AdminService) TenantUsers(ctx context.Context, p Principal, tenantID string) ([]User, error) {
	tenantID, err := requireID(tenantID, "tenant_id")
	if err != nil {
		return nil, err
	}
	if !sameTenant(p, tenantID) {
		return nil, fmt.Errorf("%w: tenant not found", ErrNotFound)
	}
	if _, err := s.store.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx, tenantID)
}

// CreateRole creates a role in the caller's tenant. A super-admin may target any
// tenant, or the system scope with an empty tenantID.
func (s *AdminService) CreateRole(ctx context.Context, p Principal, tenantID, name, description string) (Role, error) {
	name = normalizeRole(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if IsReservedRole(name) {
		return Role{}, fmt.Errorf("%w: role name %s is reserved", ErrConflict, name)
	}
	tenantID = strings.TrimSpace(tenantID)
	if !p.IsSuperAdmin() {
		tenantID = p.TenantID
		if tenantID == "" {
			return Role{}, fmt.Errorf("%w: caller has no tenant", ErrForbidden)
		}
	}
	existing, err := s.store.FindRoleByName(ctx, tenantID, name)
	if err == nil && existing.TenantID == tenantID {
		return Role{}, fmt.Errorf("%w: role %s already exists", ErrConflict, name)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Role{}, err
	}
	now := s.now().UTC()
	role := Role{
		ID:          ids.New(ids.Role),
		TenantID:    tenantID,
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.store.InTx(ctx, func(tx Store) error {
		if err := tx.CreateRole(ctx, &role); err != nil {
			return err
		}
		_, err := audit.Record(ctx, tx, audit.Change{
			TenantID:  tenantID,
			TableName: "roles",
			RecordID:  role.ID,
			Action:    audit.ActionCreate,
			New:       role,
		})
		return err
	})
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// ListRoles returns the tenant's roles together with system roles.
func (s *AdminService) ListRoles(ctx context.Context, p Principal, tenantID string) ([]Role, error) {
	tenantID = strings.TrimSpace(tenantID)
	if !p.IsSuperAdmin() || tenantID == "" {
		tenantID = p.TenantID
	}
	return s.store.ListRoles(ctx, tenantID)
}

func (s *AdminService) GetRole(ctx context.Context, p Principal, id string) (Role, error) {
	id, err := requireID(id, "role_id")
	if err != nil {
		return Role{}, err
	}
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if role.TenantID != "" && !sameTenant(p, role.TenantID) {
		return Role{}, fmt.Errorf("%w: role not found", ErrNotFound)
	}
	return role, nil
}

// writableRole loads a role the principal may modify. System roles are
// read-only except for super-admins.
func (s *AdminService) writableRole(ctx context.Context, tx Store, p Principal, id string) (Role, error) {
	role, err := tx.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if role.TenantID == "" && !p.IsSuperAdmin() {
		return Role{}, fmt.Errorf("%w: system roles are read-only", ErrForbidden)
	}
	if !sameTenant(p, role.TenantID) {
		return Role{}, fmt.Errorf("%w: role not found", ErrNotFound)
	}
	return role, nil
}

func (s *AdminService) UpdateRole(ctx context.Context, p Principal, id string, upd RoleUpdate) (Role, error) {
	id, err := requireID(id, "role_id")
	if err != nil {
		return Role{}, err
	}
	if upd.Name != nil {
		name := normalizeRole(*upd.Name)
		if name == "" {
			return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		if IsReservedRole(name) {
			return Role{}, fmt.Errorf("%w: role name %s is reserved", ErrConflict, name)
		}
		upd.Name = &name
	}
	var updated Role
	err = s.store.InTx(ctx, func(tx Store) error {
		old, err := s.writableRole(ctx, tx, p, id)
		if err != nil {
			return err
		}
		if IsReservedRole(old.Name) && upd.Name != nil {
			return fmt.Errorf("%w: reserved roles cannot be renamed", ErrConflict)
		}
		if updated, err = tx.UpdateRole(ctx, id, upd); err != nil {
			return err
		}
		_, err = audit.Record(ctx, tx, audit.Change{
			TenantID:  old.TenantID,
			TableName: "roles",
			RecordID:  id,
			Action:    audit.ActionUpdate,
			Old:       old,
			New:       updated,
		})
		return err
	})
	return updated, err
}

// DeleteRole refuses while the role is assigned to any user.
func (s *AdminService) DeleteRole(ctx context.Context, p Principal, id string) error {
	id, err := requireID(id, "role_id")
	if err != nil {
		return err
	}
	return s.store.InTx(ctx, func(tx Store) error {
		old, err := s.writableRole(ctx, tx, p, id)
		if err != nil {
			return err
		}
		if IsReservedRole(old.Name) {
			return fmt.Errorf("%w: reserved roles cannot be deleted", ErrConflict)
		}
		assigned, err := tx.RoleAssigned(ctx, id)
		if err != nil {
			return err
		}
		if assigned {
			return fmt.Errorf("%w: role is assigned to users", ErrConflict)
		}
		if err := tx.DeleteRole(ctx, id); err != nil {
			return err
		}
		_, err = audit.Record(ctx, tx, audit.Change{
			TenantID:  old.TenantID,
			TableName: "roles",
			RecordID:  id,
			Action:    audit.ActionDelete,
			Old:       old,
		})
		return err
	})
}

// ListUsers returns users in the caller's tenant; super-admins see all users.
func (s *AdminService) ListUsers(ctx context.Context, p Principal) ([]User, error) {
	if p.IsSuperAdmin() {
		return s.store.ListUsers(ctx, "")
	}
	if p.TenantID == "" {
		return nil, fmt.Errorf("%w: caller has no tenant", ErrForbidden)
	}
	return s.store.ListUsers(ctx, p.TenantID)
}

func (s *AdminService) account(ctx context.Context, store Store, p Principal, id string) (*Account, error) {
	acct, err := store.FindAccount(ctx, Lookup{ID: id})
	if err != nil {
		return nil, err
	}
	if !sameTenant(p, acct.User.TenantID) {
		return nil, fmt.Errorf("%w: user not found", ErrNotFound)
	}
	return acct, nil
}

func (s *AdminService) GetUser(ctx context.Context, p Principal, id string) (UserView, error) {
	id, err := requireID(id, "user_id")
	if err != nil {
		return UserView{}, err
	}
	acct, err := s.account(ctx, s.store, p, id)
	if err != nil {
		return UserView{}, err
	}
	return acct.View(), nil
}

// UpdateUser applies upd after re-checking uniqueness against every other user.
func (s *AdminService) UpdateUser(ctx context.Context, p Principal, id string, upd UserUpdate) (User, error) {
	id, err := requireID(id, "user_id")
	if err != nil {
		return User{}, err
	}
	q := ConflictQuery{ExcludeUserID: id}
	if upd.Username != nil {
		v := strings.TrimSpace(*upd.Username)
		if v == "" {
			return User{}, fmt.Errorf("%w: username cannot be empty", ErrInvalidInput)
		}
		upd.Username, q.Username = &v, v
	}
	if upd.Email != nil {
		v := normalizeEmail(*upd.Email)
		if v != "" && !strings.Contains(v, "@") {
			return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		upd.Email, q.Email = &v, v
	}
	if upd.Phone != nil {
		v := normalizePhone(*upd.Phone)
		if err := checkPhone(v, "primary_phone"); err != nil {
			return User{}, err
		}
		upd.Phone, q.Phone = &v, v
	}
	if upd.Status != nil {
		v := strings.ToLower(strings.TrimSpace(*upd.Status))
		if v != UserStatusActive && v != UserStatusDisabled {
			return User{}, fmt.Errorf("%w: unsupported status %s", ErrInvalidInput, v)
		}
		upd.Status = &v
	}
	if _, err := s.account(ctx, s.store, p, id); err != nil {
		return User{}, err
	}
	if err := CheckConflicts(ctx, s.store, q); err != nil {
		return User{}, err
	}
	var updated User
	err = s.store.InTx(ctx, func(tx Store) error {
		old, err := s.account(ctx, tx, p, id)
		if err != nil {
			return err
		}
		if updated, err = tx.UpdateUser(ctx, id, upd); err != nil {
			return err
		}
		_, err = audit.Record(ctx, tx, audit.Change{
			TenantID:  old.User.TenantID,
			TableName: "users",
			RecordID:  id,
			Action:    audit.ActionUpdate,
			Old:       old.User,
			New:       updated,
		})
		return err
	})
	return updated, err
}

func (s *AdminService) DeleteUser(ctx context.Context, p Principal, id string) error {
	id, err := requireID(id, "user_id")
	if err != nil {
		return err
	}
	if id == p.UserID {
		return fmt.Errorf("%w: cannot delete yourself", ErrConflict)
	}
	return s.store.InTx(ctx, func(tx Store) error {
		old, err := s.account(ctx, tx, p, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteUser(ctx, id); err != nil {
			return err
		}
		_, err = audit.Record(ctx, tx, audit.Change{
			TenantID:  old.User.TenantID,
			TableName: "users",
			RecordID:  id,
			Action:    audit.ActionDelete,
			Old:       old.View(),
		})
		return err
	})
}

// AssignRole links a role that is global or belongs to the user's tenant.
func (s *AdminService) AssignRole(ctx context.Context, p Principal, userID, roleID string) (UserRole, error) {
	userID, err := requireID(userID, "user_id")
	if err != nil {
		return UserRole{}, err
	}
	roleID, err = requireID(roleID, "role_id")
	if err != nil {
		return UserRole{}, err
	}
	var ur UserRole
	err = s.store.InTx(ctx, func(tx Store) error {
		acct, err := s.account(ctx, tx, p, userID)
		if err != nil {
			return err
		}
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role.TenantID != "" && role.TenantID != acct.User.TenantID {
			return fmt.Errorf("%w: role belongs to another tenant", ErrInvalidInput)
		}
		if role.Name == RoleSuperAdmin && !p.IsSuperAdmin() {
			return fmt.Errorf("%w: only super-admins grant super-admin", ErrForbidden)
		}
		for _, r := range acct.Roles {
			if r.ID == role.ID {
				return fmt.Errorf("%w: role already assigned", ErrConflict)
			}
		}
		ur = UserRole{
			ID:        ids.New(ids.UserRole),
			UserID:    userID,
			RoleID:    roleID,
			TenantID:  acct.User.TenantID,
			CreatedAt: s.now().UTC(),
		}
		if err := tx.AssignRole(ctx, &ur); err != nil {
			return err
		}
		_, err = audit.Record(ctx, tx, audit.Change{
			TenantID:  ur.TenantID,
			TableName: "user_roles",
			RecordID:  ur.ID,
			Action:    audit.ActionCreate,
			New:       ur,
		})
		return err
	})
	return ur, err
}

func (s *AdminService) RemoveRole(ctx context.Context, p Principal, userID, roleID string) error {
	userID, err := requireID(userID, "user_id")
	if err != nil {
		return err
	}
	roleID, err = requireID(roleID, "role_id")
	if err != nil {
		return err
	}
	return s.store.InTx(ctx, func(tx Store) error {
		acct, err := s.account(ctx, tx, p, userID)
		if err != nil {
			return err
		}
		if err := tx.RemoveRole(ctx, userID, roleID); err != nil {
			return err
		}
		_, err = audit.Record(ctx, tx, audit.Change{
			TenantID:  acct.User.TenantID,
			TableName: "user_roles",
			RecordID:  userID + ":" + roleID,
			Action:    audit.ActionDelete,
			Old:       map[string]string{"user_id": userID, "role_id": roleID},
		})
		return err
	})
}

func (s *AdminService) UserRoles(ctx context.Context, p Principal, userID string) ([]Role, error) {
	userID, err := requireID(userID, "user_id")
	if err != nil {
		return nil, err
	}
	acct, err := s.account(ctx, s.store, p, userID)
	if err != nil {
		return nil, err
	}
	return acct.Roles, nil
}

// Me returns the caller's own record.
func (s *AdminService) Me(ctx context.Context, p Principal) (UserView, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return UserView{}, ErrUnauthorized
	}
	acct, err := s.store.FindAccount(ctx, Lookup{ID: p.UserID})
	if err != nil {
		return UserView{}, err
	}
	return acct.View(), nil
}

// ListAuditLogs is tenant scoped unless the caller is a super-admin.
func (s *AdminService) ListAuditLogs(ctx context.Context, p Principal, f audit.Filter) ([]audit.Entry, error) {
	if !p.IsSuperAdmin() {
		if p.TenantID == "" {
			return nil, fmt.Errorf("%w: caller has no tenant", ErrForbidden)
		}
		f.TenantID = p.TenantID
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return s.store.ListAuditLogs(ctx, f)
}
