// Package authtest provides an in-memory auth.Store for tests.
package authtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tenantgate.io/internal/audit"
	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/notify"
)

type state struct {
	tenants   map[string]auth.Tenant
	users     map[string]auth.User
	profiles  map[string]auth.Profile
	auths     map[string]auth.UserAuth
	roles     map[string]auth.Role
	userRoles []auth.UserRole
	audits    []audit.Entry
	outbox    []notify.Message
}

func (s *state) clone() *state {
	c := &state{
		tenants:   make(map[string]auth.Tenant, len(s.tenants)),
		users:     make(map[string]auth.User, len(s.users)),
		profiles:  make(map[string]auth.Profile, len(s.profiles)),
		auths:     make(map[string]auth.UserAuth, len(s.auths)),
		roles:     make(map[string]auth.Role, len(s.roles)),
		userRoles: append([]auth.UserRole(nil), s.userRoles...),
		audits:    append([]audit.Entry(nil), s.audits...),
		outbox:    append([]notify.Message(nil), s.outbox...),
	}
	for k, v := range s.tenants {
		c.tenants[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.profiles {
		c.profiles[k] = v
	}
	for k, v := range s.auths {
		c.auths[k] = v
	}
	for k, v := range s.roles {
		c.roles[k] = v
	}
	return c
}

// Store is a mutex-guarded in-memory auth.Store. InTx snapshots state and
// restores it when fn fails, so rollback semantics match a real transaction.
type Store struct {
	mu sync.Mutex
	st *state

	// FailOn, when set, is consulted before each mutating call by operation name.
	FailOn func(op string) error
}

var _ auth.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{st: &state{
		tenants:  map[string]auth.Tenant{},
		users:    map[string]auth.User{},
		profiles: map[string]auth.Profile{},
		auths:    map[string]auth.UserAuth{},
		roles:    map[string]auth.Role{},
	}}
}

// NewSeededStore returns a store holding the system roles.
func NewSeededStore() *Store {
	s := NewStore()
	now := time.Now().UTC()
	s.SeedRole(auth.Role{ID: "rol_system_super_admin", Name: auth.RoleSuperAdmin, CreatedAt: now, UpdatedAt: now})
	s.SeedRole(auth.Role{ID: "rol_system_authenticated", Name: auth.RoleAuthenticated, CreatedAt: now, UpdatedAt: now})
	return s
}

func (s *Store) fail(op string) error {
	if s.FailOn == nil {
		return nil
	}
	return s.FailOn(op)
}

func (s *Store) SeedRole(r auth.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.roles[r.ID] = r
}

func (s *Store) SeedTenant(t auth.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.tenants[t.ID] = t
}

// Auth returns the stored auth row for userID.
func (s *Store) Auth(userID string) (auth.UserAuth, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.auths[userID]
	return a, ok
}

// User returns the stored user row.
func (s *Store) User(userID string) (auth.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[userID]
	return u, ok
}

// SetOTPExpiry rewrites the pending code's expiry, e.g. to age it.
func (s *Store) SetOTPExpiry(userID string, expiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.st.auths[userID]
	a.OTPExpiry = &expiry
	s.st.auths[userID] = a
}

func (s *Store) Audits() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Entry(nil), s.st.audits...)
}

func (s *Store) Outbox() []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Message(nil), s.st.outbox...)
}

func (s *Store) InTx(ctx context.Context, fn func(auth.Store) error) error {
	s.mu.Lock()
	saved := s.st.clone()
	s.mu.Unlock()
	if err := fn(s); err != nil {
		s.mu.Lock()
		s.st = saved
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) UserFieldExists(_ context.Context, field auth.ConflictField, value, excludeUserID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.st.users {
		if u.ID == excludeUserID {
			continue
		}
		var have string
		switch field {
		case auth.FieldEmail:
			have = u.Email
		case auth.FieldPhone:
			have = u.Phone
		case auth.FieldUsername:
			have = u.Username
		default:
			return false, fmt.Errorf("%w: unknown field %s", auth.ErrInvalidInput, field)
		}
		if have != "" && strings.EqualFold(have, value) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ProfileFieldExists(_ context.Context, field auth.ConflictField, value, excludeUserID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.st.profiles {
		if p.UserID == excludeUserID {
			continue
		}
		var have string
		switch field {
		case auth.FieldSecondaryEmail:
			have = p.SecondaryEmail
		case auth.FieldSecondaryPhone:
			have = p.SecondaryPhone
		default:
			return false, fmt.Errorf("%w: unknown field %s", auth.ErrInvalidInput, field)
		}
		if have != "" && strings.EqualFold(have, value) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateUser(_ context.Context, u *auth.User) error {
	if err := s.fail("CreateUser"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.st.users {
		if strings.EqualFold(other.Username, u.Username) ||
			(u.Email != "" && strings.EqualFold(other.Email, u.Email)) ||
			(u.Phone != "" && other.Phone == u.Phone) {
			return fmt.Errorf("%w: user already exists", auth.ErrConflict)
		}
	}
	s.st.users[u.ID] = *u
	return nil
}

func (s *Store) CreateProfile(_ context.Context, p *auth.Profile) error {
	if err := s.fail("CreateProfile"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.profiles[p.UserID] = *p
	return nil
}

func (s *Store) CreateUserAuth(_ context.Context, a *auth.UserAuth) error {
	if err := s.fail("CreateUserAuth"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.auths[a.UserID] = *a
	return nil
}

func (s *Store) FindAccount(_ context.Context, l auth.Lookup) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *auth.User
	for _, u := range s.st.users {
		u := u
		switch {
		case l.ID != "":
			if u.ID == l.ID {
				found = &u
			}
		case l.Email != "":
			if strings.EqualFold(u.Email, l.Email) {
				found = &u
			}
		case l.Phone != "":
			if u.Phone == l.Phone {
				found = &u
			}
		}
		if found != nil {
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: user not found", auth.ErrNotFound)
	}
	acct := &auth.Account{User: *found, Roles: s.rolesOf(found.ID)}
	if p, ok := s.st.profiles[found.ID]; ok {
		acct.Profile = &p
	}
	if a, ok := s.st.auths[found.ID]; ok {
		acct.Auth = &a
	}
	return acct, nil
}

func (s *Store) rolesOf(userID string) []auth.Role {
	var out []auth.Role
	for _, ur := range s.st.userRoles {
		if ur.UserID != userID {
			continue
		}
		if r, ok := s.st.roles[ur.RoleID]; ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) ListUsers(_ context.Context, tenantID string) ([]auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.User
	for _, u := range s.st.users {
		if tenantID == "" || u.TenantID == tenantID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateUser(_ context.Context, id string, upd auth.UserUpdate) (auth.User, error) {
	if err := s.fail("UpdateUser"); err != nil {
		return auth.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[id]
	if !ok {
		return auth.User{}, fmt.Errorf("%w: user not found", auth.ErrNotFound)
	}
	if upd.Username != nil {
		u.Username = *upd.Username
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.Phone != nil {
		u.Phone = *upd.Phone
	}
	if upd.Status != nil {
		u.Status = *upd.Status
	}
	u.UpdatedAt = time.Now().UTC()
	s.st.users[id] = u
	return u, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.users[id]; !ok {
		return fmt.Errorf("%w: user not found", auth.ErrNotFound)
	}
	delete(s.st.users, id)
	delete(s.st.profiles, id)
	delete(s.st.auths, id)
	kept := s.st.userRoles[:0]
	for _, ur := range s.st.userRoles {
		if ur.UserID != id {
			kept = append(kept, ur)
		}
	}
	s.st.userRoles = kept
	return nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, id, hash string) error {
	if err := s.fail("UpdatePasswordHash"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[id]
	if !ok {
		return fmt.Errorf("%w: user not found", auth.ErrNotFound)
	}
	u.PasswordHash = hash
	s.st.users[id] = u
	return nil
}

func (s *Store) MarkVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[id]
	if !ok {
		return fmt.Errorf("%w: user not found", auth.ErrNotFound)
	}
	u.IsVerified = true
	s.st.users[id] = u
	return nil
}

func (s *Store) SetOTP(_ context.Context, userID, code string, expiry time.Time) error {
	if err := s.fail("SetOTP"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.auths[userID]
	if !ok {
		return fmt.Errorf("%w: user auth not found", auth.ErrNotFound)
	}
	a.OTP = code
	a.OTPExpiry = &expiry
	s.st.auths[userID] = a
	return nil
}

func (s *Store) ConsumeOTP(_ context.Context, userID, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.auths[userID]
	if !ok || a.OTP == "" || a.OTP != code {
		return false, nil
	}
	a.OTP = ""
	a.OTPExpiry = nil
	s.st.auths[userID] = a
	return true, nil
}

func (s *Store) RecordLogin(_ context.Context, userID, ip string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.auths[userID]
	if !ok {
		return fmt.Errorf("%w: user auth not found", auth.ErrNotFound)
	}
	a.LastLoginAt = &at
	a.LastLoginIP = ip
	s.st.auths[userID] = a
	return nil
}

func (s *Store) FindRoleByName(_ context.Context, tenantID, name string) (*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var system *auth.Role
	for _, r := range s.st.roles {
		r := r
		if r.Name != name {
			continue
		}
		if tenantID != "" && r.TenantID == tenantID {
			return &r, nil
		}
		if r.TenantID == "" {
			system = &r
		}
	}
	if system == nil {
		return nil, fmt.Errorf("%w: role not found", auth.ErrNotFound)
	}
	return system, nil
}

func (s *Store) CreateRole(_ context.Context, r *auth.Role) error {
	if err := s.fail("CreateRole"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.st.roles {
		if other.TenantID == r.TenantID && other.Name == r.Name {
			return fmt.Errorf("%w: role already exists", auth.ErrConflict)
		}
	}
	s.st.roles[r.ID] = *r
	return nil
}

func (s *Store) ListRoles(_ context.Context, tenantID string) ([]auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Role
	for _, r := range s.st.roles {
		if r.TenantID == "" || r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetRole(_ context.Context, id string) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.roles[id]
	if !ok {
		return auth.Role{}, fmt.Errorf("%w: role not found", auth.ErrNotFound)
	}
	return r, nil
}

func (s *Store) UpdateRole(_ context.Context, id string, upd auth.RoleUpdate) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.roles[id]
	if !ok {
		return auth.Role{}, fmt.Errorf("%w: role not found", auth.ErrNotFound)
	}
	if upd.Name != nil {
		r.Name = *upd.Name
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	r.UpdatedAt = time.Now().UTC()
	s.st.roles[id] = r
	return r, nil
}

func (s *Store) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.roles[id]; !ok {
		return fmt.Errorf("%w: role not found", auth.ErrNotFound)
	}
	delete(s.st.roles, id)
	return nil
}

func (s *Store) RoleAssigned(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ur := range s.st.userRoles {
		if ur.RoleID == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) AssignRole(_ context.Context, ur *auth.UserRole) error {
	if err := s.fail("AssignRole"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.st.userRoles {
		if existing.UserID == ur.UserID && existing.RoleID == ur.RoleID {
			return fmt.Errorf("%w: role already assigned", auth.ErrConflict)
		}
	}
	s.st.userRoles = append(s.st.userRoles, *ur)
	return nil
}

func (s *Store) RemoveRole(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ur := range s.st.userRoles {
		if ur.UserID == userID && ur.RoleID == roleID {
			s.st.userRoles = append(s.st.userRoles[:i], s.st.userRoles[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: role assignment not found", auth.ErrNotFound)
}

func (s *Store) UserRoles(_ context.Context, userID string) ([]auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rolesOf(userID), nil
}

func (s *Store) CreateTenant(_ context.Context, t *auth.Tenant) error {
	if err := s.fail("CreateTenant"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.tenants[t.ID]; ok {
		return fmt.Errorf("%w: tenant already exists", auth.ErrConflict)
	}
	s.st.tenants[t.ID] = *t
	return nil
}

func (s *Store) ListTenants(_ context.Context) ([]auth.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.Tenant, 0, len(s.st.tenants))
	for _, t := range s.st.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetTenant(_ context.Context, id string) (auth.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.tenants[id]
	if !ok {
		return auth.Tenant{}, fmt.Errorf("%w: tenant not found", auth.ErrNotFound)
	}
	return t, nil
}

func (s *Store) UpdateTenant(_ context.Context, id string, upd auth.TenantUpdate) (auth.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.tenants[id]
	if !ok {
		return auth.Tenant{}, fmt.Errorf("%w: tenant not found", auth.ErrNotFound)
	}
	if upd.Name != nil {
		t.Name = *upd.Name
	}
	if upd.OwnerName != nil {
		t.OwnerName = *upd.OwnerName
	}
	if upd.OwnerEmail != nil {
		t.OwnerEmail = *upd.OwnerEmail
	}
	if upd.OwnerPhone != nil {
		t.OwnerPhone = *upd.OwnerPhone
	}
	if upd.IsActive != nil {
		t.IsActive = *upd.IsActive
	}
	t.UpdatedAt = time.Now().UTC()
	s.st.tenants[id] = t
	return t, nil
}

func (s *Store) DeleteTenant(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.tenants[id]; !ok {
		return fmt.Errorf("%w: tenant not found", auth.ErrNotFound)
	}
	delete(s.st.tenants, id)
	for rid, r := range s.st.roles {
		if r.TenantID == id {
			delete(s.st.roles, rid)
		}
	}
	return nil
}

func (s *Store) TenantInUse(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.st.users {
		if u.TenantID == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) AppendAudit(_ context.Context, e *audit.Entry) error {
	if err := s.fail("AppendAudit"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.audits = append(s.st.audits, *e)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, f audit.Filter) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Entry
	for i := len(s.st.audits) - 1; i >= 0; i-- {
		e := s.st.audits[i]
		if f.TenantID != "" && e.TenantID != f.TenantID {
			continue
		}
		if f.TableName != "" && e.TableName != f.TableName {
			continue
		}
		if f.RecordID != "" && e.RecordID != f.RecordID {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) EnqueueNotification(_ context.Context, msg *notify.Message) error {
	if err := s.fail("EnqueueNotification"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.outbox = append(s.st.outbox, *msg)
	return nil
}

// Notifier counts wake-ups.
type Notifier struct {
	n atomic.Int32
}

func (n *Notifier) Wake() { n.n.Add(1) }

func (n *Notifier) Wakes() int { return int(n.n.Load()) }
