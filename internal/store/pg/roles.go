package pg

import (
	"context"
	"database/sql"

	"tenantgate.io/internal/auth"
)

const roleColumns = `id, tenant_id, name, description, created_at, updated_at`

func scanRole(row interface{ Scan(...any) error }) (auth.Role, error) {
	var (
		r        auth.Role
		tenantID sql.NullString
		desc     sql.NullString
	)
	if err := row.Scan(&r.ID, &tenantID, &r.Name, &desc, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return auth.Role{}, err
	}
	r.TenantID, r.Description = tenantID.String, desc.String
	return r, nil
}

func (s *Store) queryRoles(ctx context.Context, query string, args ...any) ([]auth.Role, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// FindRoleByName prefers the tenant's own role over the system role of the same name.
func (s *Store) FindRoleByName(ctx context.Context, tenantID, name string) (*auth.Role, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	r, err := scanRole(q.QueryRowContext(ctx, `
		select `+roleColumns+`
		from roles
		where name = $2 and (tenant_id is null or tenant_id = $1)
		order by tenant_id nulls last
		limit 1
	`, tenantID, name))
	if err != nil {
		return nil, mapError(err, "role")
	}
	return &r, nil
}

func (s *Store) CreateRole(ctx context.Context, r *auth.Role) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		insert into roles (id, tenant_id, name, description, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, r.ID, nullIfEmpty(r.TenantID), r.Name, nullIfEmpty(r.Description), r.CreatedAt, r.UpdatedAt)
	return mapError(err, "role")
}

// ListRoles returns system roles plus the tenant's roles.
func (s *Store) ListRoles(ctx context.Context, tenantID string) ([]auth.Role, error) {
	return s.queryRoles(ctx, `
		select `+roleColumns+`
		from roles
		where tenant_id is null or tenant_id = $1
		order by name, tenant_id nulls first
	`, tenantID)
}

func (s *Store) GetRole(ctx context.Context, id string) (auth.Role, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return auth.Role{}, err
	}
	r, err := scanRole(q.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id))
	if err != nil {
		return auth.Role{}, mapError(err, "role")
	}
	return r, nil
}

func (s *Store) UpdateRole(ctx context.Context, id string, upd auth.RoleUpdate) (auth.Role, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return auth.Role{}, err
	}
	var set setClause
	if upd.Name != nil {
		set.add("name", *upd.Name)
	}
	if upd.Description != nil {
		set.add("description", nullIfEmpty(*upd.Description))
	}
	if !set.empty() {
		query, args := set.build("roles", id)
		res, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return auth.Role{}, mapError(err, "role")
		}
		if err := requireAffected(res, "role"); err != nil {
			return auth.Role{}, err
		}
	}
	return s.GetRole(ctx, id)
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return mapError(err, "role")
	}
	return requireAffected(res, "role")
}

func (s *Store) RoleAssigned(ctx context.Context, id string) (bool, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	var assigned bool
	err = q.QueryRowContext(ctx, `select exists(select 1 from user_roles where role_id = $1)`, id).Scan(&assigned)
	return assigned, err
}

func (s *Store) AssignRole(ctx context.Context, ur *auth.UserRole) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		insert into user_roles (id, user_id, role_id, tenant_id, created_at)
		values ($1, $2, $3, $4, $5)
	`, ur.ID, ur.UserID, ur.RoleID, nullIfEmpty(ur.TenantID), ur.CreatedAt)
	return mapError(err, "role assignment")
}

func (s *Store) RemoveRole(ctx context.Context, userID, roleID string) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `delete from user_roles where user_id = $1 and role_id = $2`, userID, roleID)
	if err != nil {
		return err
	}
	return requireAffected(res, "role assignment")
}

func (s *Store) UserRoles(ctx context.Context, userID string) ([]auth.Role, error) {
	return s.queryRoles(ctx, `
		select r.id, r.tenant_id, r.name, r.description, r.created_at, r.updated_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name
	`, userID)
}
