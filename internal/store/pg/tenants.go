package pg

import (
	"context"
	"database/sql"

	"tenantgate.io/internal/auth"
)

const tenantColumns = `id, name, owner_name, owner_email, owner_phone, is_active, created_at, updated_at`

func scanTenant(row interface{ Scan(...any) error }) (auth.Tenant, error) {
	var (
		t                               auth.Tenant
		ownerName, ownerEmail, ownerTel sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Name, &ownerName, &ownerEmail, &ownerTel, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return auth.Tenant{}, err
	}
	t.OwnerName, t.OwnerEmail, t.OwnerPhone = ownerName.String, ownerEmail.String, ownerTel.String
	return t, nil
}

func (s *Store) CreateTenant(ctx context.Context, t *auth.Tenant) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		insert into tenants (id, name, owner_name, owner_email, owner_phone, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.Name, nullIfEmpty(t.OwnerName), nullIfEmpty(t.OwnerEmail), nullIfEmpty(t.OwnerPhone),
		t.IsActive, t.CreatedAt, t.UpdatedAt)
	return mapError(err, "tenant")
}

func (s *Store) ListTenants(ctx context.Context) ([]auth.Tenant, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `select `+tenantColumns+` from tenants order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) GetTenant(ctx context.Context, id string) (auth.Tenant, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return auth.Tenant{}, err
	}
	t, err := scanTenant(q.QueryRowContext(ctx, `select `+tenantColumns+` from tenants where id = $1`, id))
	if err != nil {
		return auth.Tenant{}, mapError(err, "tenant")
	}
	return t, nil
}

func (s *Store) UpdateTenant(ctx context.Context, id string, upd auth.TenantUpdate) (auth.Tenant, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return auth.Tenant{}, err
	}
	var set setClause
	if upd.Name != nil {
		set.add("name", *upd.Name)
	}
	if upd.OwnerName != nil {
		set.add("owner_name", nullIfEmpty(*upd.OwnerName))
	}
	if upd.OwnerEmail != nil {
		set.add("owner_email", nullIfEmpty(*upd.OwnerEmail))
	}
	if upd.OwnerPhone != nil {
		set.add("owner_phone", nullIfEmpty(*upd.OwnerPhone))
	}
	if upd.IsActive != nil {
		set.add("is_active", *upd.IsActive)
	}
	if !set.empty() {
		query, args := set.build("tenants", id)
		res, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return auth.Tenant{}, mapError(err, "tenant")
		}
		if err := requireAffected(res, "tenant"); err != nil {
			return auth.Tenant{}, err
		}
	}
	return s.GetTenant(ctx, id)
}

// DeleteTenant removes the tenant; its roles cascade.
func (s *Store) DeleteTenant(ctx context.Context, id string) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `delete from tenants where id = $1`, id)
	if err != nil {
		return mapError(err, "tenant")
	}
	return requireAffected(res, "tenant")
}

func (s *Store) TenantInUse(ctx context.Context, id string) (bool, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	var inUse bool
	err = q.QueryRowContext(ctx, `select exists(select 1 from users where tenant_id = $1)`, id).Scan(&inUse)
	return inUse, err
}
