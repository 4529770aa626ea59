package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tenantgate.io/internal/auth"
)

// Conflict fields map to fixed columns; values are never interpolated.
var (
	userFieldColumns = map[auth.ConflictField]string{
		auth.FieldEmail:    "email",
		auth.FieldPhone:    "phone",
		auth.FieldUsername: "username",
	}
	profileFieldColumns = map[auth.ConflictField]string{
		auth.FieldSecondaryEmail: "secondary_email",
		auth.FieldSecondaryPhone: "secondary_phone",
	}
)

func (s *Store) fieldExists(ctx context.Context, table, column, ownerColumn, value, excludeUserID string) (bool, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`select exists(select 1 from %s where lower(%s) = lower($1) and ($2 = '' or %s <> $2))`,
		table, column, ownerColumn)
	var exists bool
	if err := q.QueryRowContext(ctx, query, value, excludeUserID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) UserFieldExists(ctx context.Context, field auth.ConflictField, value, excludeUserID string) (bool, error) {
	column, ok := userFieldColumns[field]
	if !ok {
		return false, fmt.Errorf("%w: unknown field %s", auth.ErrInvalidInput, field)
	}
	return s.fieldExists(ctx, "users", column, "id", value, excludeUserID)
}

func (s *Store) ProfileFieldExists(ctx context.Context, field auth.ConflictField, value, excludeUserID string) (bool, error) {
	column, ok := profileFieldColumns[field]
	if !ok {
		return false, fmt.Errorf("%w: unknown field %s", auth.ErrInvalidInput, field)
	}
	return s.fieldExists(ctx, "user_profiles", column, "user_id", value, excludeUserID)
}

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		insert into users (id, tenant_id, username, email, phone, password_hash, is_verified, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, u.ID, nullIfEmpty(u.TenantID), u.Username, nullIfEmpty(u.Email), nullIfEmpty(u.Phone),
		u.PasswordHash, u.IsVerified, u.Status, u.CreatedAt, u.UpdatedAt)
	return mapError(err, "user")
}

func (s *Store) CreateProfile(ctx context.Context, p *auth.Profile) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		insert into user_profiles (id, user_id, tenant_id, full_name, first_name, last_name,
			secondary_email, secondary_phone, address, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.UserID, nullIfEmpty(p.TenantID), p.FullName, p.FirstName, p.LastName,
		nullIfEmpty(p.SecondaryEmail), nullIfEmpty(p.SecondaryPhone), p.Address, p.CreatedAt, p.UpdatedAt)
	return mapError(err, "profile")
}

func (s *Store) CreateUserAuth(ctx context.Context, a *auth.UserAuth) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		insert into user_auth (id, user_id, tenant_id, otp, otp_expiry, last_login_at, last_login_ip, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.UserID, nullIfEmpty(a.TenantID), nullIfEmpty(a.OTP), nullTime(a.OTPExpiry),
		nullTime(a.LastLoginAt), nullIfEmpty(a.LastLoginIP), a.CreatedAt, a.UpdatedAt)
	return mapError(err, "user auth")
}

const accountSelect = `
	select u.id, u.tenant_id, u.username, u.email, u.phone, u.password_hash, u.is_verified, u.status,
		u.created_at, u.updated_at,
		p.id, p.full_name, p.first_name, p.last_name, p.secondary_email, p.secondary_phone, p.address,
		p.created_at, p.updated_at,
		a.id, a.otp, a.otp_expiry, a.last_login_at, a.last_login_ip, a.created_at, a.updated_at
	from users u
	left join user_profiles p on p.user_id = u.id
	left join user_auth a on a.user_id = u.id
`

// FindAccount loads the user with profile, auth row and roles.
func (s *Store) FindAccount(ctx context.Context, l auth.Lookup) (*auth.Account, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var where, arg string
	switch {
	case l.ID != "":
		where, arg = "u.id = $1", l.ID
	case l.Email != "":
		where, arg = "lower(u.email) = lower($1)", l.Email
	case l.Phone != "":
		where, arg = "u.phone = $1", l.Phone
	default:
		return nil, fmt.Errorf("%w: lookup key is required", auth.ErrInvalidInput)
	}

	var (
		acct                                            auth.Account
		tenantID, email, phone                          sql.NullString
		pID, pFull, pFirst, pLast, pSecEmail, pSecPhone sql.NullString
		pAddr                                           sql.NullString
		pCreated, pUpdated                              sql.NullTime
		aID, aOTP, aIP                                  sql.NullString
		aExpiry, aLogin, aCreated, aUpdated             sql.NullTime
	)
	err = q.QueryRowContext(ctx, accountSelect+" where "+where, arg).Scan(
		&acct.User.ID, &tenantID, &acct.User.Username, &email, &phone, &acct.User.PasswordHash,
		&acct.User.IsVerified, &acct.User.Status, &acct.User.CreatedAt, &acct.User.UpdatedAt,
		&pID, &pFull, &pFirst, &pLast, &pSecEmail, &pSecPhone, &pAddr, &pCreated, &pUpdated,
		&aID, &aOTP, &aExpiry, &aLogin, &aIP, &aCreated, &aUpdated,
	)
	if err != nil {
		return nil, mapError(err, "user")
	}
	acct.User.TenantID = tenantID.String
	acct.User.Email = email.String
	acct.User.Phone = phone.String
	if pID.Valid {
		acct.Profile = &auth.Profile{
			ID:             pID.String,
			UserID:         acct.User.ID,
			TenantID:       acct.User.TenantID,
			FullName:       pFull.String,
			FirstName:      pFirst.String,
			LastName:       pLast.String,
			SecondaryEmail: pSecEmail.String,
			SecondaryPhone: pSecPhone.String,
			Address:        pAddr.String,
			CreatedAt:      pCreated.Time,
			UpdatedAt:      pUpdated.Time,
		}
	}
	if aID.Valid {
		acct.Auth = &auth.UserAuth{
			ID:          aID.String,
			UserID:      acct.User.ID,
			TenantID:    acct.User.TenantID,
			OTP:         aOTP.String,
			OTPExpiry:   timePtr(aExpiry),
			LastLoginAt: timePtr(aLogin),
			LastLoginIP: aIP.String,
			CreatedAt:   aCreated.Time,
			UpdatedAt:   aUpdated.Time,
		}
	}
	if acct.Roles, err = s.UserRoles(ctx, acct.User.ID); err != nil {
		return nil, err
	}
	return &acct, nil
}

const userColumns = `id, tenant_id, username, email, phone, is_verified, status, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (auth.User, error) {
	var (
		u                      auth.User
		tenantID, email, phone sql.NullString
	)
	if err := row.Scan(&u.ID, &tenantID, &u.Username, &email, &phone, &u.IsVerified, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return auth.User{}, err
	}
	u.TenantID, u.Email, u.Phone = tenantID.String, email.String, phone.String
	return u, nil
}

// ListUsers returns all users visible to the session, or one tenant's users.
func (s *Store) ListUsers(ctx context.Context, tenantID string) ([]auth.User, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `
		select `+userColumns+`
		from users
		where $1 = '' or tenant_id = $1
		order by created_at, id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd auth.UserUpdate) (auth.User, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return auth.User{}, err
	}
	var set setClause
	if upd.Username != nil {
		set.add("username", *upd.Username)
	}
	if upd.Email != nil {
		set.add("email", nullIfEmpty(*upd.Email))
	}
	if upd.Phone != nil {
		set.add("phone", nullIfEmpty(*upd.Phone))
	}
	if upd.Status != nil {
		set.add("status", *upd.Status)
	}
	if !set.empty() {
		query, args := set.build("users", id)
		res, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return auth.User{}, mapError(err, "user")
		}
		if err := requireAffected(res, "user"); err != nil {
			return auth.User{}, err
		}
	}
	u, err := scanUser(q.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if err != nil {
		return auth.User{}, mapError(err, "user")
	}
	return u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return mapError(err, "user")
	}
	return requireAffected(res, "user")
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `update users set password_hash = $2, updated_at = now() where id = $1`, id, hash)
	if err != nil {
		return err
	}
	return requireAffected(res, "user")
}

func (s *Store) MarkVerified(ctx context.Context, id string) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `update users set is_verified = true, updated_at = now() where id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "user")
}

func (s *Store) SetOTP(ctx context.Context, userID, code string, expiry time.Time) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		update user_auth set otp = $2, otp_expiry = $3, updated_at = now()
		where user_id = $1
	`, userID, code, expiry)
	if err != nil {
		return err
	}
	return requireAffected(res, "user auth")
}

// ConsumeOTP clears the code only while it still matches, so two concurrent
// verifications cannot both succeed.
func (s *Store) ConsumeOTP(ctx context.Context, userID, code string) (bool, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	res, err := q.ExecContext(ctx, `
		update user_auth set otp = null, otp_expiry = null, updated_at = now()
		where user_id = $1 and otp = $2
	`, userID, code)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff == 1, nil
}

func (s *Store) RecordLogin(ctx context.Context, userID, ip string, at time.Time) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		update user_auth set last_login_at = $2, last_login_ip = $3, updated_at = now()
		where user_id = $1
	`, userID, at, nullIfEmpty(ip))
	if err != nil {
		return err
	}
	return requireAffected(res, "user auth")
}
