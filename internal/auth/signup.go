package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tenantgate.io/internal/audit"
	"tenantgate.io/internal/ids"
	"tenantgate.io/internal/obs"
)

// ProfileInput is the optional nested profile supplied at sign-up.
type ProfileInput struct {
	FullName       string
	FirstName      string
	LastName       string
	SecondaryEmail string
	SecondaryPhone string
	Address        string
}

type SignUpInput struct {
	Username string
	Email    string
	Phone    string
	Password string
	TenantID string
	Profile  *ProfileInput
}

type SignUpResult struct {
	Message string   `json:"message"`
	User    UserView `json:"data"`
}

func (in *SignUpInput) normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
	in.Phone = normalizePhone(in.Phone)
	in.TenantID = strings.TrimSpace(in.TenantID)
	if in.Profile != nil {
		in.Profile.FullName = strings.TrimSpace(in.Profile.FullName)
		in.Profile.FirstName = strings.TrimSpace(in.Profile.FirstName)
		in.Profile.LastName = strings.TrimSpace(in.Profile.LastName)
		in.Profile.SecondaryEmail = normalizeEmail(in.Profile.SecondaryEmail)
		in.Profile.SecondaryPhone = normalizePhone(in.Profile.SecondaryPhone)
		in.Profile.Address = strings.TrimSpace(in.Profile.Address)
	}
}

func (in SignUpInput) validate() error {
	if in.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if in.Password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if in.Email == "" && in.Phone == "" {
		return fmt.Errorf("%w: email or phone is required", ErrInvalidInput)
	}
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if err := checkPhone(in.Phone, "primary_phone"); err != nil {
		return err
	}
	if in.Profile != nil {
		return checkPhone(in.Profile.SecondaryPhone, "secondary_phone")
	}
	return nil
}

// SignUp registers a user, issues a verification code and queues it for delivery.
// The user, profile, auth row, default role, queued notification and audit entry
// are written in one transaction.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*SignUpResult, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := CheckConflicts(ctx, s.store, ConflictQuery{Email: in.Email, Phone: in.Phone, Username: in.Username}); err != nil {
		obs.AuthEvent("signup", "conflict")
		return nil, err
	}
	if err := checkProfileConflicts(ctx, s.store, in.Profile, ""); err != nil {
		obs.AuthEvent("signup", "conflict")
		return nil, err
	}
	if in.TenantID != "" {
		tenant, err := s.store.GetTenant(ctx, in.TenantID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: tenant not found", ErrNotFound)
			}
			return nil, err
		}
		if !tenant.IsActive {
			return nil, fmt.Errorf("%w: tenant is not active", ErrInvalidInput)
		}
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	code, err := s.otpGen()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	expiry := now.Add(s.otpTTL)

	acct := &Account{
		User: User{
			ID:           ids.New(ids.User),
			TenantID:     in.TenantID,
			Username:     in.Username,
			Email:        in.Email,
			Phone:        in.Phone,
			PasswordHash: hash,
			Status:       UserStatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}
	acct.Profile = &Profile{
		ID:        ids.New(ids.Profile),
		UserID:    acct.User.ID,
		TenantID:  in.TenantID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if p := in.Profile; p != nil {
		acct.Profile.FullName = p.FullName
		acct.Profile.FirstName = p.FirstName
		acct.Profile.LastName = p.LastName
		acct.Profile.SecondaryEmail = p.SecondaryEmail
		acct.Profile.SecondaryPhone = p.SecondaryPhone
		acct.Profile.Address = p.Address
	}
	acct.Auth = &UserAuth{
		ID:        ids.New(ids.UserAuth),
		UserID:    acct.User.ID,
		TenantID:  in.TenantID,
		OTP:       code,
		OTPExpiry: &expiry,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ch, to := Contact{Email: in.Email, Phone: in.Phone}.address()

	err = s.store.InTx(ctx, func(tx Store) error {
		if err := tx.CreateUser(ctx, &acct.User); err != nil {
			return err
		}
		if err := tx.CreateProfile(ctx, acct.Profile); err != nil {
			return err
		}
		if err := tx.CreateUserAuth(ctx, acct.Auth); err != nil {
			return err
		}
		role, err := s.assignDefaultRole(ctx, tx, &acct.User, now)
		if err != nil {
			return err
		}
		if role != nil {
			acct.Roles = append(acct.Roles, *role)
		}
		if err := tx.EnqueueNotification(ctx, otpMessage(purposeSignUp, in.TenantID, ch, to, code, s.otpTTL)); err != nil {
			return err
		}
		_, err = audit.Record(ctx, tx, audit.Change{
			TenantID:  in.TenantID,
			TableName: "users",
			RecordID:  acct.User.ID,
			Action:    audit.ActionCreate,
			New:       acct.View(),
		})
		return err
	})
	if err != nil {
		obs.AuthEvent("signup", "error")
		return nil, err
	}
	obs.AuthEvent("signup", "ok")
	obs.OTPIssued(string(purposeSignUp))
	s.wake()

	return &SignUpResult{
		Message: purposeSignUp.message(MaskContact(to)),
		User:    acct.View(),
	}, nil
}

// assignDefaultRole links the tenant (or system) "authenticated" role. A missing
// role is logged and skipped.
func (s *Service) assignDefaultRole(ctx context.Context, tx Store, user *User, now time.Time) (*Role, error) {
	role, err := tx.FindRoleByName(ctx, user.TenantID, RoleAuthenticated)
	if errors.Is(err, ErrNotFound) {
		logger(ctx).Warn("default role missing; user created without roles",
			zap.String("user_id", user.ID), zap.String("tenant_id", user.TenantID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := tx.AssignRole(ctx, &UserRole{
		ID:        ids.New(ids.UserRole),
		UserID:    user.ID,
		RoleID:    role.ID,
		TenantID:  user.TenantID,
		CreatedAt: now.UTC(),
	}); err != nil {
		return nil, err
	}
	return role, nil
}
