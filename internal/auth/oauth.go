package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tenantgate.io/internal/audit"
	"tenantgate.io/internal/ids"
	"tenantgate.io/internal/obs"
)

// ExternalProfile is the identity asserted by an OAuth provider.
type ExternalProfile struct {
	Provider       string
	ProviderUserID string
	Email          string
	EmailVerified  bool
	FullName       string
	FirstName      string
	LastName       string
}

// OAuthCallback signs in the user owning the asserted email, creating the account
// on first login. The provider assertion replaces the OTP step.
func (s *Service) OAuthCallback(ctx context.Context, p ExternalProfile, ip string) (*AuthResult, error) {
	email := normalizeEmail(p.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: provider did not return an email address", ErrInvalidInput)
	}
	// The email is the account key, so only a provider-verified address may claim it.
	if !p.EmailVerified {
		obs.AuthEvent("oauth", "denied")
		return nil, fmt.Errorf("%w: provider has not verified the email address", ErrUnauthorized)
	}
	if ip == "" {
		ip = audit.ClientIPFromContext(ctx)
	}
	now := s.now().UTC()

	acct, err := s.store.FindAccount(ctx, Lookup{Email: email})
	switch {
	case err == nil:
		if acct.User.Status != UserStatusActive {
			obs.AuthEvent("oauth", "denied")
			return nil, errBadCredentials
		}
		if err := s.store.RecordLogin(ctx, acct.User.ID, ip, now); err != nil {
			return nil, err
		}
	case errors.Is(err, ErrNotFound):
		acct, err = s.createFederatedAccount(ctx, p, email, ip)
		if err != nil {
			obs.AuthEvent("oauth", "error")
			return nil, err
		}
	default:
		return nil, err
	}

	token, exp, err := s.issueToken(acct)
	if err != nil {
		return nil, err
	}
	obs.AuthEvent("oauth", "ok")
	return &AuthResult{
		Message:   "Signed in with " + p.Provider,
		Token:     token,
		ExpiresAt: exp,
		User:      acct.View(),
	}, nil
}

func (s *Service) createFederatedAccount(ctx context.Context, p ExternalProfile, email, ip string) (*Account, error) {
	username := derivedUsername(email)
	if err := CheckConflicts(ctx, s.store, ConflictQuery{Email: email, Username: username}); err != nil {
		return nil, err
	}
	hash, err := RandomPasswordHash()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	acct := &Account{
		User: User{
			ID:           ids.New(ids.User),
			Username:     username,
			Email:        email,
			PasswordHash: hash,
			IsVerified:   true,
			Status:       UserStatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}
	full := strings.TrimSpace(p.FullName)
	if full == "" {
		full = strings.TrimSpace(p.FirstName + " " + p.LastName)
	}
	acct.Profile = &Profile{
		ID:        ids.New(ids.Profile),
		UserID:    acct.User.ID,
		FullName:  full,
		FirstName: strings.TrimSpace(p.FirstName),
		LastName:  strings.TrimSpace(p.LastName),
		CreatedAt: now,
		UpdatedAt: now,
	}
	acct.Auth = &UserAuth{
		ID:          ids.New(ids.UserAuth),
		UserID:      acct.User.ID,
		LastLoginAt: &now,
		LastLoginIP: ip,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

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
		_, err = audit.Record(ctx, tx, audit.Change{
			TableName: "users",
			RecordID:  acct.User.ID,
			Action:    audit.ActionCreate,
			New:       acct.View(),
			ChangedBy: acct.User.ID,
			IP:        ip,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// derivedUsername is the local part of the email address.
func derivedUsername(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
