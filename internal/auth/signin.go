package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tenantgate.io/internal/audit"
	"tenantgate.io/internal/obs"
)

// errBadCredentials is returned for unknown users and wrong passwords alike.
var errBadCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)

type SignInInput struct {
	Email    string
	Phone    string
	Password string
}

type SignInResult struct {
	Message     string `json:"message"`
	Requires2FA bool   `json:"requires_2fa"`
}

// MessageResult carries caller-facing wording only.
type MessageResult struct {
	Message string `json:"message"`
}

type VerifyOTPInput struct {
	Email string
	Phone string
	OTP   string
	IP    string
}

type ResetPasswordInput struct {
	Email       string
	Phone       string
	OTP         string
	NewPassword string
}

// SignIn checks the password and sends a second-factor code to the contact used.
func (s *Service) SignIn(ctx context.Context, in SignInInput) (*SignInResult, error) {
	c := Contact{Email: in.Email, Phone: in.Phone}.normalized()
	if err := c.require(true); err != nil {
		return nil, err
	}
	if in.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	acct, err := s.store.FindAccount(ctx, c.lookup())
	if errors.Is(err, ErrNotFound) {
		obs.AuthEvent("signin", "denied")
		return nil, errBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := VerifyPassword(acct.User.PasswordHash, in.Password); err != nil {
		obs.AuthEvent("signin", "denied")
		return nil, errBadCredentials
	}
	if acct.User.Status != UserStatusActive {
		logger(ctx).Info("sign-in refused for inactive user", zap.String("user_id", acct.User.ID))
		obs.AuthEvent("signin", "denied")
		return nil, errBadCredentials
	}

	ch, to := c.address()
	if err := s.issueOTP(ctx, acct, purposeSignIn, ch, to); err != nil {
		return nil, err
	}
	obs.AuthEvent("signin", "ok")
	return &SignInResult{
		Message:     purposeSignIn.message(MaskContact(to)),
		Requires2FA: true,
	}, nil
}

// VerifyOTP consumes a pending code and returns a signed token.
func (s *Service) VerifyOTP(ctx context.Context, in VerifyOTPInput) (*AuthResult, error) {
	c := Contact{Email: in.Email, Phone: in.Phone}.normalized()
	if err := c.require(false); err != nil {
		return nil, err
	}
	acct, err := s.store.FindAccount(ctx, c.lookup())
	if errors.Is(err, ErrNotFound) {
		obs.AuthEvent("verify_otp", "denied")
		return nil, fmt.Errorf("%w: invalid verification code", ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := checkOTP(acct.Auth, in.OTP, now); err != nil {
		obs.AuthEvent("verify_otp", "denied")
		return nil, err
	}
	if acct.User.Status != UserStatusActive {
		obs.AuthEvent("verify_otp", "denied")
		return nil, errBadCredentials
	}
	ip := in.IP
	if ip == "" {
		ip = audit.ClientIPFromContext(ctx)
	}

	err = s.store.InTx(ctx, func(tx Store) error {
		ok, err := tx.ConsumeOTP(ctx, acct.User.ID, acct.Auth.OTP)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: invalid verification code", ErrUnauthorized)
		}
		if !acct.User.IsVerified {
			if err := tx.MarkVerified(ctx, acct.User.ID); err != nil {
				return err
			}
		}
		return tx.RecordLogin(ctx, acct.User.ID, ip, now)
	})
	if err != nil {
		obs.AuthEvent("verify_otp", "error")
		return nil, err
	}
	acct.User.IsVerified = true
	acct.Auth.OTP = ""
	acct.Auth.OTPExpiry = nil
	acct.Auth.LastLoginAt = &now
	acct.Auth.LastLoginIP = ip

	token, exp, err := s.issueToken(acct)
	if err != nil {
		return nil, err
	}
	obs.AuthEvent("verify_otp", "ok")
	_, to := c.address()
	return &AuthResult{
		Message:   "Verified " + MaskContact(to),
		Token:     token,
		ExpiresAt: exp,
		User:      acct.View(),
	}, nil
}

// ResendOTP replaces the pending code and sends it again.
func (s *Service) ResendOTP(ctx context.Context, contact Contact) (*MessageResult, error) {
	return s.reissue(ctx, contact, purposeResend)
}

// ForgotPassword sends a code that authorizes ResetPassword.
func (s *Service) ForgotPassword(ctx context.Context, contact Contact) (*MessageResult, error) {
	return s.reissue(ctx, contact, purposeReset)
}

func (s *Service) reissue(ctx context.Context, contact Contact, p otpPurpose) (*MessageResult, error) {
	c := contact.normalized()
	if err := c.require(false); err != nil {
		return nil, err
	}
	acct, err := s.store.FindAccount(ctx, c.lookup())
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: user not found", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	ch, to := c.address()
	if err := s.issueOTP(ctx, acct, p, ch, to); err != nil {
		return nil, err
	}
	obs.AuthEvent(string(p), "ok")
	return &MessageResult{Message: p.message(MaskContact(to))}, nil
}

// ResetPassword replaces the password after validating a reset code.
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) (*MessageResult, error) {
	c := Contact{Email: in.Email, Phone: in.Phone}.normalized()
	if err := c.require(false); err != nil {
		return nil, err
	}
	if in.NewPassword == "" {
		return nil, fmt.Errorf("%w: new password is required", ErrInvalidInput)
	}
	acct, err := s.store.FindAccount(ctx, c.lookup())
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: user not found", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := checkOTP(acct.Auth, in.OTP, s.now().UTC()); err != nil {
		obs.AuthEvent("reset_password", "denied")
		return nil, err
	}
	if VerifyPassword(acct.User.PasswordHash, in.NewPassword) == nil {
		return nil, fmt.Errorf("%w: new password must differ from the current one", ErrConflict)
	}
	hash, err := HashPassword(in.NewPassword)
	if err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(tx Store) error {
		ok, err := tx.ConsumeOTP(ctx, acct.User.ID, acct.Auth.OTP)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: invalid verification code", ErrUnauthorized)
		}
		if err := tx.UpdatePasswordHash(ctx, acct.User.ID, hash); err != nil {
			return err
		}
		_, err = audit.Record(ctx, tx, audit.Change{
			TenantID:  acct.User.TenantID,
			TableName: "users",
			RecordID:  acct.User.ID,
			Action:    audit.ActionUpdate,
			Old:       map[string]string{"password_hash": acct.User.PasswordHash},
			New:       map[string]string{"password_hash": hash},
			ChangedBy: acct.User.ID,
		})
		return err
	})
	if err != nil {
		obs.AuthEvent("reset_password", "error")
		return nil, err
	}
	obs.AuthEvent("reset_password", "ok")
	return &MessageResult{Message: "Password has been reset"}, nil
}
