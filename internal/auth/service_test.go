package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantgate.io/internal/audit"
	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/auth/authtest"
	"tenantgate.io/internal/notify"
)

type harness struct {
	svc      *auth.Service
	store    *authtest.Store
	notifier *authtest.Notifier
	tokens   *auth.Tokens
	now      time.Time
	codes    []string
}

func newHarness(t *testing.T, store *authtest.Store) *harness {
	t.Helper()
	h := &harness{
		store:    store,
		notifier: &authtest.Notifier{},
		now:      time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		codes:    []string{"111111", "222222", "333333", "444444"},
	}
	clock := func() time.Time { return h.now }
	tokens, err := auth.NewTokens("test-secret", auth.WithTokenClock(clock))
	require.NoError(t, err)
	h.tokens = tokens
	next := 0
	gen := func() (string, error) {
		code := h.codes[next%len(h.codes)]
		next++
		return code, nil
	}
	h.svc, err = auth.NewService(store, tokens,
		auth.WithClock(clock),
		auth.WithOTPGenerator(gen),
		auth.WithNotifier(h.notifier),
	)
	require.NoError(t, err)
	return h
}

func (h *harness) signUp(t *testing.T) *auth.SignUpResult {
	t.Helper()
	res, err := h.svc.SignUp(context.Background(), auth.SignUpInput{
		Username: "alice",
		Email:    "Alice@Example.com",
		Password: "correct horse",
		Profile:  &auth.ProfileInput{FullName: "Alice A"},
	})
	require.NoError(t, err)
	return res
}

func TestSignUpCreatesAccountAtomically(t *testing.T) {
	h := newHarness(t, authtest.NewSeededStore())
	res := h.signUp(t)

	assert.Equal(t, "alice@example.com", res.User.Email)
	assert.False(t, res.User.IsVerified)
	assert.Equal(t, []string{auth.RoleAuthenticated}, res.User.Roles)
	assert.Contains(t, res.Message, "ali**@example.com")

	raw, err := json.Marshal(res.User)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "password")

	ua, ok := h.store.Auth(res.User.ID)
	require.True(t, ok)
	assert.Equal(t, "111111", ua.OTP)
	require.NotNil(t, ua.OTPExpiry)
	assert.Equal(t, h.now.Add(10*time.Minute), *ua.OTPExpiry)

	outbox := h.store.Outbox()
	require.Len(t, outbox, 1)
	assert.Equal(t, notify.ChannelEmail, outbox[0].Channel)
	assert.Equal(t, "alice@example.com", outbox[0].Recipient)
	assert.Contains(t, outbox[0].Body, "111111")
	assert.Equal(t, 1, h.notifier.Wakes())

	audits := h.store.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, audit.ActionCreate, audits[0].Action)
	assert.Equal(t, "users", audits[0].TableName)
}

func TestSignUpPhoneOnlyUsesSMS(t *testing.T) {
	h := newHarness(t, authtest.NewSeededStore())
	_, err := h.svc.SignUp(context.Background(), auth.SignUpInput{Username: "bob", Phone: "+1 555 0100 99", Password: "pw"})
	require.NoError(t, err)
	outbox := h.store.Outbox()
	require.Len(t, outbox, 1)
	assert.Equal(t, notify.ChannelSMS, outbox[0].Channel)
	assert.Equal(t, "+1555010099", outbox[0].Recipient)
}

func TestSignUpRejectsMalformedPhone(t *testing.T) {
	h := newHarness(t, authtest.NewSeededStore())
	ctx := context.Background()
	for _, in := range []auth.SignUpInput{
		{Username: "bob", Phone: "١٢٣٤", Password: "pw"},
		{Username: "bob", Phone: "555-0100", Password: "pw"},
		{Username: "bob", Phone: "+1", Password: "pw"},
		{Username: "bob", Email: "bob@example.com", Password: "pw", Profile: &auth.ProfileInput{SecondaryPhone: "call me"}},
	} {
		_, err := h.svc.SignUp(ctx, in)
		require.ErrorIs(t, err, auth.ErrInvalidInput, "phone %q / %+v", in.Phone, in.Profile)
	}
	assert.Empty(t, h.store.Outbox())
	assert.Empty(t, h.store.Audits())

	_, err := h.svc.ResendOTP(ctx, auth.Contact{Phone: "١٢٣٤"})
	require.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestSignUpConflictWritesNothing(t *testing.T) {
	h := newHarness(t, authtest.NewSeededStore())
	h.signUp(t)

	_, err := h.svc.SignUp(context.Background(), auth.SignUpInput{Username: "alice2", Email: "alice@example.com", Password: "pw"})
	require.ErrorIs(t, err, auth.ErrConflict)
	assert.Contains(t, err.Error(), "email")

	_, err = h.svc.SignUp(context.Background(), auth.SignUpInput{Username: "alice", Email: "other@example.com", Password: "pw"})
	require.ErrorIs(t, err, auth.ErrConflict)
	assert.Contains(t, err.Error(), "username")

	assert.Len(t, h.store.Outbox(), 1)
	assert.Len(t, h.store.Audits(), 1)
}

func TestSignUpWithoutDefaultRole(t *testing.T) {
	h := newHarness(t, authtest.NewStore())
	res := h.signUp(t)
	assert.Empty(t, res.User.Roles)
}

func TestSignUpRollsBackOnEnqueueFailure(t *testing.T) {
	store := authtest.NewSeededStore()
	store.FailOn = func(op string) error {
		if op == "EnqueueNotification" {
			return errors.New("outbox unavailable")
		}
		return nil
	}
	h := newHarness(t, store)
	_, err := h.svc.SignUp(context.Background(), auth.SignUpInput{Username: "alice", Email: "alice@example.com", Password: "pw"})
	require.Error(t, err)

	_, err = store.FindAccount(context.Background(), auth.Lookup{Email: "alice@example.com"})
	require.ErrorIs(t, err, auth.ErrNotFound)
	assert.Empty(t, store.Audits())
	assert.Zero(t, h.notifier.Wakes())
}

func TestSignUpRejectsUnknownTenant(t *testing.T) {
	h := newHarness(t, authtest.NewSeededStore())
	_, err := h.svc.SignUp(context.Background(), auth.SignUpInput{Username: "a", Email: "a@b.c", Password: "pw", TenantID: "tnt_missing"})
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestSignInThenVerify(t *testing.T) {
	h := newHarness(t, authtest.NewSeededStore())
	h.signUp(t)
	ctx := context.Background()

	in, err := h.svc.SignIn(ctx, auth.SignInInput{Email: "alice@example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.True(t, in.Requires2FA)
	assert.Contains(t, in.Message, "ali**@example.com")
	assert.NotContains(t, in.Message, "alice@")

	res, err := h.svc.VerifyOTP(ctx, auth.VerifyOTPInput{Email: "alice@example.com", OTP: "222222", IP: "10.0.0.1"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)
	assert.True(t, res.User.IsVerified)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "password")

	claims, err := h.tokens.Parse(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, []string{auth.RoleAuthenticated}, claims.Roles)

	ua, _ := h.store.Auth(res.User.ID)
	assert.Empty(t, ua.OTP)
	assert.Nil(t, ua.OTPExpiry)
	assert.Equal(t, "10.0.0.1", ua.LastLoginIP)

	_, err = h.svc.VerifyOTP(ctx, auth.VerifyOTPInput{Email: "alice@example.com", OTP: "222222"})
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestSignInGenericFailure(t *testing.T) {
	h := newHarness(t, authtest.NewSeededStore())
	h.signUp(t)
	ctx := context.Background()

	_, errWrong := h.svc.SignIn(ctx, auth.SignInInput{Email: "alice@example.com", Password: "nope"})
	_, errUnknown := h.svc.SignIn(ctx, auth.SignInInput{Email: "ghost@example.com", Password: "nope"})
	require.ErrorIs(t, errWrong, auth.ErrUnauthorized)
	require.ErrorIs(t, errUnknown, auth.ErrUnauthorized)
	assert.Equal(t, errWrong.Error(), errUnknown.Error())

	_, err := h.svc.SignIn(ctx, auth.SignInInput{Email: "alice@example.com", Phone: "+1", Password: "x"})
	require.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestVerifyOTPExpiryBoundary(t *testing.T) {
	h := newHarness(t, authtest.NewSeededStore())
	res := h.signUp(t)
	ctx := context.Background()

	h.now = h.now.Add(10*time.Minute + time.Second)
	_, err := h.svc.VerifyOTP(ctx, auth.VerifyOTPInput{Email: "alice@example.com", OTP: "111111"})
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	h.store.SetOTPExpiry(res.User.ID, h.now)
	_, err = h.svc.VerifyOTP(ctx, auth.VerifyOTPInput{Email: "alice@example.com", OTP: "111111"})
	require.NoError(t, err)
}

func TestVerifyOTPAgedCode(t *testing.T) {
	h := newHarness(t, authtest.NewSeededStore())
	res := h.signUp(t)
	h.store.SetOTPExpiry(res.User.ID, h.now.Add(-time.Minute))
	_, err := h.svc.VerifyOTP(context.Background(), auth.VerifyOTPInput{Email: "alice@example.com", OTP: "111111"})
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestResendAndForgot(t *testing.T) {
	h := newHarness(t, authtest.NewSeededStore())
	res := h.signUp(t)
	ctx := context.Background()

	_, err := h.svc.ResendOTP(ctx, auth.Contact{Email: "ghost@example.com"})
	require.ErrorIs(t, err, auth.ErrNotFound)

	msg, err := h.svc.ResendOTP(ctx, auth.Contact{Email: "alice@example.com"})
	require.NoError(t, err)
	assert.Contains(t, msg.Message, "new verification code")
	ua, _ := h.store.Auth(res.User.ID)
	assert.Equal(t, "222222", ua.OTP)

	msg, err = h.svc.ForgotPassword(ctx, auth.Contact{Email: "alice@example.com"})
	require.NoError(t, err)
	assert.Contains(t, msg.Message, "password reset")
	ua, _ = h.store.Auth(res.User.ID)
	assert.Equal(t, "333333", ua.OTP)

	outbox := h.store.Outbox()
	require.Len(t, outbox, 3)
	assert.Equal(t, "Your password reset code", outbox[2].Subject)
}

func TestResetPassword(t *testing.T) {
	h := newHarness(t, authtest.NewSeededStore())
	res := h.signUp(t)
	ctx := context.Background()
	_, err := h.svc.ForgotPassword(ctx, auth.Contact{Email: "alice@example.com"})
	require.NoError(t, err)

	_, err = h.svc.ResetPassword(ctx, auth.ResetPasswordInput{Email: "alice@example.com", OTP: "222222", NewPassword: "correct horse"})
	require.ErrorIs(t, err, auth.ErrConflict)

	_, err = h.svc.ResetPassword(ctx, auth.ResetPasswordInput{Email: "alice@example.com", OTP: "999999", NewPassword: "battery staple"})
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = h.svc.ResetPassword(ctx, auth.ResetPasswordInput{Email: "ghost@example.com", OTP: "222222", NewPassword: "x"})
	require.ErrorIs(t, err, auth.ErrNotFound)

	_, err = h.svc.ResetPassword(ctx, auth.ResetPasswordInput{Email: "alice@example.com", OTP: "222222", NewPassword: "battery staple"})
	require.NoError(t, err)

	u, _ := h.store.User(res.User.ID)
	require.NoError(t, auth.VerifyPassword(u.PasswordHash, "battery staple"))

	ua, _ := h.store.Auth(res.User.ID)
	assert.Empty(t, ua.OTP)

	audits := h.store.Audits()
	last := audits[len(audits)-1]
	assert.Equal(t, audit.ActionUpdate, last.Action)
	assert.Contains(t, string(last.NewData), "password_hash")
	assert.NotContains(t, string(last.NewData), "battery staple")
	assert.NotContains(t, string(last.OldData), "correct horse")

	_, err = h.svc.ResetPassword(ctx, auth.ResetPasswordInput{Email: "alice@example.com", OTP: "222222", NewPassword: "another one"})
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestOAuthCallbackNewUser(t *testing.T) {
	h := newHarness(t, authtest.NewSeededStore())
	res, err := h.svc.OAuthCallback(context.Background(), auth.ExternalProfile{Provider: "google", EmailVerified: true, Email: "new@x.com", FullName: "New User"}, "10.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, "new", res.User.Username)
	assert.True(t, res.User.IsVerified)
	require.NotNil(t, res.User.Profile)
	assert.Equal(t, "New User", res.User.Profile.FullName)

	claims, err := h.tokens.Parse(res.Token)
	require.NoError(t, err)
	assert.Equal(t, []string{auth.RoleAuthenticated}, claims.Roles)
	assert.Equal(t, claims.Subject, claims.UserID)

	audits := h.store.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, res.User.ID, audits[0].ChangedBy)
	assert.Empty(t, h.store.Outbox())
}

func TestOAuthCallbackTokenReflectsPersistedRoles(t *testing.T) {
	h := newHarness(t, authtest.NewStore())
	res, err := h.svc.OAuthCallback(context.Background(), auth.ExternalProfile{Provider: "apple", EmailVerified: true, Email: "solo@x.com"}, "")
	require.NoError(t, err)
	claims, err := h.tokens.Parse(res.Token)
	require.NoError(t, err)
	assert.Empty(t, claims.Roles)
}

func TestOAuthCallbackExistingUser(t *testing.T) {
	h := newHarness(t, authtest.NewSeededStore())
	signed := h.signUp(t)
	res, err := h.svc.OAuthCallback(context.Background(), auth.ExternalProfile{Provider: "microsoft", EmailVerified: true, Email: "ALICE@example.com"}, "10.2.2.2")
	require.NoError(t, err)
	assert.Equal(t, signed.User.ID, res.User.ID)
	ua, _ := h.store.Auth(signed.User.ID)
	assert.Equal(t, "10.2.2.2", ua.LastLoginIP)
}

func TestOAuthCallbackRejectsUnverifiedEmail(t *testing.T) {
	h := newHarness(t, authtest.NewSeededStore())
	h.signUp(t)
	ctx := context.Background()

	_, err := h.svc.OAuthCallback(ctx, auth.ExternalProfile{Provider: "facebook", Email: "alice@example.com"}, "")
	require.ErrorIs(t, err, auth.ErrUnauthorized)
	_, err = h.svc.OAuthCallback(ctx, auth.ExternalProfile{Provider: "facebook", Email: "fresh@example.com"}, "")
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = h.store.FindAccount(ctx, auth.Lookup{Email: "fresh@example.com"})
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestOAuthCallbackRequiresEmail(t *testing.T) {
	h := newHarness(t, authtest.NewSeededStore())
	_, err := h.svc.OAuthCallback(context.Background(), auth.ExternalProfile{Provider: "facebook"}, "")
	require.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestOAuthCallbackUsernameConflict(t *testing.T) {
	h := newHarness(t, authtest.NewSeededStore())
	h.signUp(t)
	_, err := h.svc.OAuthCallback(context.Background(), auth.ExternalProfile{Provider: "google", EmailVerified: true, Email: "alice@elsewhere.org"}, "")
	require.ErrorIs(t, err, auth.ErrConflict)
	assert.True(t, strings.Contains(err.Error(), "username"))
}
