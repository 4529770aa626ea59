package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tenantgate.io/internal/audit"
	"tenantgate.io/internal/notify"
	"tenantgate.io/internal/obs"
)

// Service implements sign-up, OTP sign-in, password reset and federated login.
type Service struct {
	store    Store
	tokens   *Tokens
	notifier Notifier
	now      func() time.Time
	otpTTL   time.Duration
	otpGen   func() (string, error)
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithOTPTTL configures how long an issued code stays valid.
func WithOTPTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return errors.New("auth: otp ttl must be positive")
		}
		s.otpTTL = ttl
		return nil
	}
}

// WithOTPGenerator replaces the code generator.
func WithOTPGenerator(fn func() (string, error)) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.otpGen = fn
		}
		return nil
	}
}

// WithNotifier sets the component woken once queued notifications are committed.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) error {
		s.notifier = n
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, tokens *Tokens, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	svc := &Service{
		store:  store,
		tokens: tokens,
		now:    time.Now,
		otpTTL: defaultOTPTTL,
		otpGen: GenerateOTP,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Tokens exposes the token service used for issuance.
func (s *Service) Tokens() *Tokens {
	return s.tokens
}

// Contact identifies a user by email or phone.
type Contact struct {
	Email string
	Phone string
}

func (c Contact) normalized() Contact {
	return Contact{Email: normalizeEmail(c.Email), Phone: normalizePhone(c.Phone)}
}

// require enforces that at least one (or, when exact, exactly one) field is set.
func (c Contact) require(exact bool) error {
	switch {
	case c.Email == "" && c.Phone == "":
		return fmt.Errorf("%w: email or phone is required", ErrInvalidInput)
	case exact && c.Email != "" && c.Phone != "":
		return fmt.Errorf("%w: provide either email or phone, not both", ErrInvalidInput)
	}
	return checkPhone(c.Phone, "primary_phone")
}

func (c Contact) lookup() Lookup {
	if c.Email != "" {
		return Lookup{Email: c.Email}
	}
	return Lookup{Phone: c.Phone}
}

func (c Contact) address() (notify.Channel, string) {
	if c.Email != "" {
		return notify.ChannelEmail, c.Email
	}
	return notify.ChannelSMS, c.Phone
}

// AuthResult is returned when a flow ends in an authenticated session.
type AuthResult struct {
	Message   string    `json:"message"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      UserView  `json:"user"`
}

func normalizeEmail(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func normalizePhone(v string) string {
	return strings.Join(strings.Fields(v), "")
}

const (
	minPhoneDigits = 4
	maxPhoneDigits = 15
)

// validPhone accepts an optional leading '+' followed by ASCII digits.
func validPhone(v string) bool {
	digits := strings.TrimPrefix(v, "+")
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return false
		}
	}
	return true
}

func checkPhone(v, field string) error {
	if v != "" && !validPhone(v) {
		return fmt.Errorf("%w: %s must be '+' and digits", ErrInvalidInput, field)
	}
	return nil
}

// otpPurpose selects wording and the metric label.
type otpPurpose string

const (
	purposeSignUp otpPurpose = "signup"
	purposeSignIn otpPurpose = "signin"
	purposeResend otpPurpose = "resend"
	purposeReset  otpPurpose = "password_reset"
)

func (p otpPurpose) subject() string {
	if p == purposeReset {
		return "Your password reset code"
	}
	return "Your verification code"
}

func (p otpPurpose) body(code string, ttl time.Duration) string {
	minutes := int(ttl.Minutes())
	switch p {
	case purposeReset:
		return fmt.Sprintf("Use %s to reset your password. The code expires in %d minutes.\nIf you did not request a reset, ignore this message.", code, minutes)
	case purposeSignUp:
		return fmt.Sprintf("Welcome! Your verification code is %s. It expires in %d minutes.", code, minutes)
	default:
		return fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, minutes)
	}
}

func (p otpPurpose) message(masked string) string {
	switch p {
	case purposeSignUp:
		return "Account created. A verification code has been sent to " + masked
	case purposeResend:
		return "A new verification code has been sent to " + masked
	case purposeReset:
		return "A password reset code has been sent to " + masked
	default:
		return "A verification code has been sent to " + masked
	}
}

func otpMessage(p otpPurpose, tenantID string, ch notify.Channel, to, code string, ttl time.Duration) *notify.Message {
	if ch == notify.ChannelSMS {
		return notify.NewSMS(tenantID, to, p.body(code, ttl), audit.SystemActor)
	}
	return notify.NewEmail(tenantID, to, p.subject(), p.body(code, ttl), audit.SystemActor)
}

// issueOTP stores a fresh code for the user and queues it in one transaction.
func (s *Service) issueOTP(ctx context.Context, acct *Account, p otpPurpose, ch notify.Channel, to string) error {
	code, err := s.otpGen()
	if err != nil {
		return err
	}
	expiry := s.now().UTC().Add(s.otpTTL)
	err = s.store.InTx(ctx, func(tx Store) error {
		if err := tx.SetOTP(ctx, acct.User.ID, code, expiry); err != nil {
			return err
		}
		return tx.EnqueueNotification(ctx, otpMessage(p, acct.User.TenantID, ch, to, code, s.otpTTL))
	})
	if err != nil {
		return err
	}
	obs.OTPIssued(string(p))
	s.wake()
	return nil
}

func (s *Service) wake() {
	if s.notifier != nil {
		s.notifier.Wake()
	}
}

func (s *Service) issueToken(acct *Account) (string, time.Time, error) {
	return s.tokens.Issue(Principal{
		UserID:   acct.User.ID,
		Email:    acct.User.Email,
		TenantID: acct.User.TenantID,
		Roles:    acct.RoleNames(),
	})
}

func logger(ctx context.Context) *zap.Logger {
	l := obs.Logger()
	if rid := audit.RequestIDFromContext(ctx); rid != "" {
		l = l.With(zap.String("request_id", rid))
	}
	return l
}
