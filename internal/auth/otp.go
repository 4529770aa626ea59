package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	otpLength      = 6
	otpMin         = 100000
	otpSpan        = 900000
	defaultOTPTTL  = 10 * time.Minute
	maskVisible    = 3
	phoneSuffixLen = 2
)

// GenerateOTP returns a uniformly random 6-digit code in [100000, 999999].
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpSpan))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+otpMin), nil
}

// checkOTP validates a presented code against the pending one at now.
func checkOTP(a *UserAuth, code string, now time.Time) error {
	if a == nil || a.OTP == "" || a.OTPExpiry == nil {
		return fmt.Errorf("%w: no pending verification code", ErrUnauthorized)
	}
	code = strings.TrimSpace(code)
	if len(code) != otpLength || subtle.ConstantTimeCompare([]byte(a.OTP), []byte(code)) != 1 {
		return fmt.Errorf("%w: invalid verification code", ErrUnauthorized)
	}
	// The expiry instant itself is still valid.
	if now.After(*a.OTPExpiry) {
		return fmt.Errorf("%w: verification code has expired", ErrUnauthorized)
	}
	return nil
}

// MaskContact reveals the first three characters of an email local part or a
// phone number. Emails keep their domain, phones their last two digits.
func MaskContact(contact string) string {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return ""
	}
	if local, domain, ok := strings.Cut(contact, "@"); ok {
		return maskPrefix(local, 0) + "@" + domain
	}
	suffix := phoneSuffixLen
	if utf8.RuneCountInString(contact) <= maskVisible+suffix {
		suffix = 0
	}
	return maskPrefix(contact, suffix)
}

func maskPrefix(s string, keepSuffix int) string {
	r := []rune(s)
	if len(r) <= maskVisible {
		return string(r)
	}
	end := max(len(r)-keepSuffix, maskVisible)
	var b strings.Builder
	b.WriteString(string(r[:maskVisible]))
	b.WriteString(strings.Repeat("*", end-maskVisible))
	b.WriteString(string(r[end:]))
	return b.String()
}
