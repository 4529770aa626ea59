package auth

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokensIssueAndParse(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tokens, err := NewTokens("secret", WithTokenIssuer("test-issuer"), WithTokenTTL(time.Hour), WithTokenClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	signed, exp, err := tokens.Issue(Principal{UserID: "usr_1", Email: "a@b.c", TenantID: "tnt_1", Roles: []string{"Admin", "admin", "authenticated"}})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", exp)
	}
	claims, err := tokens.Parse(signed)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "usr_1" || claims.UserID != "usr_1" {
		t.Fatalf("subject/user_id mismatch: %+v", claims)
	}
	if claims.TenantID != "tnt_1" || claims.Email != "a@b.c" {
		t.Fatalf("tenant/email not preserved: %+v", claims)
	}
	if !slices.Equal(claims.Roles, []string{"admin", "authenticated"}) {
		t.Fatalf("roles not normalized: %v", claims.Roles)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti")
	}
	p := claims.Principal()
	if p.UserID != "usr_1" || !p.HasRole("admin") {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestTokensRejectExpired(t *testing.T) {
	now := time.Now().UTC()
	clock := func() time.Time { return now }
	tokens, _ := NewTokens("secret", WithTokenTTL(time.Minute), WithTokenClock(clock))
	signed, _, err := tokens.Issue(Principal{UserID: "usr_1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := tokens.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestTokensRejectForeignSecretAndIssuer(t *testing.T) {
	a, _ := NewTokens("secret-a")
	b, _ := NewTokens("secret-b")
	c, _ := NewTokens("secret-a", WithTokenIssuer("other"))
	signed, _, err := a.Issue(Principal{UserID: "usr_1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature failure, got %v", err)
	}
	if _, err := c.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected issuer failure, got %v", err)
	}
}

func TestTokensRejectNoneAlgorithm(t *testing.T) {
	tokens, _ := NewTokens("secret")
	now := time.Now()
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		UserID: "usr_1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultIssuer,
			Subject:   "usr_1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := tokens.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected rejection of alg=none, got %v", err)
	}
}

func TestNewTokensRequiresSecret(t *testing.T) {
	if _, err := NewTokens("  "); err == nil {
		t.Fatalf("expected error for blank secret")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret!")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "s3cret!"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatalf("expected mismatch")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatalf("expected error for empty password")
	}
}
