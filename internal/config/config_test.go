package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://localhost/tenantgate")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, 24*time.Hour, cfg.JWT.TTL)
	require.Equal(t, 10*time.Minute, cfg.OTP.TTL)
	require.Equal(t, "log", cfg.Mail.Driver)
	require.Equal(t, 5, cfg.Outbox.MaxAttempts)
	require.False(t, cfg.OAuth.Google.Enabled())
}

func TestLoadOAuthProviders(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://localhost/tenantgate")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("OAUTH_GOOGLE_CLIENT_ID", "gid")
	t.Setenv("OAUTH_GOOGLE_CLIENT_SECRET", "gsecret")
	t.Setenv("OAUTH_GOOGLE_REDIRECT_URL", "http://localhost/auth/google/callback")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.OAuth.Google.Enabled())
	require.Equal(t, "http://localhost/auth/google/callback", cfg.OAuth.Google.RedirectURL)
	require.Equal(t, "common", cfg.OAuth.MicrosoftTenant)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://localhost/tenantgate")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.ErrorIs(t, err, ErrParsingConfig)
}

func TestLoadRejectsIncompleteMailDriver(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://localhost/tenantgate")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("MAIL_DRIVER", "smtp")
	t.Setenv("SMTP_HOST", "")

	_, err := Load()
	require.Error(t, err)
}
