package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrParsingConfig wraps environment parsing failures.
var ErrParsingConfig = errors.New("config: parse environment")

// Config is the full process configuration, populated from the environment.
type Config struct {
	Env      string `env:"APP_ENV" envDefault:"production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Version  string `env:"APP_VERSION" envDefault:"dev"`
	Commit   string `env:"APP_COMMIT" envDefault:"unknown"`

	HTTP     HTTP
	Postgres Postgres
	Redis    Redis
	JWT      JWT
	OTP      OTP
	Mail     Mail
	SMS      SMS
	OAuth    OAuth
	Outbox   Outbox
}

type HTTP struct {
	Addr          string        `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr      string        `env:"GRPC_ADDR" envDefault:":9090"`
	MaxBodyBytes  int64         `env:"HTTP_MAX_BODY_BYTES" envDefault:"1048576"`
	RateBurst     int           `env:"HTTP_RATE_BURST" envDefault:"20"`
	RatePerSecond int           `env:"HTTP_RATE_PER_SECOND" envDefault:"5"`
	ReadTimeout   time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout  time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	AllowOrigins  []string      `env:"HTTP_CORS_ORIGINS" envSeparator:","`
}

type Postgres struct {
	DSN             string        `env:"PG_DSN,required,notEmpty"`
	MaxOpenConns    int           `env:"PG_MAX_OPEN_CONNS" envDefault:"50"`
	MaxIdleConns    int           `env:"PG_MAX_IDLE_CONNS" envDefault:"25"`
	ConnMaxLifetime time.Duration `env:"PG_CONN_MAX_LIFETIME" envDefault:"15m"`
	ConnMaxIdleTime time.Duration `env:"PG_CONN_MAX_IDLE_TIME" envDefault:"5m"`
}

// Redis is optional; OAuth state falls back to process memory when URL is empty.
type Redis struct {
	URL            string        `env:"REDIS_URL"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"10s"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"2s"`
}

type JWT struct {
	Secret string        `env:"JWT_SECRET,required,notEmpty"`
	Issuer string        `env:"JWT_ISSUER" envDefault:"tenantgate"`
	TTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`
}

type OTP struct {
	TTL time.Duration `env:"OTP_TTL" envDefault:"10m"`
}

type Mail struct {
	Driver               string `env:"MAIL_DRIVER" envDefault:"log"`
	SMTPHost             string `env:"SMTP_HOST"`
	SMTPPort             int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser             string `env:"SMTP_USER"`
	SMTPPass             string `env:"SMTP_PASS"`
	FromName             string `env:"SMTP_FROM_NAME" envDefault:"Tenantgate"`
	FromEmail            string `env:"SMTP_FROM_EMAIL" envDefault:"no-reply@tenantgate.io"`
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
}

type SMS struct {
	Driver string `env:"SMS_DRIVER" envDefault:"log"`
	APIURL string `env:"SMS_API_URL"`
	APIKey string `env:"SMS_API_KEY"`
	Sender string `env:"SMS_SENDER" envDefault:"TENANTGATE"`
}

type OAuthProvider struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"`
}

// Enabled reports whether the provider has credentials configured.
func (p OAuthProvider) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

type OAuth struct {
	StateTTL time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`

	Google    OAuthProvider `envPrefix:"OAUTH_GOOGLE_"`
	Microsoft OAuthProvider `envPrefix:"OAUTH_MICROSOFT_"`
	Facebook  OAuthProvider `envPrefix:"OAUTH_FACEBOOK_"`
	Apple     OAuthProvider `envPrefix:"OAUTH_APPLE_"`

	MicrosoftTenant string `env:"OAUTH_MICROSOFT_TENANT" envDefault:"common"`
}

type Outbox struct {
	PollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"5s"`
	BatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"20"`
	MaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"5"`
}

// Load reads a .env file when present and parses the environment into Config.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Development reports whether the process runs in a local development env.
func (c Config) Development() bool {
	return c.Env == "dev" || c.Env == "development" || c.Env == "local"
}

func (c Config) validate() error {
	switch c.Mail.Driver {
	case "log":
	case "smtp":
		if c.Mail.SMTPHost == "" {
			return errors.New("config: SMTP_HOST is required for MAIL_DRIVER=smtp")
		}
	case "postmark":
		if c.Mail.PostmarkServerToken == "" {
			return errors.New("config: POSTMARK_SERVER_TOKEN is required for MAIL_DRIVER=postmark")
		}
	default:
		return fmt.Errorf("config: unsupported MAIL_DRIVER %q", c.Mail.Driver)
	}
	switch c.SMS.Driver {
	case "log":
	case "http":
		if c.SMS.APIURL == "" {
			return errors.New("config: SMS_API_URL is required for SMS_DRIVER=http")
		}
	default:
		return fmt.Errorf("config: unsupported SMS_DRIVER %q", c.SMS.Driver)
	}
	if c.JWT.TTL <= 0 {
		return errors.New("config: JWT_TTL must be positive")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("config: OTP_TTL must be positive")
	}
	return nil
}
