package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/config"
	"tenantgate.io/internal/httpapi"
	"tenantgate.io/internal/notify"
	"tenantgate.io/internal/oauth"
	"tenantgate.io/internal/obs"
	"tenantgate.io/internal/store/pg"
	"tenantgate.io/internal/tenancy"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		obs.Logger().Fatal("load config", zap.Error(err))
	}
	if cfg.Version != "dev" {
		version = cfg.Version
	}
	if cfg.Commit != "unknown" {
		commit = cfg.Commit
	}

	logger := obs.NewLogger(cfg.Env, cfg.LogLevel, os.Stdout)
	restore := obs.SetLogger(logger)
	defer restore()
	defer func() { _ = logger.Sync() }()

	obs.Init()
	logger.Info("starting", obs.Build{Version: version, Commit: commit, Environment: cfg.Env}.Publish()...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("api stopped with error", zap.Error(err))
	}
	logger.Info("stopped")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, err := pg.Open(cfg.Postgres.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := tenancy.NewManager(store.DB())
	if err != nil {
		return err
	}

	sender, err := newSender(cfg, store)
	if err != nil {
		return err
	}
	dispatcher, err := notify.NewDispatcher(store, sender,
		notify.WithPollInterval(cfg.Outbox.PollInterval),
		notify.WithBatchSize(cfg.Outbox.BatchSize),
		notify.WithMaxAttempts(cfg.Outbox.MaxAttempts),
	)
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokens(cfg.JWT.Secret,
		auth.WithTokenIssuer(cfg.JWT.Issuer),
		auth.WithTokenTTL(cfg.JWT.TTL),
	)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(store, tokens,
		auth.WithOTPTTL(cfg.OTP.TTL),
		auth.WithNotifier(dispatcher),
	)
	if err != nil {
		return err
	}
	admin, err := auth.NewAdminService(store)
	if err != nil {
		return err
	}

	states, closeStates := stateStore(ctx, cfg, logger)
	defer closeStates()

	registry := providers(cfg.OAuth)
	api, err := httpapi.New(httpapi.Deps{
		Auth:    svc,
		Admin:   admin,
		Tenancy: sessions,
		OAuth:   registry,
		States:  states,
		Ready:   httpapi.DBReadiness{DB: store.DB()},
	},
		httpapi.WithVersion(version),
		httpapi.WithRateLimit(cfg.HTTP.RateBurst, cfg.HTTP.RatePerSecond),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		httpapi.WithAllowedOrigins(cfg.HTTP.AllowOrigins),
		httpapi.WithStateTTL(cfg.OAuth.StateTTL),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := grpc.NewServer()
	health := httpapi.NewHealthServer(httpapi.DBReadiness{DB: store.DB()}, 10*time.Second)
	health.Register(grpcServer)
	lis, err := net.Listen("tcp", cfg.HTTP.GRPCAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 3)
	go func() {
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()
	go health.Run(ctx)
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.HTTP.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("http listening",
			zap.String("addr", srv.Addr),
			zap.String("version", version),
			zap.Strings("oauth_providers", registry.Names()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	return runErr
}

func newSender(cfg config.Config, store *pg.Store) (*notify.Sender, error) {
	defaults := notify.Defaults{
		Email: notify.EmailSettings{
			Host:      cfg.Mail.SMTPHost,
			Port:      cfg.Mail.SMTPPort,
			Username:  cfg.Mail.SMTPUser,
			Password:  cfg.Mail.SMTPPass,
			FromName:  cfg.Mail.FromName,
			FromEmail: cfg.Mail.FromEmail,
		},
		SMS: notify.SMSSettings{
			APIURL: cfg.SMS.APIURL,
			APIKey: cfg.SMS.APIKey,
			Sender: cfg.SMS.Sender,
		},
	}

	var mail notify.MailTransport
	switch cfg.Mail.Driver {
	case "smtp":
		mail = notify.SMTPTransport{}
	case "postmark":
		pm, err := notify.NewPostmarkTransport(cfg.Mail.PostmarkServerToken, cfg.Mail.PostmarkAccountToken)
		if err != nil {
			return nil, err
		}
		mail = pm
	default:
		mail = notify.LogMailTransport{}
	}

	var sms notify.SMSTransport = notify.LogSMSTransport{}
	if cfg.SMS.Driver == "http" {
		sms = notify.HTTPSMSTransport{Client: &http.Client{Timeout: 15 * time.Second}}
	}
	return notify.NewSender(store, defaults, mail, sms)
}

// stateStore uses Redis when configured so OAuth state survives across replicas.
func stateStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (oauth.StateStore, func()) {
	if cfg.Redis.URL == "" {
		return oauth.NewMemoryStateStore(), func() {}
	}
	client, err := oauth.Connect(ctx, oauth.RedisConfig{
		URL:            cfg.Redis.URL,
		ConnectTimeout: cfg.Redis.ConnectTimeout,
		RetryAttempts:  cfg.Redis.RetryAttempts,
		RetryInterval:  cfg.Redis.RetryInterval,
	})
	if err != nil {
		logger.Warn("redis unavailable, keeping oauth state in memory", zap.Error(err))
		return oauth.NewMemoryStateStore(), func() {}
	}
	return oauth.NewRedisStateStore(client), func() { _ = client.Close() }
}

func providers(cfg config.OAuth) *oauth.Registry {
	conf := func(p config.OAuthProvider) oauth.Config {
		return oauth.Config{ClientID: p.ClientID, ClientSecret: p.ClientSecret, RedirectURL: p.RedirectURL}
	}
	var list []oauth.Provider
	if cfg.Google.Enabled() {
		list = append(list, oauth.NewGoogle(conf(cfg.Google)))
	}
	if cfg.Microsoft.Enabled() {
		list = append(list, oauth.NewMicrosoft(conf(cfg.Microsoft), cfg.MicrosoftTenant))
	}
	if cfg.Facebook.Enabled() {
		list = append(list, oauth.NewFacebook(conf(cfg.Facebook)))
	}
	if cfg.Apple.Enabled() {
		list = append(list, oauth.NewApple(conf(cfg.Apple)))
	}
	return oauth.NewRegistry(list...)
}
