package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"tenantgate.io/internal/audit"
	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/oauth"
	"tenantgate.io/internal/obs"
	"tenantgate.io/internal/tenancy"
)

const (
	defaultMaxBodyBytes = 1 << 20
	defaultStateTTL     = 10 * time.Minute
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// DBReadiness pings the database.
type DBReadiness struct {
	DB *sql.DB
}

func (rp DBReadiness) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps are the services the HTTP layer routes to.
type Deps struct {
	Auth  *auth.Service
	Admin *auth.AdminService
	// Tenancy is optional; without it requests run on the shared pool.
	Tenancy *tenancy.Manager
	OAuth   *oauth.Registry
	States  oauth.StateStore
	Ready   readinessChecker
}

// API is the HTTP layer.
type API struct {
	auth     *auth.Service
	admin    *auth.AdminService
	tenancy  *tenancy.Manager
	oauth    *oauth.Registry
	states   oauth.StateStore
	ready    readinessChecker
	version  string
	stateTTL time.Duration

	maxBody    int64
	rateBurst  int
	ratePerSec int
	origins    []string
}

// Option configures API.
type Option func(*API)

func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst, a.ratePerSec = burst, perSecond
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// WithAllowedOrigins sets the CORS allow list. Local origins are allowed when it is empty.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) { a.origins = origins }
}

func WithStateTTL(ttl time.Duration) Option {
	return func(a *API) {
		if ttl > 0 {
			a.stateTTL = ttl
		}
	}
}

func New(deps Deps, opts ...Option) (*API, error) {
	if deps.Auth == nil || deps.Admin == nil {
		return nil, errors.New("httpapi: auth and admin services are required")
	}
	a := &API{
		auth:       deps.Auth,
		admin:      deps.Admin,
		tenancy:    deps.Tenancy,
		oauth:      deps.OAuth,
		states:     deps.States,
		ready:      deps.Ready,
		version:    "dev",
		stateTTL:   defaultStateTTL,
		maxBody:    defaultMaxBodyBytes,
		rateBurst:  20,
		ratePerSec: 5,
	}
	if a.ready == nil {
		a.ready = DBReadiness{}
	}
	if a.states == nil {
		a.states = oauth.NewMemoryStateStore()
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Handler builds the router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, obs.Instrument, AccessLog, SecurityHeaders, CORS(a.origins), MaxBodyBytes(a.maxBody))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return RateLimit(next, a.rateBurst, a.ratePerSec)
		})
		r.Post("/signup", a.handleSignUp)
		r.Post("/verify-otp", a.handleVerifyOTP)
		r.Post("/resend-otp", a.handleResendOTP)
		r.Post("/signin", a.handleSignIn)
		r.Post("/forget-password", a.handleForgotPassword)
		r.Patch("/reset-password", a.handleResetPassword)
		r.Get("/{provider}", a.handleOAuthStart)
		r.Get("/{provider}/callback", a.handleOAuthCallback)
		r.Post("/{provider}/callback", a.handleOAuthCallback)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.authenticate, a.tenantSession)
		a.mountAdmin(r)
	})
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": obs.ServiceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      obs.ServiceName,
		"time":      time.Now().UTC().Format(time.RFC3339),
		"version":   a.version,
		"providers": a.oauth.Names(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// respondErr maps service errors onto status codes. Unknown errors are logged
// and reported as 500 without detail.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, oauth.ErrInvalidState),
		errors.Is(err, oauth.ErrInvalidCode):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, oauth.ErrUnknownProvider):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		obs.Logger().Error("request failed",
			zap.String("request_id", audit.RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// bind decodes the body and writes a 400 on failure.
func bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
