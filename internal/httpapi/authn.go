package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"tenantgate.io/internal/audit"
	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/obs"
	"tenantgate.io/internal/tenancy"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authenticate verifies the bearer token and attaches the principal, the audit
// actor and the tenant id to the request context.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="tenantgate"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.auth.Tokens().Parse(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="tenantgate", error="invalid_token"`)
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			respondErr(w, r, err)
			return
		}
		principal := claims.Principal()

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		ctx = audit.WithActor(ctx, principal.UserID)
		ctx = tenancy.WithTenantID(ctx, principal.TenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tenantSession checks out one connection for the request, sets the caller's
// tenant on it and releases it when the handler returns.
func (a *API) tenantSession(next http.Handler) http.Handler {
	if a.tenancy == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := a.tenancy.Acquire(ctx)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		defer func() {
			if err := sess.Release(ctx); err != nil {
				obs.Logger().Warn("tenant session release failed",
					zap.String("request_id", audit.RequestIDFromContext(ctx)), zap.Error(err))
			}
		}()
		if err := sess.Set(ctx, tenancy.TenantIDFromContext(ctx)); err != nil {
			respondErr(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(tenancy.ContextWithSession(ctx, sess)))
	})
}

// RequireRole admits principals holding at least one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFromContext(r.Context())
			if !ok || p.UserID == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="tenantgate"`)
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			if !p.HasAnyRole(roles...) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="tenantgate", error="insufficient_scope"`)
				writeError(w, r, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
