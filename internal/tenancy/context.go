package tenancy

import (
	"context"
	"strings"
)

type sessionKey struct{}
type tenantKey struct{}

// ContextWithSession attaches a request-scoped session.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session attached with ContextWithSession.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}

// WithTenantID carries the tenant id explicitly so stores and logs can scope by it.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, strings.TrimSpace(tenantID))
}

// TenantIDFromContext returns the tenant id carried by ctx; "" means system scope.
func TenantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(tenantKey{}).(string)
	return v
}

// Executor returns the session connection carried by ctx, or fallback.
func Executor(ctx context.Context, fallback Beginner) Beginner {
	if s, ok := SessionFromContext(ctx); ok {
		return s.Conn()
	}
	return fallback
}
