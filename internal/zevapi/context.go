package zevapi

import (
	"context"

	"golang.org/x/oauth2"
)

type contextKey int

const (
	tokenSourceKey contextKey = iota
	tenantKey
)

// WithTokenSource attaches the caller's OAuth2 token source; the REST client
// sends its access token as bearer on every call made with the context.
func WithTokenSource(ctx context.Context, ts oauth2.TokenSource) context.Context {
	return context.WithValue(ctx, tokenSourceKey, ts)
}

// TokenSourceFrom returns the token source attached to ctx, or nil.
func TokenSourceFrom(ctx context.Context) oauth2.TokenSource {
	ts, _ := ctx.Value(tokenSourceKey).(oauth2.TokenSource)
	return ts
}

// WithTenant records the tenant the request acts for. The backend derives
// the tenant from the token; locally it scopes caches and the memory store.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}

// TenantFrom returns the tenant attached to ctx, or "".
func TenantFrom(ctx context.Context) string {
	t, _ := ctx.Value(tenantKey).(string)
	return t
}
