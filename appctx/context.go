// Package appctx holds the request-scoped values shared by the HTTP layer,
// the stores and the database plugins. It imports nothing from the module so
// config and utils can both depend on it.
package appctx

import "context"

type ContextKey string

func (c ContextKey) String() string { return "appctx." + string(c) }

const (
	// ContextKeyTenantId scopes store queries to one tenant.
	ContextKeyTenantId ContextKey = "tenant_id"
	// ContextKeyClientId is the OAuth client behind a bearer token.
	ContextKeyClientId ContextKey = "client_id"
	// ContextKeyScopes holds the token's granted scopes as []string.
	ContextKeyScopes        ContextKey = "scopes"
	ContextKeyCorrelationId ContextKey = "correlation_id"
	// ContextKeySkipTenantScope is set by sweeps that walk every tenant.
	ContextKeySkipTenantScope ContextKey = "skip_tenant_scope"
)

// Get returns the value stored under key when it has type T.
func Get[T any](ctx context.Context, key ContextKey) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}
