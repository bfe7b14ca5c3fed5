package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/integration_platform/appctx"
)

var (
	ContextKeyTenantId        = appctx.ContextKeyTenantId
	ContextKeyClientId        = appctx.ContextKeyClientId
	ContextKeyScopes          = appctx.ContextKeyScopes
	ContextKeyCorrelationId   = appctx.ContextKeyCorrelationId
	ContextKeySkipTenantScope = appctx.ContextKeySkipTenantScope
)

func GetTenantIdFromContext(ctx context.Context) (string, bool) {
	return appctx.Get[string](ctx, ContextKeyTenantId)
}

func GetClientIdFromContext(ctx context.Context) (string, bool) {
	return appctx.Get[string](ctx, ContextKeyClientId)
}

func GetScopesFromContext(ctx context.Context) ([]string, bool) {
	return appctx.Get[[]string](ctx, ContextKeyScopes)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.Get[string](ctx, ContextKeyCorrelationId)
}

func GetSkipTenantScopeFromContext(ctx context.Context) (bool, bool) {
	return appctx.Get[bool](ctx, ContextKeySkipTenantScope)
}

func SetTenantIdInContext(ctx context.Context, tenantId string) context.Context {
	return appctx.Set(ctx, ContextKeyTenantId, tenantId)
}

func SetClientIdInContext(ctx context.Context, clientId string) context.Context {
	return appctx.Set(ctx, ContextKeyClientId, clientId)
}

func SetScopesInContext(ctx context.Context, scopes []string) context.Context {
	return appctx.Set(ctx, ContextKeyScopes, scopes)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func SetSkipTenantScopeInContext(ctx context.Context, skip bool) context.Context {
	return appctx.Set(ctx, ContextKeySkipTenantScope, skip)
}

// HasScope reports whether the authenticated caller was granted scope.
func HasScope(ctx context.Context, scope string) bool {
	scopes, _ := GetScopesFromContext(ctx)
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}
