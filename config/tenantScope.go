package config

import (
	"errors"
	"strings"

	"bitbucket.org/mmdatafocus/integration_platform/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const tenantColumn = "tenant_id"

// TenantScopePlugin adds "tenant_id = ?" to reads, updates and deletes on
// tenant-owned tables when the statement's context names a tenant. Tables
// without a tenant_id column, such as job runs, are left alone. Raw SQL is
// never rewritten.
type TenantScopePlugin struct{}

func NewTenantScopePlugin() *TenantScopePlugin { return &TenantScopePlugin{} }

func (p *TenantScopePlugin) Name() string { return "tenant_scope" }

func (p *TenantScopePlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	return errors.Join(
		cb.Query().Before("gorm:query").Register("tenant_scope:query", scopeToTenant),
		cb.Row().Before("gorm:row").Register("tenant_scope:row", scopeToTenant),
		cb.Update().Before("gorm:update").Register("tenant_scope:update", scopeToTenant),
		cb.Delete().Before("gorm:delete").Register("tenant_scope:delete", scopeToTenant),
	)
}

func scopeToTenant(db *gorm.DB) {
	stmt := db.Statement
	if stmt == nil || stmt.Context == nil || stmt.Schema == nil {
		return
	}
	if skip, _ := appctx.Get[bool](stmt.Context, appctx.ContextKeySkipTenantScope); skip {
		return
	}
	tenantId, _ := appctx.Get[string](stmt.Context, appctx.ContextKeyTenantId)
	if tenantId == "" || stmt.Schema.LookUpField(tenantColumn) == nil {
		return
	}
	if where, ok := stmt.Clauses["WHERE"].Expression.(clause.Where); ok && filtersTenant(where.Exprs...) {
		return
	}
	stmt.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Eq{Column: clause.Column{Table: stmt.Table, Name: tenantColumn}, Value: tenantId},
	}})
}

// filtersTenant reports whether a store already constrained tenant_id itself.
func filtersTenant(exprs ...clause.Expression) bool {
	for _, e := range exprs {
		var col any
		switch v := e.(type) {
		case clause.Eq:
			col = v.Column
		case clause.Neq:
			col = v.Column
		case clause.IN:
			col = v.Column
		case clause.AndConditions:
			if filtersTenant(v.Exprs...) {
				return true
			}
			continue
		case clause.OrConditions:
			if filtersTenant(v.Exprs...) {
				return true
			}
			continue
		case clause.Expr:
			if strings.Contains(strings.ToLower(v.SQL), tenantColumn) {
				return true
			}
			continue
		default:
			continue
		}
		if isTenantColumn(col) {
			return true
		}
	}
	return false
}

func isTenantColumn(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, tenantColumn)
	case clause.Column:
		return strings.EqualFold(c.Name, tenantColumn)
	}
	return false
}
