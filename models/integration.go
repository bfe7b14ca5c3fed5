package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	IntegrationStatusDisconnected = "disconnected"
	IntegrationStatusConnected    = "connected"
	IntegrationStatusSyncing      = "syncing"
	IntegrationStatusError        = "error"
)

const (
	AuthTypeOAuth2 = "oauth2"
	AuthTypeAPIKey = "api_key"
)

const (
	PlatformCategoryPOS          = "pos"
	PlatformCategoryAccounting   = "accounting"
	PlatformCategoryPayroll      = "payroll"
	PlatformCategoryProductivity = "productivity"
)

// Integration is a tenant's connection to one external platform. A tenant has
// at most one row per platform; reconnecting reuses it.
type Integration struct {
	ID               uint           `gorm:"primary_key" json:"id"`
	TenantId         string         `gorm:"size:64;not null;index:idx_integration_tenant_platform,unique" json:"tenant_id"`
	Platform         string         `gorm:"size:50;not null;index:idx_integration_tenant_platform,unique" json:"platform"`
	Category         string         `gorm:"size:30" json:"category"`
	Status           string         `gorm:"size:20;not null;index" json:"status"`
	AuthType         string         `gorm:"size:20" json:"auth_type"`
	AccessToken      string         `gorm:"type:text" json:"-"`
	RefreshToken     string         `gorm:"type:text" json:"-"`
	TokenExpiresAt   *time.Time     `json:"token_expires_at"`
	ExternalAccount  string         `gorm:"size:255" json:"external_account"`
	ConflictStrategy string         `gorm:"size:30;not null;default:'newest_wins'" json:"conflict_strategy"`
	FieldMappings    datatypes.JSON `json:"field_mappings"`
	LastSyncAt       *time.Time     `json:"last_sync_at"`
	LastSyncStatus   string         `gorm:"size:20" json:"last_sync_status"`
	SyncStartedAt    *time.Time     `json:"sync_started_at"`
	ErrorMessage     string         `gorm:"type:text" json:"error_message"`
	DisconnectedAt   *time.Time     `json:"disconnected_at"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncAbandoned reports whether a syncing integration started at or before
// staleBefore, or has no start time recorded.
func (in Integration) SyncAbandoned(staleBefore time.Time) bool {
	return in.SyncStartedAt == nil || !in.SyncStartedAt.After(staleBefore)
}

// CanonicalRecord is the platform's own copy of a business entity.
type CanonicalRecord struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	TenantId   string         `gorm:"size:64;not null;index:idx_canonical_tenant_entity,priority:1" json:"tenant_id"`
	EntityType string         `gorm:"size:50;not null;index:idx_canonical_tenant_entity,priority:2" json:"entity_type"`
	Data       datatypes.JSON `gorm:"not null" json:"data"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"index" json:"updated_at"`
}

type IntegrationEntityMapping struct {
	ID                uint       `gorm:"primary_key" json:"id"`
	IntegrationId     uint       `gorm:"uniqueIndex:idx_integration_mapping,priority:1;not null" json:"integration_id"`
	TenantId          string     `gorm:"size:64;not null;index" json:"tenant_id"`
	EntityType        string     `gorm:"uniqueIndex:idx_integration_mapping,priority:2;size:50;not null" json:"entity_type"`
	ExternalId        string     `gorm:"uniqueIndex:idx_integration_mapping,priority:3;size:128;not null" json:"external_id"`
	CanonicalId       string     `gorm:"size:36;not null;index" json:"canonical_id"`
	ExternalUpdatedAt *time.Time `json:"external_updated_at"`
	LastSeenAt        *time.Time `json:"last_seen_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
