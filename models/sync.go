package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SyncTypePull = "pull"
	SyncTypePush = "push"
)

const (
	SyncDirectionInbound  = "inbound"
	SyncDirectionOutbound = "outbound"
)

const (
	SyncLogStatusCompleted = "completed"
	SyncLogStatusPartial   = "partial"
	SyncLogStatusFailed    = "failed"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredAPI    = "api"
	SyncTriggeredPubSub = "pubsub"
)

const (
	SyncConflictStatusOpen     = "open"
	SyncConflictStatusResolved = "resolved"
)

// SyncLog is appended once per sync run and never updated.
type SyncLog struct {
	ID                uint      `gorm:"primary_key" json:"id"`
	IntegrationId     uint      `gorm:"not null;index:idx_sync_log_integration,priority:1" json:"integration_id"`
	TenantId          string    `gorm:"size:64;not null;index" json:"tenant_id"`
	Platform          string    `gorm:"size:50" json:"platform"`
	SyncType          string    `gorm:"size:10;not null" json:"sync_type"`
	EntityType        string    `gorm:"size:50;not null" json:"entity_type"`
	Direction         string    `gorm:"size:10;not null" json:"direction"`
	RecordsProcessed  int       `json:"records_processed"`
	RecordsCreated    int       `json:"records_created"`
	RecordsUpdated    int       `json:"records_updated"`
	RecordsFailed     int       `json:"records_failed"`
	RecordsConflicted int       `json:"records_conflicted"`
	Status            string    `gorm:"size:20;not null;index" json:"status"`
	ErrorMessage      string    `gorm:"type:text" json:"error_message"`
	TriggeredBy       string    `gorm:"size:20" json:"triggered_by"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `gorm:"index:idx_sync_log_integration,priority:2" json:"finished_at"`
	DurationMs        int64     `json:"duration_ms"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type SyncError struct {
	ID            uint           `gorm:"primary_key" json:"id"`
	SyncLogId     uint           `gorm:"not null;index" json:"sync_log_id"`
	IntegrationId uint           `gorm:"not null" json:"integration_id"`
	TenantId      string         `gorm:"size:64;not null" json:"tenant_id"`
	EntityType    string         `gorm:"size:50" json:"entity_type"`
	ExternalId    string         `gorm:"size:128" json:"external_id"`
	ErrorCode     string         `gorm:"size:64" json:"error_code"`
	Message       string         `gorm:"type:text" json:"message"`
	Payload       datatypes.JSON `json:"payload"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// SyncConflict holds a record the manual strategy refused to merge.
type SyncConflict struct {
	ID            uint           `gorm:"primary_key" json:"id"`
	IntegrationId uint           `gorm:"not null;index" json:"integration_id"`
	TenantId      string         `gorm:"size:64;not null;index" json:"tenant_id"`
	EntityType    string         `gorm:"size:50;not null" json:"entity_type"`
	ExternalId    string         `gorm:"size:128;not null" json:"external_id"`
	CanonicalId   string         `gorm:"size:36;not null" json:"canonical_id"`
	Conflicts     datatypes.JSON `gorm:"not null" json:"conflicts"`
	ExternalData  datatypes.JSON `json:"external_data"`
	Status        string         `gorm:"size:20;not null;default:'open';index" json:"status"`
	ResolvedAt    *time.Time     `json:"resolved_at"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
