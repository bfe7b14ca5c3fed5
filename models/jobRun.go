package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	JobNameWebhookRetry = "webhook_retry"
	JobNameHealthSweep  = "health_sweep"
	JobNameCleanup      = "cleanup"
)

const (
	JobRunStatusSucceeded = "succeeded"
	JobRunStatusFailed    = "failed"
)

const (
	JobTriggerHTTP = "http"
	JobTriggerCLI  = "cli"
)

type JobRun struct {
	ID            uint           `gorm:"primary_key" json:"id"`
	JobName       string         `gorm:"size:64;not null;index" json:"job_name"`
	TriggerSource string         `gorm:"size:20" json:"trigger_source"`
	TriggeredBy   string         `gorm:"size:100" json:"triggered_by"`
	Status        string         `gorm:"size:20;not null" json:"status"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   time.Time      `json:"completed_at"`
	DurationMs    int64          `json:"duration_ms"`
	Result        datatypes.JSON `json:"result"`
	ErrorMessage  string         `gorm:"type:text" json:"error_message"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
}
