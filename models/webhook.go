package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	WebhookStatusActive   = "active"
	WebhookStatusDisabled = "disabled"
)

// WebhookMaxAttempts is both the retry cap for one delivery chain and the
// consecutive-failure count that disables a subscription.
const WebhookMaxAttempts = 5

const WebhookEventWildcard = "*"

const (
	EventIntegrationConnected    = "integration.connected"
	EventIntegrationDisconnected = "integration.disconnected"
	EventIntegrationUnhealthy    = "integration.unhealthy"
	EventSyncCompleted           = "sync.completed"
	EventSyncFailed              = "sync.failed"
	EventWebhookTest             = "webhook.test"
)

// EventTypes lists every event a subscription may listen for.
var EventTypes = []string{
	EventIntegrationConnected,
	EventIntegrationDisconnected,
	EventIntegrationUnhealthy,
	EventSyncCompleted,
	EventSyncFailed,
	EventWebhookTest,
}

type WebhookSubscription struct {
	ID             uint           `gorm:"primary_key" json:"id"`
	TenantId       string         `gorm:"size:64;not null;index" json:"tenant_id"`
	ClientId       string         `gorm:"size:64;index" json:"client_id"`
	URL            string         `gorm:"type:text;not null" json:"url"`
	Secret         string         `gorm:"size:100;not null" json:"-"`
	EventTypes     datatypes.JSON `gorm:"not null" json:"event_types"`
	Description    string         `gorm:"size:255" json:"description"`
	Status         string         `gorm:"size:20;not null;default:'active';index" json:"status"`
	FailureCount   int            `gorm:"not null;default:0" json:"failure_count"`
	LastDeliveryAt *time.Time     `json:"last_delivery_at"`
	DisabledAt     *time.Time     `json:"disabled_at"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s WebhookSubscription) EventTypeList() []string { return DecodeStrings(s.EventTypes) }

// Subscribes reports whether eventType is in the subscription's event set.
func (s WebhookSubscription) Subscribes(eventType string) bool {
	for _, t := range s.EventTypeList() {
		if t == eventType || t == WebhookEventWildcard {
			return true
		}
	}
	return false
}

// WebhookDelivery is one delivery chain of an event to a subscription. The
// dispatcher creates it; the retry scheduler is the only writer afterwards.
type WebhookDelivery struct {
	ID             uint           `gorm:"primary_key" json:"id"`
	SubscriptionId uint           `gorm:"not null;index" json:"subscription_id"`
	TenantId       string         `gorm:"size:64;not null;index" json:"tenant_id"`
	EventId        string         `gorm:"size:40;not null;index" json:"event_id"`
	EventType      string         `gorm:"size:100;not null" json:"event_type"`
	Payload        datatypes.JSON `gorm:"not null" json:"payload"`
	ResponseCode   int            `json:"response_code"`
	DurationMs     int64          `json:"duration_ms"`
	Success        bool           `gorm:"not null;default:false;index:idx_delivery_retry,priority:1" json:"success"`
	AttemptNumber  int            `gorm:"not null;default:1" json:"attempt_number"`
	NextRetryAt    *time.Time     `gorm:"index:idx_delivery_retry,priority:2" json:"next_retry_at"`
	LastAttemptAt  *time.Time     `json:"last_attempt_at"`
	LastError      *string        `gorm:"type:text" json:"last_error"`
	LockedAt       *time.Time     `gorm:"index" json:"-"`
	LockedBy       *string        `gorm:"size:100" json:"-"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
