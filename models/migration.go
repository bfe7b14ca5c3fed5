package models

import (
	"gorm.io/gorm"
)

// MigrateTable creates or alters every table the platform owns.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Integration{}, &IntegrationEntityMapping{}, &CanonicalRecord{},
		&OAuthApplication{}, &OAuthAuthorizationCode{}, &OAuthToken{},
		&AuditLog{}, &ApiRequestLog{},
		&WebhookSubscription{}, &WebhookDelivery{},
		&SyncLog{}, &SyncError{}, &SyncConflict{},
		&IdempotencyKey{}, &JobRun{},
	)
}
