package store

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/models"
	"gorm.io/gorm"
)

type IntegrationStore struct {
	db *gorm.DB
}

func NewIntegrationStore(db *gorm.DB) *IntegrationStore {
	return &IntegrationStore{db: db}
}

func (s *IntegrationStore) GetIntegration(ctx context.Context, id uint) (*models.Integration, error) {
	var row models.Integration
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, "integration %d not found", id)
	}
	return &row, nil
}

func (s *IntegrationStore) ListIntegrations(ctx context.Context, tenantId string) ([]models.Integration, error) {
	var rows []models.Integration
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantId).Order("id ASC").Find(&rows).Error
	return rows, err
}

// ListMonitored returns every integration that is not disconnected. Callers
// sweeping across tenants pass a context with tenant scoping skipped.
func (s *IntegrationStore) ListMonitored(ctx context.Context) ([]models.Integration, error) {
	var rows []models.Integration
	err := s.db.WithContext(ctx).
		Where("status <> ?", models.IntegrationStatusDisconnected).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// SaveConnection connects (or reconnects) in's tenant to in's platform. An
// existing row for the pair is reused and its credentials replaced.
func (s *IntegrationStore) SaveConnection(ctx context.Context, in *models.Integration) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Integration
		err := tx.Where("tenant_id = ? AND platform = ?", in.TenantId, in.Platform).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			in.Status = models.IntegrationStatusConnected
			return tx.Create(in).Error
		}
		if err != nil {
			return err
		}
		if existing.Status == models.IntegrationStatusSyncing {
			return ErrIntegrationBusy
		}
		updates := map[string]interface{}{
			"status":           models.IntegrationStatusConnected,
			"category":         in.Category,
			"auth_type":        in.AuthType,
			"access_token":     in.AccessToken,
			"refresh_token":    in.RefreshToken,
			"token_expires_at": in.TokenExpiresAt,
			"external_account": in.ExternalAccount,
			"error_message":    "",
			"disconnected_at":  nil,
		}
		if in.ConflictStrategy != "" {
			updates["conflict_strategy"] = in.ConflictStrategy
		}
		if len(in.FieldMappings) > 0 {
			updates["field_mappings"] = in.FieldMappings
		}
		if err := tx.Model(&models.Integration{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", existing.ID).First(in).Error
	})
}

var ErrIntegrationBusy = errors.New("integration is syncing")

// Disconnect clears credentials. A syncing integration cannot be disconnected.
func (s *IntegrationStore) Disconnect(ctx context.Context, id uint, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Integration{}).
		Where("id = ? AND status <> ?", id, models.IntegrationStatusSyncing).
		Updates(map[string]interface{}{
			"status":           models.IntegrationStatusDisconnected,
			"access_token":     "",
			"refresh_token":    "",
			"token_expires_at": nil,
			"disconnected_at":  now,
		})
	return res.RowsAffected == 1, res.Error
}

// BeginSync moves a connected integration to syncing and stamps
// sync_started_at. A row left syncing since staleBefore or earlier is taken
// over, so a crashed run cannot wedge the integration. It reports false when
// neither holds at the moment of the update, which is how concurrent sync
// requests lose the race.
func (s *IntegrationStore) BeginSync(ctx context.Context, id uint, now, staleBefore time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Integration{}).
		Where("id = ?", id).
		Where("status = ? OR (status = ? AND (sync_started_at IS NULL OR sync_started_at <= ?))",
			models.IntegrationStatusConnected, models.IntegrationStatusSyncing, staleBefore).
		Updates(map[string]interface{}{
			"status":          models.IntegrationStatusSyncing,
			"sync_started_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

// FinishSync leaves the syncing state. An empty errMessage returns the
// integration to connected; otherwise it lands in error.
func (s *IntegrationStore) FinishSync(ctx context.Context, id uint, logStatus string, errMessage string, at time.Time) error {
	status := models.IntegrationStatusConnected
	if errMessage != "" {
		status = models.IntegrationStatusError
	}
	return s.db.WithContext(ctx).Model(&models.Integration{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           status,
			"error_message":    errMessage,
			"last_sync_at":     at,
			"last_sync_status": logStatus,
			"sync_started_at":  nil,
		}).Error
}

func (s *IntegrationStore) UpdateCredentials(ctx context.Context, id uint, accessToken, refreshToken string, expiresAt *time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Integration{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_token":     accessToken,
			"refresh_token":    refreshToken,
			"token_expires_at": expiresAt,
		}).Error
}

// MarkError forces an integration into error unless it is mid-sync.
func (s *IntegrationStore) MarkError(ctx context.Context, id uint, message string) error {
	return s.db.WithContext(ctx).Model(&models.Integration{}).
		Where("id = ? AND status <> ?", id, models.IntegrationStatusSyncing).
		Updates(map[string]interface{}{
			"status":        models.IntegrationStatusError,
			"error_message": message,
		}).Error
}
