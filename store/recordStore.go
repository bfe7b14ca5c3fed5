package store

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RecordStore persists canonical records and the external-id mappings that
// tie them to each integration.
type RecordStore struct {
	db *gorm.DB
}

func NewRecordStore(db *gorm.DB) *RecordStore {
	return &RecordStore{db: db}
}

// FindMapping returns nil, nil when the external record was never seen.
func (s *RecordStore) FindMapping(ctx context.Context, integrationId uint, entityType, externalId string) (*models.IntegrationEntityMapping, error) {
	var m models.IntegrationEntityMapping
	err := s.db.WithContext(ctx).
		Where("integration_id = ? AND entity_type = ? AND external_id = ?", integrationId, entityType, externalId).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *RecordStore) GetCanonical(ctx context.Context, id string) (*models.CanonicalRecord, error) {
	var rec models.CanonicalRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, notFound(err, "canonical record %s not found", id)
	}
	return &rec, nil
}

// SaveCanonical writes rec and points the mapping at it. A record without an
// id is created; the return value reports whether that happened.
func (s *RecordStore) SaveCanonical(ctx context.Context, rec *models.CanonicalRecord, mapping *models.IntegrationEntityMapping, now time.Time) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec.UpdatedAt = now
		if rec.ID == "" {
			rec.ID = uuid.NewString()
			created = true
			if err := tx.Create(rec).Error; err != nil {
				return err
			}
		} else if err := tx.Model(&models.CanonicalRecord{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{"data": rec.Data, "updated_at": now}).Error; err != nil {
			return err
		}

		mapping.CanonicalId = rec.ID
		mapping.LastSeenAt = &now
		if mapping.ID == 0 {
			return tx.Create(mapping).Error
		}
		return tx.Model(&models.IntegrationEntityMapping{}).
			Where("id = ?", mapping.ID).
			Updates(map[string]interface{}{
				"canonical_id":        mapping.CanonicalId,
				"external_updated_at": mapping.ExternalUpdatedAt,
				"last_seen_at":        now,
			}).Error
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// ListForPush returns the tenant's canonical records of entityType, either the
// given ids or every record updated at or after since.
func (s *RecordStore) ListForPush(ctx context.Context, tenantId, entityType string, ids []string, since *time.Time) ([]models.CanonicalRecord, error) {
	q := s.db.WithContext(ctx).Where("tenant_id = ? AND entity_type = ?", tenantId, entityType)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	if since != nil {
		q = q.Where("updated_at >= ?", *since)
	}
	var rows []models.CanonicalRecord
	err := q.Order("updated_at ASC").Find(&rows).Error
	return rows, err
}

// ExternalIds maps canonical id to external id for one integration.
func (s *RecordStore) ExternalIds(ctx context.Context, integrationId uint, entityType string, canonicalIds []string) (map[string]string, error) {
	out := map[string]string{}
	if len(canonicalIds) == 0 {
		return out, nil
	}
	var rows []models.IntegrationEntityMapping
	if err := s.db.WithContext(ctx).
		Where("integration_id = ? AND entity_type = ? AND canonical_id IN ?", integrationId, entityType, canonicalIds).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.CanonicalId] = r.ExternalId
	}
	return out, nil
}

// SaveMapping records the external id a push created for a canonical record.
func (s *RecordStore) SaveMapping(ctx context.Context, mapping *models.IntegrationEntityMapping) error {
	if mapping.ID != 0 {
		return s.db.WithContext(ctx).Save(mapping).Error
	}
	err := s.db.WithContext(ctx).Create(mapping).Error
	if isDuplicateKeyErr(err) {
		return s.db.WithContext(ctx).Model(&models.IntegrationEntityMapping{}).
			Where("integration_id = ? AND entity_type = ? AND external_id = ?", mapping.IntegrationId, mapping.EntityType, mapping.ExternalId).
			Updates(map[string]interface{}{"canonical_id": mapping.CanonicalId, "last_seen_at": mapping.LastSeenAt}).Error
	}
	return err
}
