package store

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/models"
	"gorm.io/gorm"
)

type SyncStore struct {
	db *gorm.DB
}

func NewSyncStore(db *gorm.DB) *SyncStore {
	return &SyncStore{db: db}
}

// CreateSyncLog appends log and its per-record errors together.
func (s *SyncStore) CreateSyncLog(ctx context.Context, log *models.SyncLog, syncErrors []models.SyncError) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(log).Error; err != nil {
			return err
		}
		if len(syncErrors) == 0 {
			return nil
		}
		for i := range syncErrors {
			syncErrors[i].SyncLogId = log.ID
		}
		return tx.CreateInBatches(syncErrors, 100).Error
	})
}

func (s *SyncStore) ListSyncLogs(ctx context.Context, integrationId uint, limit, offset int) ([]models.SyncLog, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.SyncLog{}).Where("integration_id = ?", integrationId).Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.SyncLog
	err := q.Order("finished_at DESC, id DESC").Limit(limit).Offset(offset).Find(&rows).Error
	return rows, total, err
}

func (s *SyncStore) ListSyncLogsBetween(ctx context.Context, integrationId uint, from, to time.Time) ([]models.SyncLog, error) {
	var rows []models.SyncLog
	err := s.db.WithContext(ctx).
		Where("integration_id = ? AND finished_at >= ? AND finished_at < ?", integrationId, from, to).
		Order("finished_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// LatestSyncLog returns nil, nil for an integration that never synced.
func (s *SyncStore) LatestSyncLog(ctx context.Context, integrationId uint) (*models.SyncLog, error) {
	var row models.SyncLog
	err := s.db.WithContext(ctx).
		Where("integration_id = ?", integrationId).
		Order("finished_at DESC, id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *SyncStore) CountFailedSince(ctx context.Context, integrationId uint, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.SyncLog{}).
		Where("integration_id = ? AND status = ? AND finished_at >= ?", integrationId, models.SyncLogStatusFailed, since).
		Count(&n).Error
	return n, err
}

func (s *SyncStore) ListSyncErrors(ctx context.Context, syncLogId uint) ([]models.SyncError, error) {
	var rows []models.SyncError
	err := s.db.WithContext(ctx).Where("sync_log_id = ?", syncLogId).Order("id ASC").Find(&rows).Error
	return rows, err
}

func (s *SyncStore) CreateConflict(ctx context.Context, c *models.SyncConflict) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *SyncStore) ListConflicts(ctx context.Context, integrationId uint, status string) ([]models.SyncConflict, error) {
	q := s.db.WithContext(ctx).Where("integration_id = ?", integrationId)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []models.SyncConflict
	err := q.Order("id ASC").Find(&rows).Error
	return rows, err
}

func (s *SyncStore) GetConflict(ctx context.Context, id uint) (*models.SyncConflict, error) {
	var row models.SyncConflict
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, "sync conflict %d not found", id)
	}
	return &row, nil
}

// ResolveConflict closes an open conflict and reports whether this call did it.
func (s *SyncStore) ResolveConflict(ctx context.Context, id uint, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.SyncConflict{}).
		Where("id = ? AND status = ?", id, models.SyncConflictStatusOpen).
		Updates(map[string]interface{}{"status": models.SyncConflictStatusResolved, "resolved_at": now})
	return res.RowsAffected == 1, res.Error
}
