package store

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/models"
	"gorm.io/gorm"
)

// LogStore covers the append-only operational tables: API request logs and
// job run history.
type LogStore struct {
	db *gorm.DB
}

func NewLogStore(db *gorm.DB) *LogStore {
	return &LogStore{db: db}
}

func (s *LogStore) CreateRequestLog(ctx context.Context, entry *models.ApiRequestLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// CountRequests counts clientId's logged requests at or after since.
func (s *LogStore) CountRequests(ctx context.Context, clientId string, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.ApiRequestLog{}).
		Where("client_id = ? AND created_at >= ?", clientId, since).
		Count(&n).Error
	return n, err
}

func (s *LogStore) DeleteRequestLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.ApiRequestLog{})
	return res.RowsAffected, res.Error
}

func (s *LogStore) CreateJobRun(ctx context.Context, run *models.JobRun) error {
	return s.db.WithContext(ctx).Create(run).Error
}
