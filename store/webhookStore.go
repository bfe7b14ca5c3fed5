package store

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WebhookStore struct {
	db *gorm.DB
}

func NewWebhookStore(db *gorm.DB) *WebhookStore {
	return &WebhookStore{db: db}
}

func (s *WebhookStore) CreateSubscription(ctx context.Context, sub *models.WebhookSubscription) error {
	return s.db.WithContext(ctx).Create(sub).Error
}

func (s *WebhookStore) GetSubscription(ctx context.Context, id uint) (*models.WebhookSubscription, error) {
	var sub models.WebhookSubscription
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, notFound(err, "webhook subscription %d not found", id)
	}
	return &sub, nil
}

func (s *WebhookStore) ListSubscriptions(ctx context.Context, tenantId string) ([]models.WebhookSubscription, error) {
	var rows []models.WebhookSubscription
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantId).Order("id ASC").Find(&rows).Error
	return rows, err
}

// ListActiveForEvent returns the tenant's active subscriptions whose event set
// contains eventType.
func (s *WebhookStore) ListActiveForEvent(ctx context.Context, tenantId, eventType string) ([]models.WebhookSubscription, error) {
	var rows []models.WebhookSubscription
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantId, models.WebhookStatusActive).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, sub := range rows {
		if sub.Subscribes(eventType) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *WebhookStore) DeleteSubscription(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.WebhookSubscription{})
	return res.RowsAffected == 1, res.Error
}

func (s *WebhookStore) UpdateSecret(ctx context.Context, id uint, secret string) error {
	return s.db.WithContext(ctx).Model(&models.WebhookSubscription{}).
		Where("id = ?", id).
		Update("secret", secret).Error
}

// EnableSubscription reactivates a subscription and forgets its failure streak.
func (s *WebhookStore) EnableSubscription(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&models.WebhookSubscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.WebhookStatusActive,
			"failure_count": 0,
			"disabled_at":   nil,
		}).Error
}

func (s *WebhookStore) RecordSuccess(ctx context.Context, id uint, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.WebhookSubscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"failure_count": 0, "last_delivery_at": at}).Error
}

// RecordFailure bumps the consecutive-failure count and disables the
// subscription once it reaches the cap. It reports whether it disabled.
func (s *WebhookStore) RecordFailure(ctx context.Context, id uint, at time.Time) (bool, error) {
	disabled := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.WebhookSubscription{}).
			Where("id = ?", id).
			Update("failure_count", gorm.Expr("failure_count + 1")).Error; err != nil {
			return err
		}
		res := tx.Model(&models.WebhookSubscription{}).
			Where("id = ? AND status = ? AND failure_count >= ?", id, models.WebhookStatusActive, models.WebhookMaxAttempts).
			Updates(map[string]interface{}{"status": models.WebhookStatusDisabled, "disabled_at": at})
		disabled = res.RowsAffected == 1
		return res.Error
	})
	return disabled, err
}

func (s *WebhookStore) DisableSubscription(ctx context.Context, id uint, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.WebhookSubscription{}).
		Where("id = ? AND status = ?", id, models.WebhookStatusActive).
		Updates(map[string]interface{}{"status": models.WebhookStatusDisabled, "disabled_at": at})
	return res.RowsAffected == 1, res.Error
}

func (s *WebhookStore) CreateDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	return s.db.WithContext(ctx).Create(d).Error
}

func (s *WebhookStore) ListDeliveries(ctx context.Context, subscriptionId uint, limit int) ([]models.WebhookDelivery, error) {
	var rows []models.WebhookDelivery
	err := s.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionId).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ClaimDueDeliveries locks up to limit retryable deliveries for lockedBy.
// Eligible rows failed, have attempts left, are due, and are either unlocked
// or held by a lock older than staleBefore.
func (s *WebhookStore) ClaimDueDeliveries(ctx context.Context, now, staleBefore time.Time, limit int, lockedBy string) ([]models.WebhookDelivery, error) {
	var claimed []models.WebhookDelivery
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("success = ? AND attempt_number < ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", false, models.WebhookMaxAttempts, now).
			Where("locked_at IS NULL OR locked_at <= ?", staleBefore).
			Order("created_at ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		ids := make([]uint, 0, len(claimed))
		for i := range claimed {
			ids = append(ids, claimed[i].ID)
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &lockedBy
		}
		return tx.Model(&models.WebhookDelivery{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{"locked_at": now, "locked_by": lockedBy}).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// DeliveryAttempt is the outcome of one retry written back to its delivery.
type DeliveryAttempt struct {
	AttemptNumber int
	ResponseCode  int
	DurationMs    int64
	Success       bool
	AttemptedAt   time.Time
	NextRetryAt   *time.Time
	Error         *string
}

// CompleteAttempt writes the attempt and releases the row's lock.
func (s *WebhookStore) CompleteAttempt(ctx context.Context, id uint, a DeliveryAttempt) error {
	return s.db.WithContext(ctx).Model(&models.WebhookDelivery{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempt_number":  a.AttemptNumber,
			"response_code":   a.ResponseCode,
			"duration_ms":     a.DurationMs,
			"success":         a.Success,
			"last_attempt_at": a.AttemptedAt,
			"next_retry_at":   a.NextRetryAt,
			"last_error":      a.Error,
			"locked_at":       nil,
			"locked_by":       nil,
		}).Error
}

// ReleaseDelivery unlocks a claimed row and takes it out of the retry queue.
func (s *WebhookStore) ReleaseDelivery(ctx context.Context, id uint, reason string) error {
	return s.db.WithContext(ctx).Model(&models.WebhookDelivery{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"next_retry_at": nil,
			"last_error":    &reason,
			"locked_at":     nil,
			"locked_by":     nil,
		}).Error
}

// UnlockDelivery clears a claim and leaves the row's retry schedule as is.
func (s *WebhookStore) UnlockDelivery(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&models.WebhookDelivery{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"locked_at": nil, "locked_by": nil}).Error
}
