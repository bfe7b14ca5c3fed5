package webhook

import (
	"context"
	"io"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/config"
	"bitbucket.org/mmdatafocus/integration_platform/models"
	"bitbucket.org/mmdatafocus/integration_platform/store"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeStore struct {
	mu         sync.Mutex
	subs       map[uint]*models.WebhookSubscription
	deliveries map[uint]*models.WebhookDelivery
	jobs       []*models.JobRun
	released   []uint
	unlocked   []uint
	subErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{subs: map[uint]*models.WebhookSubscription{}, deliveries: map[uint]*models.WebhookDelivery{}}
}

func (f *fakeStore) addSub(url, secret string, events ...string) *models.WebhookSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &models.WebhookSubscription{
		ID:         uint(len(f.subs) + 1),
		TenantId:   "tenant-1",
		URL:        url,
		Secret:     secret,
		EventTypes: models.EncodeJSON(events),
		Status:     models.WebhookStatusActive,
	}
	f.subs[sub.ID] = sub
	return sub
}

func (f *fakeStore) sub(id uint) models.WebhookSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.subs[id]
}

func (f *fakeStore) delivery(id uint) models.WebhookDelivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.deliveries[id]
}

func (f *fakeStore) allDeliveries() []models.WebhookDelivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.WebhookDelivery, 0, len(f.deliveries))
	for i := uint(1); i <= uint(len(f.deliveries)); i++ {
		out = append(out, *f.deliveries[i])
	}
	return out
}

func (f *fakeStore) ListActiveForEvent(_ context.Context, tenantId, eventType string) ([]models.WebhookSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WebhookSubscription
	for i := uint(1); i <= uint(len(f.subs)); i++ {
		s, ok := f.subs[i]
		if ok && s.TenantId == tenantId && s.Status == models.WebhookStatusActive && s.Subscribes(eventType) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateDelivery(_ context.Context, d *models.WebhookDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.ID = uint(len(f.deliveries) + 1)
	cp := *d
	f.deliveries[d.ID] = &cp
	return nil
}

func (f *fakeStore) RecordSuccess(_ context.Context, id uint, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.subs[id]
	s.FailureCount = 0
	s.LastDeliveryAt = &at
	return nil
}

func (f *fakeStore) RecordFailure(_ context.Context, id uint, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.subs[id]
	s.FailureCount++
	if s.FailureCount >= models.WebhookMaxAttempts && s.Status == models.WebhookStatusActive {
		s.Status = models.WebhookStatusDisabled
		s.DisabledAt = &at
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) DisableSubscription(_ context.Context, id uint, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.subs[id]
	if s.Status != models.WebhookStatusActive {
		return false, nil
	}
	s.Status = models.WebhookStatusDisabled
	s.DisabledAt = &at
	return true, nil
}

func (f *fakeStore) ClaimDueDeliveries(_ context.Context, now, _ time.Time, limit int, lockedBy string) ([]models.WebhookDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WebhookDelivery
	for i := uint(1); i <= uint(len(f.deliveries)) && len(out) < limit; i++ {
		d := f.deliveries[i]
		if d.Success || d.NextRetryAt == nil || d.NextRetryAt.After(now) || d.LockedBy != nil {
			continue
		}
		by := lockedBy
		d.LockedBy = &by
		d.LockedAt = &now
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeStore) GetSubscription(_ context.Context, id uint) (*models.WebhookSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	s, ok := f.subs[id]
	if !ok {
		return nil, utils.NewNotFoundError("webhook subscription %d not found", id)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) CompleteAttempt(_ context.Context, id uint, a store.DeliveryAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.deliveries[id]
	d.AttemptNumber = a.AttemptNumber
	d.ResponseCode = a.ResponseCode
	d.DurationMs = a.DurationMs
	d.Success = a.Success
	at := a.AttemptedAt
	d.LastAttemptAt = &at
	d.NextRetryAt = a.NextRetryAt
	d.LastError = a.Error
	d.LockedAt = nil
	d.LockedBy = nil
	return nil
}

func (f *fakeStore) ReleaseDelivery(_ context.Context, id uint, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.deliveries[id]
	d.NextRetryAt = nil
	d.LockedAt = nil
	d.LockedBy = nil
	d.LastError = &reason
	f.released = append(f.released, id)
	return nil
}

func (f *fakeStore) UnlockDelivery(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.deliveries[id]
	d.LockedAt = nil
	d.LockedBy = nil
	f.unlocked = append(f.unlocked, id)
	return nil
}

func (f *fakeStore) CreateJobRun(_ context.Context, run *models.JobRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, run)
	return nil
}

func (f *fakeStore) CreateSubscription(_ context.Context, sub *models.WebhookSubscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub.ID = uint(len(f.subs) + 1)
	cp := *sub
	f.subs[sub.ID] = &cp
	return nil
}

func (f *fakeStore) ListSubscriptions(_ context.Context, tenantId string) ([]models.WebhookSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WebhookSubscription
	for _, s := range f.subs {
		if s.TenantId == tenantId {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteSubscription(_ context.Context, id uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[id]; !ok {
		return false, nil
	}
	delete(f.subs, id)
	return true, nil
}

func (f *fakeStore) UpdateSecret(_ context.Context, id uint, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[id].Secret = secret
	return nil
}

func (f *fakeStore) EnableSubscription(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.subs[id]
	s.Status = models.WebhookStatusActive
	s.FailureCount = 0
	s.DisabledAt = nil
	return nil
}

func (f *fakeStore) ListDeliveries(_ context.Context, subscriptionId uint, limit int) ([]models.WebhookDelivery, error) {
	var out []models.WebhookDelivery
	for _, d := range f.allDeliveries() {
		if d.SubscriptionId == subscriptionId && len(out) < limit {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLocker) Obtain(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, config.ErrLockNotObtained
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, nil
}
