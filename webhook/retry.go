package webhook

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/config"
	"bitbucket.org/mmdatafocus/integration_platform/models"
	"bitbucket.org/mmdatafocus/integration_platform/store"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const retrySweepLockKey = "webhook-retry-sweep"

type RetryStore interface {
	ClaimDueDeliveries(ctx context.Context, now, staleBefore time.Time, limit int, lockedBy string) ([]models.WebhookDelivery, error)
	GetSubscription(ctx context.Context, id uint) (*models.WebhookSubscription, error)
	CompleteAttempt(ctx context.Context, id uint, a store.DeliveryAttempt) error
	ReleaseDelivery(ctx context.Context, id uint, reason string) error
	UnlockDelivery(ctx context.Context, id uint) error
	RecordSuccess(ctx context.Context, id uint, at time.Time) error
	RecordFailure(ctx context.Context, id uint, at time.Time) (bool, error)
	DisableSubscription(ctx context.Context, id uint, at time.Time) (bool, error)
}

type JobRecorder interface {
	CreateJobRun(ctx context.Context, run *models.JobRun) error
}

type RetryScheduler struct {
	store          RetryStore
	jobs           JobRecorder
	locker         config.Locker
	client         *http.Client
	logger         *logrus.Logger
	dispatcherId   string
	batchSize      int
	lockTimeout    time.Duration
	maxConcurrency int
	now            func() time.Time
}

type RetryOptions struct {
	Timeout        time.Duration
	BatchSize      int
	LockTimeout    time.Duration
	MaxConcurrency int
}

func NewRetryScheduler(s RetryStore, jobs JobRecorder, locker config.Locker, opts RetryOptions, logger *logrus.Logger) *RetryScheduler {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 2 * time.Minute
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 8
	}
	return &RetryScheduler{
		store:          s,
		jobs:           jobs,
		locker:         locker,
		client:         &http.Client{Timeout: opts.Timeout},
		logger:         logger,
		dispatcherId:   uuid.NewString(),
		batchSize:      opts.BatchSize,
		lockTimeout:    opts.LockTimeout,
		maxConcurrency: opts.MaxConcurrency,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

type RetryResult struct {
	Claimed   int  `json:"claimed"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped"`
	Disabled  int  `json:"disabled"`
	LockHeld  bool `json:"lock_held,omitempty"`
}

// RunOnce retries every due delivery it can claim. When another sweep holds
// the sweep lock it returns immediately with LockHeld set.
func (s *RetryScheduler) RunOnce(ctx context.Context, trigger, triggeredBy string) (*RetryResult, error) {
	ctx, span := tracer.Start(ctx, "webhook.RetrySweep")
	defer span.End()
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	if s.locker != nil {
		release, err := s.locker.Obtain(ctx, retrySweepLockKey, s.lockTimeout)
		if errors.Is(err, config.ErrLockNotObtained) {
			return &RetryResult{LockHeld: true}, nil
		}
		if err != nil {
			s.logger.WithFields(logrus.Fields{"field": "WebhookRetryScheduler"}).
				Warn("error obtaining sweep lock; relying on row locks: " + err.Error())
		} else {
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					s.logger.WithFields(logrus.Fields{"field": "WebhookRetryScheduler"}).
						Warn("failed to release sweep lock: " + err.Error())
				}
			}()
		}
	}

	started := s.now()
	result, err := s.sweep(ctx, started)
	s.recordJob(ctx, trigger, triggeredBy, started, result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RetryScheduler) sweep(ctx context.Context, now time.Time) (*RetryResult, error) {
	claimed, err := s.store.ClaimDueDeliveries(ctx, now, now.Add(-s.lockTimeout), s.batchSize, s.dispatcherId)
	if err != nil {
		return nil, err
	}
	result := &RetryResult{Claimed: len(claimed)}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency)
	for i := range claimed {
		d := claimed[i]
		g.Go(func() error {
			outcome := s.retry(gctx, d)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case retrySucceeded:
				result.Succeeded++
			case retrySkipped:
				result.Skipped++
			case retryDisabled:
				result.Failed++
				result.Disabled++
			default:
				result.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()
	return result, nil
}

type retryOutcome int

const (
	retryFailed retryOutcome = iota
	retrySucceeded
	retrySkipped
	retryDisabled
)

func (s *RetryScheduler) retry(ctx context.Context, d models.WebhookDelivery) retryOutcome {
	log := s.logger.WithFields(logrus.Fields{
		"field":           "WebhookRetryScheduler",
		"delivery_id":     d.ID,
		"subscription_id": d.SubscriptionId,
		"event_id":        d.EventId,
	})

	sub, err := s.store.GetSubscription(ctx, d.SubscriptionId)
	if err != nil && !utils.IsKind(err, utils.ErrKindNotFound) {
		// Transient; keep next_retry_at so a later sweep tries again.
		log.Error("load subscription: " + err.Error())
		if uerr := s.store.UnlockDelivery(ctx, d.ID); uerr != nil {
			log.Error("unlock delivery: " + uerr.Error())
		}
		return retrySkipped
	}
	if sub == nil || sub.Status != models.WebhookStatusActive {
		if err := s.store.ReleaseDelivery(ctx, d.ID, "subscription inactive"); err != nil {
			log.Error("release delivery: " + err.Error())
		}
		return retrySkipped
	}

	attempt := d.AttemptNumber + 1
	attemptedAt := s.now()
	res := post(ctx, s.client, sub.URL, sub.Secret, d.EventType, d.EventId, []byte(d.Payload), attempt)

	update := store.DeliveryAttempt{
		AttemptNumber: attempt,
		ResponseCode:  res.statusCode,
		DurationMs:    res.duration.Milliseconds(),
		Success:       res.success(),
		AttemptedAt:   attemptedAt,
	}
	if res.success() {
		if err := s.store.CompleteAttempt(ctx, d.ID, update); err != nil {
			log.Error("record retry success: " + err.Error())
		}
		if err := s.store.RecordSuccess(ctx, sub.ID, attemptedAt); err != nil {
			log.Error("reset failure count: " + err.Error())
		}
		return retrySucceeded
	}

	msg := res.errorMessage()
	update.Error = &msg
	if attempt < models.WebhookMaxAttempts {
		next := NextRetryAt(attemptedAt, attempt)
		update.NextRetryAt = &next
	}
	if err := s.store.CompleteAttempt(ctx, d.ID, update); err != nil {
		log.Error("record retry failure: " + err.Error())
	}
	disabled, err := s.store.RecordFailure(ctx, sub.ID, attemptedAt)
	if err != nil {
		log.Error("record failure: " + err.Error())
	}
	if attempt >= models.WebhookMaxAttempts {
		ok, err := s.store.DisableSubscription(ctx, sub.ID, attemptedAt)
		if err != nil {
			log.Error("disable subscription: " + err.Error())
		}
		disabled = disabled || ok
		log.Warn("delivery exhausted its attempts")
	}
	if disabled {
		return retryDisabled
	}
	return retryFailed
}

func (s *RetryScheduler) recordJob(ctx context.Context, trigger, triggeredBy string, started time.Time, result *RetryResult, runErr error) {
	if s.jobs == nil {
		return
	}
	completed := s.now()
	run := &models.JobRun{
		JobName:       models.JobNameWebhookRetry,
		TriggerSource: trigger,
		TriggeredBy:   triggeredBy,
		Status:        models.JobRunStatusSucceeded,
		StartedAt:     started,
		CompletedAt:   completed,
		DurationMs:    completed.Sub(started).Milliseconds(),
		Result:        models.EncodeJSON(result),
	}
	if runErr != nil {
		run.Status = models.JobRunStatusFailed
		run.ErrorMessage = runErr.Error()
	}
	if err := s.jobs.CreateJobRun(ctx, run); err != nil {
		s.logger.WithFields(logrus.Fields{"field": "WebhookRetryScheduler"}).Warn("write job run: " + err.Error())
	}
}
