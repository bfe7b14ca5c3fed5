package health

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/config"
	"bitbucket.org/mmdatafocus/integration_platform/models"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("integration_platform/health")

const sweepLockKey = "integration-health-sweep"

type Store interface {
	ListMonitored(ctx context.Context) ([]models.Integration, error)
	GetIntegration(ctx context.Context, id uint) (*models.Integration, error)
	LatestSyncLog(ctx context.Context, integrationId uint) (*models.SyncLog, error)
	CountFailedSince(ctx context.Context, integrationId uint, since time.Time) (int64, error)
	MarkError(ctx context.Context, id uint, message string) error
}

type JobRecorder interface {
	CreateJobRun(ctx context.Context, run *models.JobRun) error
}

type EventPublisher interface {
	Publish(ctx context.Context, tenantId, eventType string, data interface{}) error
}

type Monitor struct {
	store       Store
	jobs        JobRecorder
	events      EventPublisher
	locker      config.Locker
	logger      *logrus.Logger
	concurrency int
	now         func() time.Time
}

func NewMonitor(s Store, jobs JobRecorder, events EventPublisher, locker config.Locker, logger *logrus.Logger) *Monitor {
	return &Monitor{
		store:       s,
		jobs:        jobs,
		events:      events,
		locker:      locker,
		logger:      logger,
		concurrency: 8,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type Result struct {
	IntegrationId uint    `json:"integration_id"`
	TenantId      string  `json:"tenant_id"`
	Platform      string  `json:"platform"`
	OverallStatus string  `json:"overall_status"`
	Checks        []Check `json:"checks"`
}

type SweepResult struct {
	Checked  int      `json:"checked"`
	Results  []Result `json:"results"`
	LockHeld bool     `json:"lock_held,omitempty"`
}

func (r *SweepResult) summary() map[string]int {
	out := map[string]int{"checked": r.Checked}
	for _, res := range r.Results {
		out[res.OverallStatus]++
	}
	return out
}

// Check evaluates one integration. An expired credential forces the
// integration into error as a side effect.
func (m *Monitor) Check(ctx context.Context, integrationId uint) (*Result, error) {
	integ, err := m.store.GetIntegration(ctx, integrationId)
	if err != nil {
		return nil, err
	}
	return m.evaluate(ctx, *integ)
}

func (m *Monitor) evaluate(ctx context.Context, integ models.Integration) (*Result, error) {
	now := m.now()
	last, err := m.store.LatestSyncLog(ctx, integ.ID)
	if err != nil {
		return nil, err
	}
	failures, err := m.store.CountFailedSince(ctx, integ.ID, now.Add(-errorRateWindow))
	if err != nil {
		return nil, err
	}

	expiry := credentialExpiry(integ.TokenExpiresAt, now)
	checks := []Check{
		syncRecency(integ.LastSyncAt, now),
		lastSyncOutcome(last),
		errorRate(failures),
		expiry,
	}
	if expiry.Status == StatusFail && integ.Status != models.IntegrationStatusError {
		if err := m.store.MarkError(ctx, integ.ID, ExpiredCredentialsMessage); err != nil {
			return nil, err
		}
		m.log(integ).Warn("credentials expired; integration moved to error")
	}

	return &Result{
		IntegrationId: integ.ID,
		TenantId:      integ.TenantId,
		Platform:      integ.Platform,
		OverallStatus: Verdict(checks),
		Checks:        checks,
	}, nil
}

// Sweep checks every monitored integration across all tenants. One
// integration's failure is logged and does not stop the rest.
func (m *Monitor) Sweep(ctx context.Context, trigger, triggeredBy string) (*SweepResult, error) {
	ctx, span := tracer.Start(ctx, "health.Sweep")
	defer span.End()
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	if m.locker != nil {
		release, err := m.locker.Obtain(ctx, sweepLockKey, 5*time.Minute)
		if errors.Is(err, config.ErrLockNotObtained) {
			return &SweepResult{LockHeld: true, Results: []Result{}}, nil
		}
		if err != nil {
			m.logger.WithFields(logrus.Fields{"field": "IntegrationHealthMonitor"}).
				Warn("error obtaining sweep lock; sweeping anyway: " + err.Error())
		} else {
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					m.logger.WithFields(logrus.Fields{"field": "IntegrationHealthMonitor"}).
						Warn("failed to release sweep lock: " + err.Error())
				}
			}()
		}
	}

	started := m.now()
	result, err := m.sweep(ctx)
	m.recordJob(ctx, trigger, triggeredBy, started, result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Monitor) sweep(ctx context.Context) (*SweepResult, error) {
	integrations, err := m.store.ListMonitored(ctx)
	if err != nil {
		return nil, err
	}

	slots := make([]*Result, len(integrations))
	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i := range integrations {
		g.Go(func() error {
			res, err := m.evaluate(ctx, integrations[i])
			if err != nil {
				m.log(integrations[i]).Error("health check: " + err.Error())
				return nil
			}
			slots[i] = res
			return nil
		})
	}
	_ = g.Wait()

	result := &SweepResult{Results: make([]Result, 0, len(slots))}
	for _, res := range slots {
		if res == nil {
			continue
		}
		result.Results = append(result.Results, *res)
		if res.OverallStatus == VerdictUnhealthy {
			m.publishUnhealthy(ctx, *res)
		}
	}
	result.Checked = len(result.Results)
	return result, nil
}

func (m *Monitor) publishUnhealthy(ctx context.Context, res Result) {
	if m.events == nil {
		return
	}
	var failing []Check
	for _, c := range res.Checks {
		if c.Status == StatusFail {
			failing = append(failing, c)
		}
	}
	err := m.events.Publish(ctx, res.TenantId, models.EventIntegrationUnhealthy, map[string]interface{}{
		"integration_id": res.IntegrationId,
		"platform":       res.Platform,
		"overall_status": res.OverallStatus,
		"failing_checks": failing,
	})
	if err != nil {
		m.logger.WithFields(logrus.Fields{"field": "IntegrationHealthMonitor", "integration_id": res.IntegrationId}).
			Warn("publish unhealthy event: " + err.Error())
	}
}

func (m *Monitor) recordJob(ctx context.Context, trigger, triggeredBy string, started time.Time, result *SweepResult, runErr error) {
	if m.jobs == nil {
		return
	}
	completed := m.now()
	run := &models.JobRun{
		JobName:       models.JobNameHealthSweep,
		TriggerSource: trigger,
		TriggeredBy:   triggeredBy,
		Status:        models.JobRunStatusSucceeded,
		StartedAt:     started,
		CompletedAt:   completed,
		DurationMs:    completed.Sub(started).Milliseconds(),
	}
	if result != nil {
		run.Result = models.EncodeJSON(result.summary())
	}
	if runErr != nil {
		run.Status = models.JobRunStatusFailed
		run.ErrorMessage = runErr.Error()
	}
	if err := m.jobs.CreateJobRun(ctx, run); err != nil {
		m.logger.WithFields(logrus.Fields{"field": "IntegrationHealthMonitor"}).Warn("write job run: " + err.Error())
	}
}

func (m *Monitor) log(integ models.Integration) *logrus.Entry {
	return m.logger.WithFields(logrus.Fields{
		"field":          "IntegrationHealthMonitor",
		"integration_id": integ.ID,
		"platform":       integ.Platform,
	})
}
