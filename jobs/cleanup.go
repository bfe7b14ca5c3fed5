// Package jobs holds maintenance work run by Cloud Scheduler or the sweeper CLI.
package jobs

import (
	"context"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/middlewares"
	"bitbucket.org/mmdatafocus/integration_platform/models"
	"bitbucket.org/mmdatafocus/integration_platform/oauth"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RequestLogRetention keeps request logs past the daily rate-limit window.
const RequestLogRetention = 48 * time.Hour

type TokenPurger interface {
	Cleanup(ctx context.Context) (*oauth.CleanupResult, error)
}

type RequestLogPurger interface {
	DeleteRequestLogsBefore(ctx context.Context, before time.Time) (int64, error)
}

type JobRecorder interface {
	CreateJobRun(ctx context.Context, run *models.JobRun) error
}

type Cleaner struct {
	tokens TokenPurger
	logs   RequestLogPurger
	jobs   JobRecorder
	logger *logrus.Logger
	now    func() time.Time
}

func NewCleaner(tokens TokenPurger, logs RequestLogPurger, jobs JobRecorder, logger *logrus.Logger) *Cleaner {
	return &Cleaner{
		tokens: tokens,
		logs:   logs,
		jobs:   jobs,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type CleanupResult struct {
	CodesDeleted       int64 `json:"codes_deleted"`
	TokensDeleted      int64 `json:"tokens_deleted"`
	RequestLogsDeleted int64 `json:"request_logs_deleted"`
}

// Run deletes expired authorization codes and tokens, then request logs older
// than RequestLogRetention.
func (c *Cleaner) Run(ctx context.Context, trigger, triggeredBy string) (*CleanupResult, error) {
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	started := c.now()
	result, err := c.run(ctx, started)
	c.record(ctx, trigger, triggeredBy, started, result, err)
	if err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{
		"field":                "Cleanup",
		"codes_deleted":        result.CodesDeleted,
		"tokens_deleted":       result.TokensDeleted,
		"request_logs_deleted": result.RequestLogsDeleted,
	}).Info("cleanup finished")
	return result, nil
}

func (c *Cleaner) run(ctx context.Context, now time.Time) (*CleanupResult, error) {
	result := &CleanupResult{}
	purged, err := c.tokens.Cleanup(ctx)
	if err != nil {
		return result, err
	}
	result.CodesDeleted = purged.CodesDeleted
	result.TokensDeleted = purged.TokensDeleted

	if c.logs != nil {
		n, err := c.logs.DeleteRequestLogsBefore(ctx, now.Add(-RequestLogRetention))
		if err != nil {
			return result, err
		}
		result.RequestLogsDeleted = n
	}
	return result, nil
}

func (c *Cleaner) record(ctx context.Context, trigger, triggeredBy string, started time.Time, result *CleanupResult, runErr error) {
	if c.jobs == nil {
		return
	}
	completed := c.now()
	run := &models.JobRun{
		JobName:       models.JobNameCleanup,
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
	if err := c.jobs.CreateJobRun(ctx, run); err != nil {
		c.logger.WithFields(logrus.Fields{"field": "Cleanup"}).Warn("write job run: " + err.Error())
	}
}

func CleanupHandler(c *Cleaner) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		res, err := c.Run(ctx.Request.Context(), models.JobTriggerHTTP, middlewares.TriggeredBy(ctx))
		if err != nil {
			middlewares.RespondError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, res)
	}
}
