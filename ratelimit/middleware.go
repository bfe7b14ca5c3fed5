package ratelimit

import (
	"context"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/middlewares"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type TierSource interface {
	TierName(ctx context.Context, clientId string) (string, error)
}

// Middleware enforces quotas for bearer-authenticated calls. onAdmit is
// written before the handler runs so concurrent calls see each other;
// afterResponse gets the final status and latency off the request path.
type Middleware struct {
	limiter       *Limiter
	tiers         TierSource
	onAdmit       Recorder
	afterResponse Recorder
	logger        *logrus.Logger
}

func NewMiddleware(limiter *Limiter, tiers TierSource, onAdmit, afterResponse Recorder, logger *logrus.Logger) *Middleware {
	return &Middleware{limiter: limiter, tiers: tiers, onAdmit: onAdmit, afterResponse: afterResponse, logger: logger}
}

func (m *Middleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		clientId, ok := utils.GetClientIdFromContext(ctx)
		if !ok || clientId == "" {
			c.Next()
			return
		}
		tenantId, _ := utils.GetTenantIdFromContext(ctx)

		tier, err := m.tiers.TierName(ctx, clientId)
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		res, err := m.limiter.Check(ctx, clientId, tier)
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		for k, v := range res.Headers {
			c.Header(k, v)
		}
		if !res.Allowed {
			middlewares.RespondError(c, utils.NewRateLimitedError("rate limit exceeded, retry after %d", res.Reset))
			return
		}

		start := m.limiter.now()
		entry := Entry{
			ClientId: clientId,
			TenantId: tenantId,
			Method:   c.Request.Method,
			Path:     c.FullPath(),
			At:       start,
		}
		if m.onAdmit != nil {
			if err := m.onAdmit.Record(ctx, entry); err != nil {
				m.warn(clientId, "record admitted request", err)
			}
		}

		c.Next()

		if m.afterResponse == nil {
			return
		}
		entry.Status = c.Writer.Status()
		entry.Latency = m.limiter.now().Sub(start)
		go func(e Entry) {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := m.afterResponse.Record(rctx, e); err != nil {
				m.warn(e.ClientId, "write request log", err)
			}
		}(entry)
	}
}

func (m *Middleware) warn(clientId, msg string, err error) {
	m.logger.WithFields(logrus.Fields{"field": "RateLimiter", "client_id": clientId}).Warn(msg + ": " + err.Error())
}

// StatusHandler reports the caller's current quota without consuming it.
func StatusHandler(limiter *Limiter, tiers TierSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		clientId, _ := utils.GetClientIdFromContext(ctx)
		tier, err := tiers.TierName(ctx, clientId)
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		res, err := limiter.Check(ctx, clientId, tier)
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
