package app

import (
	"net/http"

	"bitbucket.org/mmdatafocus/integration_platform/events"
	"bitbucket.org/mmdatafocus/integration_platform/health"
	"bitbucket.org/mmdatafocus/integration_platform/jobs"
	"bitbucket.org/mmdatafocus/integration_platform/middlewares"
	"bitbucket.org/mmdatafocus/integration_platform/oauth"
	"bitbucket.org/mmdatafocus/integration_platform/ratelimit"
	"bitbucket.org/mmdatafocus/integration_platform/syncengine"
	"bitbucket.org/mmdatafocus/integration_platform/webhook"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const (
	ScopeWebhooks     = "webhooks:manage"
	ScopeIntegrations = "integrations:manage"
)

// CORSConfig allows any origin outside production; production only allows
// the configured origins.
func CORSConfig(production bool, origins []string) cors.Config {
	corsConfig := cors.DefaultConfig()
	switch {
	case production && len(origins) == 0:
		// cors panics on an empty origin list; reject every origin instead.
		corsConfig.AllowOriginFunc = func(string) bool { return false }
	case production:
		corsConfig.AllowOrigins = origins
	default:
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization",
		middlewares.HeaderInternalToken, middlewares.HeaderTenantId, middlewares.HeaderCorrelationId)
	corsConfig.AddExposeHeaders("Content-Length", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset")
	return corsConfig
}

// Router builds the full HTTP surface. ready gates everything except /healthz.
func (a *App) Router(ready func() bool) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationID())
	r.Use(middlewares.Readiness(ready))
	r.Use(cors.New(CORSConfig(a.Settings.IsProduction(), a.Settings.CORSAllowedOrigins)))
	r.Use(middlewares.RequestLogger(a.Logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	o := r.Group("/oauth")
	o.GET("/authorize", oauth.AuthorizeHandler(a.OAuth))
	o.POST("/authorize", oauth.AuthorizeHandler(a.OAuth))
	o.POST("/token", oauth.TokenHandler(a.OAuth))
	o.POST("/revoke", oauth.RevokeHandler(a.OAuth))
	o.POST("/introspect", oauth.IntrospectHandler(a.OAuth))

	api := r.Group("/api/v1", oauth.BearerAuth(a.OAuth), a.RateLimit.Handler())
	api.GET("/rate-limit", ratelimit.StatusHandler(a.Limiter, a.Tiers))
	webhook.RegisterRoutes(api.Group("/webhooks", oauth.RequireScope(ScopeWebhooks)), a.Subscriptions)
	syncengine.RegisterAPIRoutes(api.Group("/integrations", oauth.RequireScope(ScopeIntegrations)), a.Engine)

	internal := r.Group("/internal", middlewares.InternalAuth(a.Settings.InternalAPIToken))
	internal.POST("/oauth/applications", oauth.RegisterApplicationHandler(a.OAuth))
	syncengine.RegisterInternalRoutes(internal, a.Engine)
	internal.GET("/integrations/:id/health", health.CheckHandler(a.Health))
	internal.POST("/events", events.EmitHandler(a.Events))
	internal.POST("/jobs/webhook-retry", webhook.RetryHandler(a.Retry))
	internal.POST("/jobs/health-sweep", health.SweepHandler(a.Health))
	internal.POST("/jobs/cleanup", jobs.CleanupHandler(a.Cleaner))

	ps := r.Group("/pubsub")
	ps.POST("/sync", syncengine.PubSubSyncHandler(a.Engine, a.Idempotency))
	ps.POST("/webhook-events", events.PubSubWebhookEventsHandler(a.Dispatcher, a.Idempotency, a.Logger))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}
