package webhook

import (
	"net/http"

	"bitbucket.org/mmdatafocus/integration_platform/middlewares"
	"bitbucket.org/mmdatafocus/integration_platform/models"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the subscription API on a bearer-authenticated group.
func RegisterRoutes(rg *gin.RouterGroup, s *Subscriptions) {
	rg.GET("", ListHandler(s))
	rg.POST("", CreateHandler(s))
	rg.DELETE("/:id", DeleteHandler(s))
	rg.POST("/:id/enable", EnableHandler(s))
	rg.POST("/:id/rotate-secret", RotateSecretHandler(s))
	rg.GET("/:id/deliveries", DeliveriesHandler(s))
	rg.POST("/:id/test", TestHandler(s))
}

func ListHandler(s *Subscriptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, _ := utils.GetTenantIdFromContext(c.Request.Context())
		subs, err := s.List(c.Request.Context(), tenantId)
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": subs})
	}
}

func CreateHandler(s *Subscriptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req NewSubscription
		if err := c.ShouldBindJSON(&req); err != nil {
			middlewares.RespondError(c, utils.NewValidationError("invalid request body"))
			return
		}
		ctx := c.Request.Context()
		tenantId, _ := utils.GetTenantIdFromContext(ctx)
		clientId, _ := utils.GetClientIdFromContext(ctx)
		created, err := s.Create(ctx, tenantId, clientId, req)
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, created)
	}
}

func DeleteHandler(s *Subscriptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := middlewares.ParamID(c, "id")
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		if err := s.Delete(c.Request.Context(), id); err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func EnableHandler(s *Subscriptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := middlewares.ParamID(c, "id")
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		sub, err := s.Enable(c.Request.Context(), id)
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sub)
	}
}

func RotateSecretHandler(s *Subscriptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := middlewares.ParamID(c, "id")
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		secret, err := s.RotateSecret(c.Request.Context(), id)
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"secret": secret})
	}
}

func DeliveriesHandler(s *Subscriptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := middlewares.ParamID(c, "id")
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		deliveries, err := s.Deliveries(c.Request.Context(), id, middlewares.QueryInt(c, "limit", 50))
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": deliveries})
	}
}

func TestHandler(s *Subscriptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := middlewares.ParamID(c, "id")
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		summary, err := s.SendTest(c.Request.Context(), id)
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// RetryHandler runs one retry sweep on demand.
func RetryHandler(s *RetryScheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.RunOnce(c.Request.Context(), models.JobTriggerHTTP, middlewares.TriggeredBy(c))
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
