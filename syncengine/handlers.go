package syncengine

import (
	"fmt"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/middlewares"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/gin-gonic/gin"
)

// RegisterAPIRoutes mounts the consumer-facing integration routes on a
// bearer-authenticated group.
func RegisterAPIRoutes(rg *gin.RouterGroup, e *Engine) {
	rg.GET("", ListHandler(e))
	rg.POST("/:id/sync", SyncIntegrationHandler(e))
}

// RegisterInternalRoutes mounts the service-to-service routes.
func RegisterInternalRoutes(rg *gin.RouterGroup, e *Engine) {
	rg.POST("/integrations/connect", ConnectHandler(e))
	rg.POST("/integrations/:id/disconnect", DisconnectHandler(e))
	rg.POST("/integrations/sync", SyncHandler(e))
	rg.GET("/integrations/:id/sync-logs", HistoryHandler(e))
	rg.GET("/integrations/:id/sync-logs/export", ExportHandler(e))
	rg.GET("/integrations/:id/conflicts", ConflictsHandler(e))
	rg.GET("/sync-logs/:id/errors", SyncErrorsHandler(e))
	rg.POST("/conflicts/:id/resolve", ResolveConflictHandler(e))
}

func ListHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, _ := utils.GetTenantIdFromContext(c.Request.Context())
		rows, err := e.Integrations(c.Request.Context(), tenantId)
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": rows})
	}
}

type syncBody struct {
	EntityType       string     `json:"entity_type"`
	Direction        string     `json:"direction"`
	SyncType         string     `json:"sync_type"`
	ConflictStrategy string     `json:"conflict_strategy"`
	RecordIds        []string   `json:"record_ids"`
	Since            *time.Time `json:"since"`
}

// SyncIntegrationHandler runs a sync for an integration of the caller's tenant.
func SyncIntegrationHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := middlewares.ParamID(c, "id")
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		var body syncBody
		if err := c.ShouldBindJSON(&body); err != nil {
			middlewares.RespondError(c, utils.NewValidationError("invalid request body"))
			return
		}
		runSync(c, e, SyncRequest{
			IntegrationId:    id,
			EntityType:       body.EntityType,
			Direction:        body.Direction,
			SyncType:         body.SyncType,
			ConflictStrategy: body.ConflictStrategy,
			RecordIds:        body.RecordIds,
			Since:            body.Since,
		})
	}
}

// SyncHandler runs a sync inline, or queues it on Pub/Sub with ?async=true.
func SyncHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middlewares.RespondError(c, utils.NewValidationError("invalid request body"))
			return
		}
		runSync(c, e, req)
	}
}

func runSync(c *gin.Context, e *Engine, req SyncRequest) {
	if c.Query("async") == "true" {
		id, err := e.PublishSync(c.Request.Context(), req)
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message_id": id})
		return
	}
	res, err := e.Sync(c.Request.Context(), req)
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func ConnectHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middlewares.RespondError(c, utils.NewValidationError("invalid request body"))
			return
		}
		integ, err := e.Connect(c.Request.Context(), req)
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, integ)
	}
}

func DisconnectHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := middlewares.ParamID(c, "id")
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		integ, err := e.Disconnect(c.Request.Context(), id)
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, integ)
	}
}

func HistoryHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := middlewares.ParamID(c, "id")
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		h, err := e.History(c.Request.Context(), id, middlewares.QueryInt(c, "limit", 20), middlewares.QueryInt(c, "offset", 0))
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, h)
	}
}

// ExportHandler streams an XLSX of sync logs. from and to are RFC 3339 and
// default to the trailing 30 days.
func ExportHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := middlewares.ParamID(c, "id")
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		to := time.Now().UTC()
		from := to.AddDate(0, 0, -30)
		if raw := c.Query("from"); raw != "" {
			if from, err = time.Parse(time.RFC3339, raw); err != nil {
				middlewares.RespondError(c, utils.NewValidationError("from must be RFC 3339"))
				return
			}
		}
		if raw := c.Query("to"); raw != "" {
			if to, err = time.Parse(time.RFC3339, raw); err != nil {
				middlewares.RespondError(c, utils.NewValidationError("to must be RFC 3339"))
				return
			}
		}
		data, err := e.ExportSyncLogs(c.Request.Context(), id, from, to)
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=sync-logs-%d.xlsx", id))
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
	}
}

func ConflictsHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := middlewares.ParamID(c, "id")
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		rows, err := e.Conflicts(c.Request.Context(), id, c.Query("status"))
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": rows})
	}
}

func SyncErrorsHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := middlewares.ParamID(c, "id")
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		rows, err := e.SyncErrors(c.Request.Context(), id)
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": rows})
	}
}

func ResolveConflictHandler(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := middlewares.ParamID(c, "id")
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		var req ResolveConflictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middlewares.RespondError(c, utils.NewValidationError("invalid request body"))
			return
		}
		rec, err := e.ResolveConflict(c.Request.Context(), id, req)
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}
