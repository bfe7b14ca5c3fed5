package health

import (
	"net/http"

	"bitbucket.org/mmdatafocus/integration_platform/middlewares"
	"bitbucket.org/mmdatafocus/integration_platform/models"
	"github.com/gin-gonic/gin"
)

func CheckHandler(m *Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := middlewares.ParamID(c, "id")
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		res, err := m.Check(c.Request.Context(), id)
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// SweepHandler runs a sweep on demand, typically from Cloud Scheduler.
func SweepHandler(m *Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := m.Sweep(c.Request.Context(), models.JobTriggerHTTP, middlewares.TriggeredBy(c))
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
