package middlewares

import (
	"errors"
	"net/http"

	"bitbucket.org/mmdatafocus/integration_platform/config"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RespondError writes err with the status its kind maps to. Internal errors
// are logged and replaced with a generic message.
func RespondError(c *gin.Context, err error) {
	status := utils.HTTPStatusOf(err)
	kind := utils.KindOf(err)
	body := gin.H{"error": err.Error(), "kind": kind}

	var appErr *utils.AppError
	if errors.As(err, &appErr) && appErr.Kind == utils.ErrKindValidation {
		if fields := utils.ProcessValidationErrors(err); len(fields) > 0 {
			body["fields"] = fields
		}
	}
	if status >= http.StatusInternalServerError && kind != utils.ErrKindUpstream {
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		config.GetLogger().WithFields(logrus.Fields{
			"field":          "RespondError",
			"path":           c.Request.URL.Path,
			"correlation_id": cid,
		}).Error(err.Error())
		body["error"] = "internal server error"
	}
	c.AbortWithStatusJSON(status, body)
}
