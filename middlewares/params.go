package middlewares

import (
	"strconv"

	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/gin-gonic/gin"
)

// ParamID reads a positive numeric path parameter.
func ParamID(c *gin.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, utils.NewValidationError("%s must be a positive integer", name)
	}
	return uint(v), nil
}

// QueryInt reads an optional integer query parameter, returning def when it
// is absent or malformed.
func QueryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// TriggeredBy names the caller of an internal job endpoint. Cloud Scheduler
// identifies itself with its job name header.
func TriggeredBy(c *gin.Context) string {
	if v := c.GetHeader("X-CloudScheduler-JobName"); v != "" {
		return v
	}
	if v := c.GetHeader("X-Triggered-By"); v != "" {
		return v
	}
	return "internal"
}
