package middlewares

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/gin-gonic/gin"
)

const (
	HeaderInternalToken = "X-Internal-Token"
	HeaderTenantId      = "X-Tenant-Id"
	HeaderCorrelationId = "X-Correlation-Id"
)

// InternalAuth admits service-to-service calls carrying the shared internal
// token. An X-Tenant-Id header scopes the call to one tenant.
func InternalAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderInternalToken)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := c.Request.Context()
		if tenantId := strings.TrimSpace(c.GetHeader(HeaderTenantId)); tenantId != "" {
			ctx = utils.SetTenantIdInContext(ctx, tenantId)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
