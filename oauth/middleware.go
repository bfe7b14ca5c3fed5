package oauth

import (
	"net/http"

	"bitbucket.org/mmdatafocus/integration_platform/middlewares"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/gin-gonic/gin"
)

// BearerAuth authenticates consumer API calls and puts the caller's client,
// tenant and scopes into the request context.
func BearerAuth(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := middlewares.BearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		p, err := s.Authenticate(c.Request.Context(), token)
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		ctx := utils.SetClientIdInContext(c.Request.Context(), p.ClientId)
		ctx = utils.SetTenantIdInContext(ctx, p.TenantId)
		ctx = utils.SetScopesInContext(ctx, p.Scopes)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !utils.HasScope(c.Request.Context(), scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient_scope", "required_scope": scope})
			return
		}
		c.Next()
	}
}
