package oauth

import (
	"errors"
	"net/http"

	"bitbucket.org/mmdatafocus/integration_platform/middlewares"
	"github.com/gin-gonic/gin"
)

func respondOAuthError(c *gin.Context, err error) {
	var oe *Error
	if errors.As(err, &oe) {
		c.AbortWithStatusJSON(oe.Status, oe)
		return
	}
	middlewares.RespondError(c, err)
}

// AuthorizeHandler serves GET (query) and POST (JSON or form) authorization requests.
func AuthorizeHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AuthorizeRequest
		if err := c.ShouldBind(&req); err != nil {
			respondOAuthError(c, invalidRequest("malformed request"))
			return
		}
		resp, err := s.Authorize(c.Request.Context(), req)
		if err != nil {
			respondOAuthError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func TokenHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TokenRequest
		if err := c.ShouldBind(&req); err != nil {
			respondOAuthError(c, invalidRequest("malformed request"))
			return
		}
		resp, err := s.Token(c.Request.Context(), req)
		if err != nil {
			respondOAuthError(c, err)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, resp)
	}
}

type tokenOnlyRequest struct {
	Token string `form:"token" json:"token"`
}

// RevokeHandler always answers 200 for well-formed requests.
func RevokeHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req tokenOnlyRequest
		if err := c.ShouldBind(&req); err != nil || req.Token == "" {
			respondOAuthError(c, invalidRequest("token is required"))
			return
		}
		if err := s.Revoke(c.Request.Context(), req.Token); err != nil {
			respondOAuthError(c, serverError("failed to revoke token"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"revoked": true})
	}
}

func IntrospectHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req tokenOnlyRequest
		if err := c.ShouldBind(&req); err != nil || req.Token == "" {
			respondOAuthError(c, invalidRequest("token is required"))
			return
		}
		resp, err := s.Introspect(c.Request.Context(), req.Token)
		if err != nil {
			respondOAuthError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func RegisterApplicationHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req NewApplication
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		resp, err := s.RegisterApplication(c.Request.Context(), req)
		if err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, resp)
	}
}
