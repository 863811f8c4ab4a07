package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/watchparty/internal/auth"
	"github.com/aura-webinar/watchparty/internal/models"
	"github.com/aura-webinar/watchparty/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextRequester is the key for the full models.Requester in gin context.
	ContextRequester = "requester"
)

// JWT returns a middleware that validates JWT and sets user claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextRequester, claims.Requester())
		c.Next()
	}
}

// Requester returns the identity set by JWT.
func Requester(c *gin.Context) (models.Requester, bool) {
	v, ok := c.Get(ContextRequester)
	if !ok {
		return models.Requester{}, false
	}
	r, ok := v.(models.Requester)
	return r, ok
}
