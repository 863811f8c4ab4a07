package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/watchparty/pkg/response"
)

// Account roles carried in tokens. Session roles (host, participant) live in models.
const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
	RoleAdmin      = "admin"
)

// RequireRole admits requests whose requester holds one of roles.
// Must run after JWT.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := Requester(c)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		for _, r := range roles {
			if req.Role == r {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "role "+req.Role+" may not access this resource")
		c.Abort()
	}
}
