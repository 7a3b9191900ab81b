package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aura-classroom/backend/pkg/response"
)

// RequireRole lets through only requests whose token carries one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		role := c.GetString(ContextUserRole)
		if role == "" {
			response.Abort(c, http.StatusUnauthorized, "missing user context")
			return
		}
		if _, ok := allowed[role]; !ok {
			response.Abort(c, http.StatusForbidden, "role "+role+" may not "+c.Request.Method+" "+c.FullPath())
			return
		}
		c.Next()
	}
}
