package middleware

import (
	"github.com/gin-gonic/gin"

	"pharmapos/internal/core/apperror"
	appctx "pharmapos/internal/core/context"
)

// RequirePermission rejects callers lacking permission. Admins pass.
// With auth disabled (no user in context) the check is skipped.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if appctx.GetUser(ctx) == nil {
			c.Next()
			return
		}
		if !appctx.HasPermission(ctx, permission) {
			_ = c.Error(
				apperror.NewForbidden("insufficient permissions").
					WithDetail("required_permission", permission),
			)
			c.Abort()
			return
		}
		c.Next()
	}
}
