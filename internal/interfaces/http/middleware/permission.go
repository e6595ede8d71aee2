package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/katecvn/backoffice/internal/domain/identity"
	"github.com/katecvn/backoffice/internal/domain/shared"
	"github.com/katecvn/backoffice/internal/interfaces/http/dto"
)

// RequirePermission aborts with 401 or 403 unless the signed-in user holds
// every listed permission. It reads the SessionContext set by JWTAuth.
func RequirePermission(codes ...identity.PermissionCode) gin.HandlerFunc {
	return func(c *gin.Context) {
		sc, _ := GetSessionContext(c)
		if err := sc.Require(codes...); err != nil {
			code := dto.ErrCodeForbidden
			message := "You do not have permission to perform this action"
			if errors.Is(err, shared.ErrUnauthorized) {
				code = dto.ErrCodeUnauthorized
				message = "Authentication required"
			}
			c.AbortWithStatusJSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, message, GetRequestID(c)))
			return
		}
		c.Next()
	}
}
