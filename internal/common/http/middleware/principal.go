package middleware

import (
	"strconv"
	"strings"

	"ojcore/internal/common/auth"
	"ojcore/pkg/errors"
	"ojcore/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const (
	userIDHeader   = "X-User-Id"
	userRoleHeader = "X-User-Role"

	principalContextKey = "principal"
)

// PrincipalMiddleware reads the identity headers set by the gateway.
// When required is true, requests without a valid user id are rejected with 401.
func PrincipalMiddleware(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(userIDHeader))
		if raw == "" {
			if required {
				response.AbortWithErrorCode(c, errors.Unauthorized, "")
				return
			}
			c.Next()
			return
		}

		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			response.AbortWithErrorCode(c, errors.Unauthorized, "invalid user identity")
			return
		}

		p := auth.Principal{
			UserID: userID,
			Role:   strings.ToLower(strings.TrimSpace(c.GetHeader(userRoleHeader))),
		}
		c.Set(principalContextKey, p)
		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

// GetPrincipal returns the principal attached by PrincipalMiddleware.
// Anonymous callers get the zero Principal.
func GetPrincipal(c *gin.Context) auth.Principal {
	if v, ok := c.Get(principalContextKey); ok {
		if p, ok := v.(auth.Principal); ok {
			return p
		}
	}
	return auth.Principal{}
}
