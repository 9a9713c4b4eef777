package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/savetest-backend/internal/response"
	"github.com/stemsi/savetest-backend/internal/service"
)

// RequireAnyRole lets the request through when the token's role is one of roles.
// Must run after RequireJWT.
func RequireAnyRole(roles ...service.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		for _, r := range roles {
			if claims.Role == r {
				c.Next()
				return
			}
		}

		response.AbortFail(c, http.StatusForbidden, response.ErrForbidden)
	}
}
