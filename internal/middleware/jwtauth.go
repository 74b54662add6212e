package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"invictos-system/internal/api"
	"invictos-system/internal/database/models"
	"invictos-system/internal/utils"
)

// JWTAuth validates the Bearer token and stores the caller's identity on
// the request context under "user_id", "user_name" and "role".
func JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, api.Error("Authorization header is required"))
			return
		}

		claims, err := utils.ParseToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, api.Error("Invalid or expired token"))
			return
		}

		c.Set("user_id", claims.UserId)
		c.Set("user_name", claims.Name)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// AdminOnly rejects callers whose token does not carry the admin role.
// Must run after JWTAuth.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, api.Error("Admin access required"))
			return
		}
		c.Next()
	}
}
