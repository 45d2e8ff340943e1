package middleware

import (
	"net/http"
	"strings"

	"materials-backend/internal/models"
	"materials-backend/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ContextUserID = "userID"
	ContextRoleID = "roleID"
)

// AuthMiddleware accepts a bearer JWT issued by the identity service and
// puts the user and role IDs on the context.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.AbortResponse(c, http.StatusUnauthorized, "Missing token")
			return
		}

		// 2. "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			utils.AbortResponse(c, http.StatusUnauthorized, "Malformed token")
			return
		}

		// 3. Signature and expiry
		token, err := utils.ValidateToken(secret, parts[1])
		if err != nil || !token.Valid {
			utils.AbortResponse(c, http.StatusUnauthorized, "Invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			utils.AbortResponse(c, http.StatusUnauthorized, "Invalid token claims")
			return
		}

		// JSON numbers decode as float64
		var userID uint64
		if val, ok := claims["user_id"].(float64); ok {
			userID = uint64(val)
		}
		var roleID uint
		if val, ok := claims["role_id"].(float64); ok {
			roleID = uint(val)
		}
		if userID == 0 {
			utils.AbortResponse(c, http.StatusUnauthorized, "Invalid token claims")
			return
		}

		c.Set(ContextUserID, userID)
		c.Set(ContextRoleID, roleID)

		c.Next()
	}
}

// AdminOnly admits role 1.
func AdminOnly() gin.HandlerFunc {
	return requireRole("Admins only", models.RoleAdmin)
}

// FinanceOnly admits finance staff and admins.
func FinanceOnly() gin.HandlerFunc {
	return requireRole("Finance only", models.RoleAdmin, models.RoleFinance)
}

func requireRole(message string, allowed ...uint) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetUint(ContextRoleID)
		for _, r := range allowed {
			if role == r {
				c.Next()
				return
			}
		}
		utils.AbortResponse(c, http.StatusForbidden, message)
	}
}
