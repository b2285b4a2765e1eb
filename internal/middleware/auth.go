package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"sos-guardian/internal/auth"
)

const identityIDContextKey = "identityID"

func IdentityIDFromContext(c *gin.Context) (string, bool) {
	identityID, ok := c.Get(identityIDContextKey)
	if !ok {
		return "", false
	}
	value, ok := identityID.(string)
	return value, ok && value != ""
}

func RequireAuth(cfg auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		claims, err := auth.VerifyToken(parts[1], cfg)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		c.Set(identityIDContextKey, claims.UserID)
		c.Next()
	}
}
