package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// APIKeyMiddleware guards operator routes with a shared key, accepted either
// as "Authorization: Bearer <key>" or "X-API-Key: <key>". An empty expected
// key disables the routes entirely.
func APIKeyMiddleware(expectedKey string) gin.HandlerFunc {
	expected := []byte(expectedKey)
	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin API disabled"})
			return
		}

		provided := c.GetHeader("X-API-Key")
		if provided == "" {
			auth := c.GetHeader("Authorization")
			if auth == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "No authorization header"})
				return
			}
			scheme, token, ok := strings.Cut(auth, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
				return
			}
			provided = strings.TrimSpace(token)
		}

		if subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}
		c.Next()
	}
}
