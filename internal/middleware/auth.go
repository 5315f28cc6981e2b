package middleware

import (
	"crypto/subtle"
	"inspiration-api/internal/response"
	"inspiration-api/pkg/logging"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// AdminAuth guards admin routes with a shared API key. With no key configured every
// admin request is refused.
func AdminAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Admin API key not configured"))
			return
		}

		// Header first, query parameter as fallback
		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = c.Query("api_key")
		}
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Missing api_key"))
			return
		}

		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			logging.Warnf("Admin request rejected - path: %s, ip: %s", c.FullPath(), c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid api_key"))
			return
		}

		c.Set("request_time", time.Now())
		c.Next()
	}
}
