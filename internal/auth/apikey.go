package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const headerName = "X-API-Key"

// ParseKeys splits a comma-separated key list, so an old and a new key can be
// accepted together while clients rotate.
func ParseKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// APIKeyMiddleware validates the X-API-Key header against keys.
// With no keys, authentication is disabled.
func APIKeyMiddleware(keys ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keys) == 0 {
			c.Next()
			return
		}

		provided := c.GetHeader(headerName)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
				"code":  "unauthorized",
			})
			return
		}

		if !matchesAny(provided, keys) {
			slog.Warn("rejected API key", "path", c.FullPath(), "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "invalid API key",
				"code":  "forbidden",
			})
			return
		}

		c.Next()
	}
}

// matchesAny compares against every key so timing does not reveal which one matched.
func matchesAny(provided string, keys []string) bool {
	match := 0
	for _, k := range keys {
		match |= subtle.ConstantTimeCompare([]byte(provided), []byte(k))
	}
	return match == 1
}
