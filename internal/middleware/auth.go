package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// authHeader carries the shared key on admin requests.
const authHeader = "X-Internal-API-Key"

// InternalAuth gates the /internal surface behind a shared key. An empty
// key means the deployment never configured one, so every request is
// rejected rather than silently left open.
func InternalAuth(apiKey string) gin.HandlerFunc {
	if apiKey == "" {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "server misconfigured: internal API key not set",
			})
		}
	}
	want := []byte(apiKey)

	return func(c *gin.Context) {
		got := []byte(c.GetHeader(authHeader))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}
		c.Next()
	}
}
