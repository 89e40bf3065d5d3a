package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextDeviceID is the gin context key holding the authenticated device ID.
const ContextDeviceID = "device_id"

// DeviceAuth enforces bearer access tokens signed with HS256. Refresh
// tokens are rejected here; they are only good for the refresh endpoint.
func DeviceAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.Kind != "access" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "access token required"})
			return
		}
		c.Set(ContextDeviceID, claims.DeviceID)
		c.Next()
	}
}
