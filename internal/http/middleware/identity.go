package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// Identity headers set by the upstream authentication collaborator.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	userIDKey = "userID"
	roleKey   = "role"
)

// Identity copies the caller identity asserted by the upstream auth proxy
// into the Gin context. It does not authenticate anything itself; requests
// without X-User-ID proceed anonymously and the handlers decide.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := strings.TrimSpace(c.GetHeader(HeaderUserID)); id != "" {
			c.Set(userIDKey, id)
		}
		if role := strings.TrimSpace(c.GetHeader(HeaderUserRole)); role != "" {
			c.Set(roleKey, strings.ToUpper(role))
		}
		c.Next()
	}
}

// UserID returns the caller id stored by Identity.
func UserID(c *gin.Context) string {
	v, _ := c.Get(userIDKey)
	return asString(v)
}

// UserRole returns the caller role stored by Identity, upper-cased.
func UserRole(c *gin.Context) string {
	v, _ := c.Get(roleKey)
	return asString(v)
}
