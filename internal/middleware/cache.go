package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore keeps verification results and QR tokens out of shared caches.
// Both carry bearer material and must reflect the current state.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store, no-cache, must-revalidate, private")
		c.Header("Pragma", "no-cache")
		c.Header("Expires", "0")
		c.Next()
	}
}
