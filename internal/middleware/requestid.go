package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/rx-ledger/internal/handler"
	"github.com/jwalitptl/rx-ledger/internal/reqctx"
)

const ContextRequestID = "request_id"

// maxRequestIDLen bounds caller supplied ids before they reach the logs.
const maxRequestIDLen = 128

// RequestID adds a unique request ID to each request and carries it, along
// with the client IP, on the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(handler.HeaderXRequestID)
		if rid == "" || len(rid) > maxRequestIDLen {
			rid = uuid.New().String()
		}

		c.Set(ContextRequestID, rid)
		c.Header(handler.HeaderXRequestID, rid)

		ctx := reqctx.WithRequestID(c.Request.Context(), rid)
		ctx = reqctx.WithClientIP(ctx, c.ClientIP())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
