package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/rx-ledger/internal/handler"
	apperrors "github.com/jwalitptl/rx-ledger/pkg/errors"
)

// Timeout puts a deadline on the request context. Handlers run on the
// request goroutine; stores and the ledger observe the deadline. If the
// deadline passed and nothing was written, the caller gets a 504.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Writer.Written() {
			handler.RespondError(c, apperrors.New(apperrors.ErrTimeout, "request timed out"))
		}
	}
}
