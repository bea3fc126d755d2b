package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/rx-ledger/internal/reqctx"
)

// Logger writes one access log line per request. Bodies are never logged:
// they carry prescriptions, keys and verification tokens.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		default:
			ev = log.Info()
		}

		ev = ev.
			Str("request_id", reqctx.RequestID(c.Request.Context())).
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Str("user_agent", c.Request.UserAgent())
		if p, ok := reqctx.Principal(c.Request.Context()); ok {
			ev = ev.Str("actor", p.ID).Str("role", string(p.Role))
		}

		switch {
		case status >= 500:
			ev.Msg("Server error")
		case status >= 400:
			ev.Msg("Client error")
		default:
			ev.Msg("Request processed")
		}
	}
}
