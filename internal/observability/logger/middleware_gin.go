package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/flowglad/flowglad/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

const correlationHeader = "X-Correlation-ID"

// GinMiddleware assigns each request a correlation ID and writes one
// structured access log line per request. In debug mode 2xx responses are
// logged too; otherwise only failures make it to the log.
func GinMiddleware(debug bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		cid := c.GetHeader(correlationHeader)
		if cid != "" {
			ctx = correlation.ContextWithCorrelationID(ctx, cid)
		} else {
			ctx, cid = correlation.EnsureCorrelationID(ctx)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Header(correlationHeader, cid)

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		if status < 400 && !debug {
			return
		}

		log := FromContext(c.Request.Context())
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Debug("http request", fields...)
		}
	}
}
