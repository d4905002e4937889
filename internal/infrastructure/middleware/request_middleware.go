package middleware

import (
	"time"

	"coursehub/pkg/logger"
	"coursehub/pkg/utils"

	"github.com/gin-gonic/gin"
)

const requestIDHeader = "X-Request-ID"

// HTTPRecorder receives one observation per finished request.
type HTTPRecorder interface {
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

// RequestMiddleware assigns a request ID, then logs and measures the request.
// recorder may be nil.
func RequestMiddleware(log *logger.ContextLogger, recorder HTTPRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = utils.GenerateRequestID()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		log.LogRequest(c.Request.Context(), c.Request.Method, route, c.Writer.Status(), elapsed.Milliseconds())
		if recorder != nil {
			recorder.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), elapsed)
		}
	}
}
