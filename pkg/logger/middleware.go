package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Middleware returns a Gin middleware function that logs requests and
// attaches a request-scoped logger to both the gin and request contexts.
func Middleware(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetString("request_id")
		if requestID == "" {
			requestID = c.GetHeader("X-Request-ID")
		}
		if requestID == "" {
			requestID = uuid.New().String()
			c.Header("X-Request-ID", requestID)
		}

		reqLogger := logger.WithRequestID(requestID)
		c.Set("logger", reqLogger)
		c.Request = c.Request.WithContext(NewContext(c.Request.Context(), reqLogger))

		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		path := c.Request.URL.Path
		method := c.Request.Method

		reqLogger.LogRequest(method, path, status, latency)

		for _, err := range c.Errors {
			reqLogger.LogError(err.Err, "request error",
				"method", method,
				"path", path,
				"error_type", err.Type,
			)
		}
	}
}

// FromGin returns the request-scoped logger set by Middleware, or the global one.
func FromGin(c *gin.Context) *Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(*Logger); ok {
			return l
		}
	}
	return GetGlobal()
}
