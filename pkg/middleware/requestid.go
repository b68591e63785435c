package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// maxRequestIDLen caps client-supplied ids before they reach the logs.
const maxRequestIDLen = 128

type requestIDKey struct{}

// RequestIDMiddleware reuses a sane client-supplied X-Request-ID or mints
// a UUID, and exposes it on the response, the gin context and the request
// context.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}

		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDKey{}, id))
		c.Header(HeaderRequestID, id)
		c.Set("request_id", id)

		c.Next()
	}
}

// GetRequestID returns the id stored by RequestIDMiddleware, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
