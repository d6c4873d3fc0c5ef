package middleware

import (
	"context"
	"strings"

	"ojcore/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"

	maxInboundIDLen = 128
)

// TraceContextMiddleware propagates X-Trace-Id and X-Request-Id into the request context
// and echoes them on the response, minting fresh ids when absent or oversized.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := inboundID(c, traceIDHeader)
		requestID := inboundID(c, requestIDHeader)

		c.Set(string(contextkey.TraceID), traceID)
		c.Header(traceIDHeader, traceID)
		c.Header(requestIDHeader, requestID)

		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, traceID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func inboundID(c *gin.Context, header string) string {
	v := strings.TrimSpace(c.GetHeader(header))
	if v == "" || len(v) > maxInboundIDLen {
		return uuid.NewString()
	}
	return v
}
