package response

import (
	"net/http"

	"ojcore/pkg/errors"
	"ojcore/pkg/utils/contextkey"
	"ojcore/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the JSON envelope of every API reply.
type Response struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    interface{}      `json:"data,omitempty"`
	Details interface{}      `json:"details,omitempty"`
	TraceID string           `json:"trace_id,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    errors.Success,
		Message: errors.Success.Message(),
		Data:    data,
		TraceID: traceID(c),
	})
}

// Error maps err to its code's HTTP status. Errors without a code become 500.
func Error(c *gin.Context, err error) {
	appErr := errors.GetError(err)
	resp := Response{Code: appErr.Code, Message: appErr.Error(), TraceID: traceID(c)}
	if len(appErr.Details) > 0 {
		resp.Details = appErr.Details
	}
	write(c, resp, zap.Any("details", appErr.Details), zap.String("stack", appErr.Stack), zap.Error(appErr.Err))
}

// ErrorWithCode replies with code; an empty message uses the code's default.
func ErrorWithCode(c *gin.Context, code errors.ErrorCode, message string) {
	if message == "" {
		message = code.Message()
	}
	write(c, Response{Code: code, Message: message, TraceID: traceID(c)})
}

func BadRequest(c *gin.Context, message string) {
	ErrorWithCode(c, errors.InvalidParams, message)
}

func AbortWithErrorCode(c *gin.Context, code errors.ErrorCode, message string) {
	ErrorWithCode(c, code, message)
	c.Abort()
}

// write logs client errors at info and server errors at error level.
func write(c *gin.Context, resp Response, fields ...zap.Field) {
	status := resp.Code.HTTPStatus()
	ctx := c.Request.Context()
	fields = append(fields,
		zap.Int("code", int(resp.Code)),
		zap.String("message", resp.Message),
		zap.Int("status", status),
		zap.String("path", c.FullPath()),
	)
	if status >= http.StatusInternalServerError {
		logger.Error(ctx, "request error", fields...)
	} else {
		logger.Info(ctx, "request rejected", fields...)
	}
	c.JSON(status, resp)
}

func traceID(c *gin.Context) string {
	if v, ok := c.Request.Context().Value(contextkey.TraceID).(string); ok {
		return v
	}
	return c.GetString("trace_id")
}
