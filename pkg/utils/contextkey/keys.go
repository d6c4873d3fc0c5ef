// Package contextkey holds the request-scoped context keys shared by middleware and logging.
package contextkey

type key string

const (
	TraceID   key = "trace_id"
	RequestID key = "request_id"
	UserID    key = "user_id"
	UserRole  key = "user_role"
)
