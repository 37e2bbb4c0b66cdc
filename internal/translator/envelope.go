package translator

import (
	"time"

	"chatrelay/internal/router"
)

// TimestampLayout is ISO-8601 UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Timestamp formats t with TimestampLayout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ChatResponse is the single-shot reply envelope.
type ChatResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Model     string `json:"model"`
	Timestamp string `json:"timestamp"`
}

// FromReply wraps a router reply.
func FromReply(reply *router.Reply, now time.Time) ChatResponse {
	return ChatResponse{
		Status:    statusSuccess,
		Message:   reply.Text,
		Model:     reply.Model,
		Timestamp: Timestamp(now),
	}
}

// ErrorResponse is the envelope for every failed request.
type ErrorResponse struct {
	Status    string     `json:"status"`
	Error     string     `json:"error"`
	Code      string     `json:"code,omitempty"`
	Timestamp string     `json:"timestamp"`
	Debug     *DebugInfo `json:"debug,omitempty"`
}

// DebugInfo is attached to configuration failures when debugging is on.
type DebugInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// NewError builds an error envelope.
func NewError(message, code string, now time.Time) ErrorResponse {
	return ErrorResponse{
		Status:    statusError,
		Error:     message,
		Code:      code,
		Timestamp: Timestamp(now),
	}
}
