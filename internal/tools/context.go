package tools

import "context"

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	toolCallIDKey contextKey = "tool_call_id"
)

// WithRequestID adds the chat request ID to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the chat request ID from the context.
// Returns "" if not set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithToolCallID adds the model's tool call ID to the context so
// handlers can tag side effects with the call that caused them.
func WithToolCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, toolCallIDKey, id)
}

// ToolCallIDFromContext extracts the tool call ID from the context.
// Returns "" if not set.
func ToolCallIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(toolCallIDKey).(string)
	return id
}
