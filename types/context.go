package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID   contextKey = "trace_id"
	keyRequestID contextKey = "request_id"
	keyPrincipal contextKey = "principal"
	keyToolToken contextKey = "tool_token"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithRequestID adds the request ID to context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID extracts the request ID from context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}

// WithPrincipal adds the authenticated user to context.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, keyPrincipal, principal)
}

// Principal extracts the authenticated user from context.
func Principal(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyPrincipal).(string)
	return v, ok && v != ""
}

// WithToolToken adds the caller's tool service credential to context.
func WithToolToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, keyToolToken, token)
}

// ToolToken extracts the caller's tool service credential from context.
func ToolToken(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyToolToken).(string)
	return v, ok && v != ""
}
