package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	methodKey    contextKey = "rpc_method"
)

// WithRequestID adds a JSON-RPC request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithMethod adds the JSON-RPC method name to the context.
func WithMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, methodKey, method)
}

// MethodFromContext retrieves the method name from context.
// Returns empty string if not present.
func MethodFromContext(ctx context.Context) string {
	if v := ctx.Value(methodKey); v != nil {
		if m, ok := v.(string); ok {
			return m
		}
	}
	return ""
}
