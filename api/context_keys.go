package api

import "context"

// contextKey is a private type for context values to avoid collisions
// with other packages.
type contextKey string

const contextKeyRequestID contextKey = "request_id"

// WithRequestID creates a new context carrying the request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// GetRequestID extracts the request ID from the context.
func GetRequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(contextKeyRequestID).(string)
	return requestID, ok
}

// GetRequestIDOrDefault returns the request ID or "unknown" when absent.
// Safe for logging paths that must never fail.
func GetRequestIDOrDefault(ctx context.Context) string {
	if requestID, ok := GetRequestID(ctx); ok && requestID != "" {
		return requestID
	}
	return "unknown"
}
