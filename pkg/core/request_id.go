package core

import (
	"context"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request ID on API requests and responses
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// WithRequestID returns ctx carrying requestID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// GetRequestID returns the request ID in ctx, or ""
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// GenerateRequestID returns a random UUID
func GenerateRequestID() string {
	return uuid.NewString()
}

// WithNewRequestID returns ctx carrying a freshly generated request ID
func WithNewRequestID(ctx context.Context) context.Context {
	return WithRequestID(ctx, GenerateRequestID())
}
