package middleware

import (
	"context"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// IdentityKey is the context key for the caller identity
	IdentityKey contextKey = "identity"

	// APIVersionKey is the context key for the negotiated API version
	APIVersionKey contextKey = "api_version"
)

// Identity is what the gateway knows about the caller
type Identity struct {
	// Subject is the JWT "sub" claim, empty for anonymous callers
	Subject string

	// APIKeyFingerprint is the hashed X-API-Key header, empty when absent
	APIKeyFingerprint string
}

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetIdentityFromContext retrieves the caller identity, or an empty one
func GetIdentityFromContext(ctx context.Context) Identity {
	if val := ctx.Value(IdentityKey); val != nil {
		if id, ok := val.(Identity); ok {
			return id
		}
	}
	return Identity{}
}

// WithIdentity adds the caller identity to the context
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// GetAPIVersionFromContext retrieves the API version, defaulting to DefaultAPIVersion
func GetAPIVersionFromContext(ctx context.Context) string {
	if val := ctx.Value(APIVersionKey); val != nil {
		if v, ok := val.(string); ok && v != "" {
			return v
		}
	}
	return DefaultAPIVersion
}

// WithAPIVersion adds the API version to the context
func WithAPIVersion(ctx context.Context, version string) context.Context {
	return context.WithValue(ctx, APIVersionKey, version)
}
