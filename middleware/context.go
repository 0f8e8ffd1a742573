package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/timekeeperhq/timekeeper/models"
	"github.com/timekeeperhq/timekeeper/services/auth"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// ClaimsKey is the context key for verified token claims
	ClaimsKey contextKey = "claims"

	// UserKey is the context key for the authenticated user
	UserKey contextKey = "user"
)

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

// GetClaimsFromContext retrieves verified token claims from context
func GetClaimsFromContext(ctx context.Context) *auth.AccessClaims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*auth.AccessClaims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds verified token claims to the context
func WithClaims(ctx context.Context, claims *auth.AccessClaims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetUserFromContext retrieves the authenticated user from context.
// Personal fields are already decrypted when the user lands here.
func GetUserFromContext(ctx context.Context) *models.User {
	if val := ctx.Value(UserKey); val != nil {
		if user, ok := val.(*models.User); ok {
			return user
		}
	}
	return nil
}

// WithUser adds the authenticated user to the context
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// GetUserIDFromContext retrieves the authenticated user's id, or uuid.Nil
func GetUserIDFromContext(ctx context.Context) uuid.UUID {
	if user := GetUserFromContext(ctx); user != nil {
		return user.ID
	}
	return uuid.Nil
}
