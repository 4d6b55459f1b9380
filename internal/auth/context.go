// Package auth identifies gallery viewers and carries their identity
// through request contexts.
//
// This package is imported by both middleware and handler packages without
// causing import cycles.
package auth

import (
	"context"
	"net/http"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// clientContextKey is the key used to store the viewer's client key.
	clientContextKey contextKey = "client_key"
)

// GetClient retrieves the viewer's client key from the context.
//
// Returns "" if the request was not identified.
//
// Usage:
//
//	clientKey := auth.GetClient(r.Context())
//	if clientKey == "" {
//	    // Handle anonymous request
//	}
func GetClient(ctx context.Context) string {
	key, _ := ctx.Value(clientContextKey).(string)
	return key
}

// GetClientFromRequest retrieves the client key from the request context.
func GetClientFromRequest(r *http.Request) string {
	return GetClient(r.Context())
}

// SetClient stores a client key in the context. It is called by the gallery
// client middleware after deriving the key from the access token.
func SetClient(ctx context.Context, clientKey string) context.Context {
	return context.WithValue(ctx, clientContextKey, clientKey)
}
