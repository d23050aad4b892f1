// Package ctxkeys holds the shared context keys for the API layer. It is a
// leaf package so api, middleware, and handlers can all import it without
// cycles.
package ctxkeys

import "context"

// Key is the unexported named type for all API context keys. A named type
// avoids collisions with string keys from other packages (context.Value
// compares both type and value).
type Key string

const (
	// WorkspaceID is the context key for the active workspace, injected by
	// the auth middleware from JWT claims.
	WorkspaceID Key = "workspace_id"

	// UserID is the context key for the authenticated user.
	UserID Key = "user_id"
)

// WithValue adds a ctxkeys.Key value to the context.
func WithValue(ctx context.Context, key Key, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

// String retrieves a string value stored under a ctxkeys.Key, or "" when
// absent.
func String(ctx context.Context, key Key) string {
	v, _ := ctx.Value(key).(string)
	return v
}
