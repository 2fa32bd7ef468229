// Package auth provides authentication for the sysprobe API.
package auth

import (
	"context"
)

// AuthMode defines the authentication mode.
type AuthMode string

const (
	// AuthModeNone disables authentication (default for local use).
	AuthModeNone AuthMode = "none"
	// AuthModeAPIKey enables API key authentication.
	AuthModeAPIKey AuthMode = "api_key"
)

// Config holds authentication configuration.
type Config struct {
	// Mode is the authentication mode (none, api_key).
	Mode AuthMode `json:"mode"`
	// APIKeys is a list of valid API keys (for api_key mode).
	APIKeys []string `json:"api_keys,omitempty"`
	// SkipPaths are paths that don't require authentication.
	// /healthz and /readyz are always skipped.
	SkipPaths []string `json:"skip_paths,omitempty"`
}

// DefaultConfig returns a default configuration with auth disabled.
func DefaultConfig() *Config {
	return &Config{
		Mode:      AuthModeNone,
		SkipPaths: []string{"/healthz", "/readyz"},
	}
}

// User represents an authenticated caller.
type User struct {
	// ID is the caller identifier (truncated API key hash).
	ID string
}

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey struct{ name string }

var (
	userContextKey = &contextKey{"user"}
)

// SetUserInContext stores the user in the context.
func SetUserInContext(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// GetUserFromContext retrieves the user from the context.
// Returns nil if no user is set.
func GetUserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(userContextKey).(*User)
	return user
}
