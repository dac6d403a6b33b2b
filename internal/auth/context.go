// Package auth carries the authenticated user through request contexts. It
// sits below both middleware and handler so neither imports the other.
package auth

import (
	"context"

	"github.com/DukeRupert/chartlens/internal/domain"
)

type contextKey string

const userContextKey contextKey = "user"

// GetUser returns the authenticated user, or nil for anonymous requests.
func GetUser(ctx context.Context) *domain.User {
	user, ok := ctx.Value(userContextKey).(*domain.User)
	if !ok {
		return nil
	}
	return user
}

// SetUser stores the user resolved from the session cookie.
func SetUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserID returns the authenticated user's id as a string for logging, or "".
func UserID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.ID.String()
	}
	return ""
}
