package auth

import (
	"context"
	"time"
)

// User is a registered uploader. PasswordHash never leaves the package
// boundary in responses or logs.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Principal is the identity recovered from a valid session token.
type Principal struct {
	UserID   string
	Username string
}

// Token is a signed session token and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// UserStore persists credentials.
type UserStore interface {
	// Create inserts u, filling ID and CreatedAt. Returns ErrAlreadyExists
	// when the username is taken.
	Create(ctx context.Context, u *User) error
	// FindByUsername returns ErrNotFound when no user matches exactly.
	FindByUsername(ctx context.Context, username string) (*User, error)
}
