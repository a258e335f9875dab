// Package auth provides email/password identities: a SQLite-backed account
// store and the client-side session that tracks who is signed in.
package auth

import (
	"context"
	"errors"
)

var (
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password should be at least 6 characters")
	ErrEmailInUse         = errors.New("email address is already in use")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthenticated    = errors.New("not signed in")
)

// MinPasswordLength is the shortest accepted password
const MinPasswordLength = 6

// Identity is an authenticated user
type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// Provider authenticates users and issues session tokens
type Provider interface {
	SignUp(ctx context.Context, email, password string) (Identity, string, error)
	SignIn(ctx context.Context, email, password string) (Identity, string, error)
	SignOut(ctx context.Context, token string) error
	// Authenticate resolves a session token; ErrUnauthenticated when unknown
	Authenticate(ctx context.Context, token string) (Identity, error)
}
