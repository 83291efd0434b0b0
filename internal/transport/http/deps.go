package http

import (
	"context"

	"github.com/go-otp-auth/internal/domain"
	jwtinfra "github.com/go-otp-auth/internal/infrastructure/jwt"
)

// UserRepository is the minimal interface the router requires from a user store.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	// Create fails with ErrDuplicateEmail or ErrDuplicateUsername when either
	// identity is already claimed.
	Create(ctx context.Context, u *domain.User) error
	Save(ctx context.Context, u *domain.User) error
	Delete(ctx context.Context, u *domain.User) error
}

// TokenStore is the minimal interface the router requires from a verification token store.
type TokenStore interface {
	Update(ctx context.Context, userID string, purpose domain.TokenType, fn func(*domain.TokenSlot) error) error
}

// PasswordHasher is the minimal interface the router requires from a credential hasher.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) (bool, error)
}

// SessionProvider issues session tokens at login and verifies them on protected routes.
type SessionProvider interface {
	Issue(subject string, roles []string) (string, error)
	Verify(token string) (*jwtinfra.Claims, error)
}

// Notifier delivers OTP codes out of band without blocking the request.
type Notifier interface {
	SendAsync(email, code string, purpose domain.TokenType)
}

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	Users    UserRepository
	Tokens   TokenStore
	Hasher   PasswordHasher
	Sessions SessionProvider
	Notifier Notifier
}
