package repository

import (
	"context"
	"fmt"

	apperrors "github.com/utafrali/authgate/pkg/errors"

	"github.com/utafrali/authgate/internal/domain"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = fmt.Errorf("user: %w", apperrors.ErrNotFound)

	// ErrEmailTaken is returned by Create when the email is already stored.
	ErrEmailTaken = fmt.Errorf("user email: %w", apperrors.ErrConflict)
)

// UserRepository is the credential store.
type UserRepository interface {
	// Create inserts u. It returns ErrEmailTaken when a user with the same
	// email exists, so concurrent creates for one email yield one success.
	Create(ctx context.Context, u *domain.User) error

	// GetByID returns the user with id or ErrUserNotFound.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail returns the user with email or ErrUserNotFound.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// Update stores the mutable fields of u. The email is immutable.
	Update(ctx context.Context, u *domain.User) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
