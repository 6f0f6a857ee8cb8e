package identity

import (
	"context"
	"errors"
)

var ErrUserNotFound = errors.New("user not found")

// Directory maps an authentication subject to the caller's identity.
type Directory interface {
	// FindBySubject looks up a user by the token subject, falling back to
	// email when the subject is an address. Returns ErrUserNotFound if absent.
	FindBySubject(ctx context.Context, subject string) (*Identity, error)
}
