// Package identity maps device/user identities to public keys and enforces
// username uniqueness. Identities are immutable after registration and
// removed only by explicit deregistration.
package identity

import (
	"context"
	"errors"

	"sos-guardian/internal/model"
)

var (
	ErrNotFound      = errors.New("identity not found")
	ErrUsernameTaken = errors.New("username already registered")
)

// Store persists identities. Create must be atomic: two concurrent creates
// with the same username yield exactly one success and one ErrUsernameTaken,
// enforced by the storage layer rather than a check-then-insert.
type Store interface {
	Create(ctx context.Context, ident model.Identity) error
	GetByUsername(ctx context.Context, username string) (model.Identity, error)
	GetByID(ctx context.Context, id string) (model.Identity, error)
	// GetByDevice resolves the most recent registration for a device.
	GetByDevice(ctx context.Context, deviceID string) (model.Identity, error)
	Delete(ctx context.Context, id string) error
}
