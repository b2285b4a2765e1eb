package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"sos-guardian/internal/auth"
	"sos-guardian/internal/model"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 50
)

var ErrInvalidUsername = errors.New("username must be 3-50 characters")

// Registry is the registration/lookup service in front of a Store.
type Registry struct {
	store Store
	now   func() time.Time
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Register validates the request, mints an ID and creates the identity.
// Returns ErrUsernameTaken when the username is already held (exact,
// case-sensitive match) and auth.ErrInvalidPublicKey for a key that does not
// match its declared type.
func (r *Registry) Register(ctx context.Context, username, deviceID, publicKey string, keyType model.KeyType) (model.Identity, error) {
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return model.Identity{}, ErrInvalidUsername
	}
	if deviceID == "" {
		return model.Identity{}, errors.New("missing device id")
	}
	if keyType == "" {
		keyType = model.KeyTypeRaw
	}

	key, err := auth.ParsePublicKey(publicKey, keyType)
	if err != nil {
		return model.Identity{}, err
	}

	ident := model.Identity{
		ID:        uuid.NewString(),
		Username:  username,
		DeviceID:  deviceID,
		PublicKey: key,
		KeyType:   keyType,
		CreatedAt: r.now().UnixMilli(),
	}
	if err := r.store.Create(ctx, ident); err != nil {
		return model.Identity{}, err
	}
	return ident, nil
}

func (r *Registry) Lookup(ctx context.Context, username string) (model.Identity, error) {
	return r.store.GetByUsername(ctx, username)
}

func (r *Registry) LookupByDevice(ctx context.Context, deviceID string) (model.Identity, error) {
	return r.store.GetByDevice(ctx, deviceID)
}

// ResolveDevice adapts device lookup to the status-push resolver contract.
func (r *Registry) ResolveDevice(ctx context.Context, deviceID string) (string, error) {
	ident, err := r.store.GetByDevice(ctx, deviceID)
	if err != nil {
		return "", err
	}
	return ident.ID, nil
}

func (r *Registry) Deregister(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}
