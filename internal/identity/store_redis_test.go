package identity

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sos-guardian/internal/model"
)

func setupRedisStore(t *testing.T) Store {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewRedisStore(rdb)
}

func testIdentity(id, username, deviceID string) model.Identity {
	return model.Identity{
		ID:        id,
		Username:  username,
		DeviceID:  deviceID,
		PublicKey: []byte("pubkey123"),
		KeyType:   model.KeyTypeRaw,
		CreatedAt: 1_700_000_000_000,
	}
}

func TestRedisStore_CreateAndGet(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	ident := testIdentity("id-1", "alice", "dev-1")
	require.NoError(t, store.Create(ctx, ident))

	got, err := store.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, ident, got)

	got, err = store.GetByID(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, ident, got)

	got, err = store.GetByDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, ident, got)

	_, err = store.GetByUsername(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetByID(ctx, "id-2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetByDevice(ctx, "dev-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_DuplicateUsername(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testIdentity("id-1", "alice", "dev-1")))

	err := store.Create(ctx, testIdentity("id-2", "alice", "dev-2"))
	assert.ErrorIs(t, err, ErrUsernameTaken)

	// The winner's record is untouched.
	got, err := store.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "id-1", got.ID)
}

func TestRedisStore_LatestDeviceRegistrationWins(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testIdentity("id-1", "alice", "dev-1")))
	require.NoError(t, store.Create(ctx, testIdentity("id-2", "bob", "dev-1")))

	got, err := store.GetByDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "id-2", got.ID)
}

func TestRedisStore_Delete(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testIdentity("id-1", "alice", "dev-1")))
	require.NoError(t, store.Delete(ctx, "id-1"))

	_, err := store.GetByUsername(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetByID(ctx, "id-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "id-1"), ErrNotFound)

	// Username can be reused.
	assert.NoError(t, store.Create(ctx, testIdentity("id-3", "alice", "dev-3")))
}
