package identity

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"sos-guardian/internal/model"
)

// redisStore keeps each identity as a hash at guardian:identity:{id} with
// unique-username enforcement via SETNX on guardian:username:{username}.
type redisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) Store {
	return &redisStore{rdb: rdb}
}

func identityKey(id string) string          { return "guardian:identity:" + id }
func usernameKey(username string) string    { return "guardian:username:" + username }
func deviceIndexKey(deviceID string) string { return "guardian:device:" + deviceID }

func identityToHash(ident model.Identity) map[string]any {
	return map[string]any{
		"id":         ident.ID,
		"username":   ident.Username,
		"device_id":  ident.DeviceID,
		"public_key": base64.StdEncoding.EncodeToString(ident.PublicKey),
		"key_type":   string(ident.KeyType),
		"created_at": strconv.FormatInt(ident.CreatedAt, 10),
	}
}

func hashToIdentity(hash map[string]string) (model.Identity, error) {
	key, err := base64.StdEncoding.DecodeString(hash["public_key"])
	if err != nil {
		return model.Identity{}, fmt.Errorf("corrupt public_key field: %w", err)
	}
	createdAt, err := strconv.ParseInt(hash["created_at"], 10, 64)
	if err != nil {
		return model.Identity{}, fmt.Errorf("corrupt created_at field: %w", err)
	}
	return model.Identity{
		ID:        hash["id"],
		Username:  hash["username"],
		DeviceID:  hash["device_id"],
		PublicKey: key,
		KeyType:   model.KeyType(hash["key_type"]),
		CreatedAt: createdAt,
	}, nil
}

func (s *redisStore) Create(ctx context.Context, ident model.Identity) error {
	// SETNX on the username key is the uniqueness gate: exactly one of two
	// concurrent registrations wins.
	ok, err := s.rdb.SetNX(ctx, usernameKey(ident.Username), ident.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve username: %w", err)
	}
	if !ok {
		return ErrUsernameTaken
	}

	if err := s.rdb.HSet(ctx, identityKey(ident.ID), identityToHash(ident)).Err(); err != nil {
		return fmt.Errorf("failed to write identity: %w", err)
	}
	if err := s.rdb.Set(ctx, deviceIndexKey(ident.DeviceID), ident.ID, 0).Err(); err != nil {
		return fmt.Errorf("failed to index device: %w", err)
	}
	return nil
}

func (s *redisStore) GetByUsername(ctx context.Context, username string) (model.Identity, error) {
	id, err := s.rdb.Get(ctx, usernameKey(username)).Result()
	if err == redis.Nil {
		return model.Identity{}, ErrNotFound
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("failed to resolve username: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *redisStore) GetByID(ctx context.Context, id string) (model.Identity, error) {
	hash, err := s.rdb.HGetAll(ctx, identityKey(id)).Result()
	if err != nil {
		return model.Identity{}, fmt.Errorf("failed to read identity: %w", err)
	}
	if len(hash) == 0 {
		return model.Identity{}, ErrNotFound
	}
	return hashToIdentity(hash)
}

func (s *redisStore) GetByDevice(ctx context.Context, deviceID string) (model.Identity, error) {
	id, err := s.rdb.Get(ctx, deviceIndexKey(deviceID)).Result()
	if err == redis.Nil {
		return model.Identity{}, ErrNotFound
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("failed to resolve device: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *redisStore) Delete(ctx context.Context, id string) error {
	ident, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, identityKey(id))
	pipe.Del(ctx, usernameKey(ident.Username))
	pipe.Del(ctx, deviceIndexKey(ident.DeviceID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}
	return nil
}
