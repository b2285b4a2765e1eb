package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sos-guardian/internal/model"
)

// redisStore keeps each event as a hash at guardian:signal:event:{sessionID}
// with a fingerprint pointer key for idempotent ingestion and one set per
// status for operational sweeps. Upsert, CAS and increment run as Lua
// scripts so concurrent mutators of the same session serialize in Redis.
type redisStore struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisStore(rdb *redis.Client) Store {
	return &redisStore{rdb: rdb, now: time.Now}
}

func fingerprintKey(fp string) string { return "guardian:signal:fp:" + fp }
func eventKey(sessionID string) string {
	return "guardian:signal:event:" + sessionID
}
func statusKey(status model.EventStatus) string {
	return "guardian:signal:status:" + string(status)
}
func deviceKey(deviceID string) string {
	return "guardian:signal:device:" + deviceID
}

// KEYS[1]=fingerprint pointer, KEYS[2]=event hash, KEYS[3]=Received set,
// KEYS[4]=device set
// ARGV: sessionID, fingerprint, deviceID, blob, nowMillis
var ingestScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2],
  'session_id', ARGV[1],
  'fingerprint', ARGV[2],
  'creator_device_id', ARGV[3],
  'raw_blob', ARGV[4],
  'status', 'Received',
  'attempts', '0',
  'cancelled', '0',
  'created_at', ARGV[5],
  'updated_at', ARGV[5])
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('SADD', KEYS[4], ARGV[1])
return 1
`)

// KEYS[1]=event hash, KEYS[2]=from set, KEYS[3]=to set
// ARGV: from, to, nowMillis, sessionID
var casScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updated_at', ARGV[3])
redis.call('SMOVE', KEYS[2], KEYS[3], ARGV[4])
return 1
`)

// KEYS[1]=event hash; ARGV: nowMillis
var incrScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
redis.call('HSET', KEYS[1], 'updated_at', ARGV[1])
return redis.call('HINCRBY', KEYS[1], 'attempts', 1)
`)

func eventToUpdateFields(payload *model.DecodedPayload, note string) (map[string]any, error) {
	fields := map[string]any{"decode_note": note}
	if payload == nil {
		fields["payload"] = ""
		return fields, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	fields["payload"] = string(data)
	return fields, nil
}

func hashToEvent(hash map[string]string) (model.SosEvent, error) {
	attempts, err := strconv.Atoi(hash["attempts"])
	if err != nil {
		return model.SosEvent{}, fmt.Errorf("corrupt attempts field: %w", err)
	}
	createdAt, err := strconv.ParseInt(hash["created_at"], 10, 64)
	if err != nil {
		return model.SosEvent{}, fmt.Errorf("corrupt created_at field: %w", err)
	}
	updatedAt, err := strconv.ParseInt(hash["updated_at"], 10, 64)
	if err != nil {
		return model.SosEvent{}, fmt.Errorf("corrupt updated_at field: %w", err)
	}

	ev := model.SosEvent{
		SessionID:       hash["session_id"],
		Fingerprint:     hash["fingerprint"],
		CreatorDeviceID: hash["creator_device_id"],
		RawBlob:         hash["raw_blob"],
		DecodeNote:      hash["decode_note"],
		Status:          model.EventStatus(hash["status"]),
		Attempts:        attempts,
		Cancelled:       hash["cancelled"] == "1",
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}
	if raw := hash["payload"]; raw != "" {
		var payload model.DecodedPayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return model.SosEvent{}, fmt.Errorf("corrupt payload field: %w", err)
		}
		ev.Payload = &payload
	}
	return ev, nil
}

func (s *redisStore) Ingest(ctx context.Context, fingerprint, sessionID, deviceID, blob string) (model.SosEvent, bool, error) {
	nowMillis := strconv.FormatInt(s.now().UnixMilli(), 10)
	keys := []string{fingerprintKey(fingerprint), eventKey(sessionID), statusKey(model.StatusReceived), deviceKey(deviceID)}

	created, err := ingestScript.Run(ctx, s.rdb, keys, sessionID, fingerprint, deviceID, blob, nowMillis).Int()
	if err != nil {
		return model.SosEvent{}, false, fmt.Errorf("ingest script failed: %w", err)
	}

	if created == 0 {
		// Replay: resolve the winning session and return it untouched.
		existingID, err := s.rdb.Get(ctx, fingerprintKey(fingerprint)).Result()
		if err != nil {
			return model.SosEvent{}, false, fmt.Errorf("failed to resolve fingerprint: %w", err)
		}
		ev, err := s.Get(ctx, existingID)
		return ev, false, err
	}

	ev, err := s.Get(ctx, sessionID)
	return ev, true, err
}

func (s *redisStore) Get(ctx context.Context, sessionID string) (model.SosEvent, error) {
	hash, err := s.rdb.HGetAll(ctx, eventKey(sessionID)).Result()
	if err != nil {
		return model.SosEvent{}, fmt.Errorf("failed to read event: %w", err)
	}
	if len(hash) == 0 {
		return model.SosEvent{}, ErrNotFound
	}
	return hashToEvent(hash)
}

func (s *redisStore) UpdateStatus(ctx context.Context, sessionID string, from, to model.EventStatus) (bool, error) {
	nowMillis := strconv.FormatInt(s.now().UnixMilli(), 10)
	keys := []string{eventKey(sessionID), statusKey(from), statusKey(to)}

	res, err := casScript.Run(ctx, s.rdb, keys, string(from), string(to), nowMillis, sessionID).Int()
	if err != nil {
		return false, fmt.Errorf("status CAS failed: %w", err)
	}
	switch res {
	case -1:
		return false, ErrNotFound
	case 0:
		return false, nil
	default:
		return true, nil
	}
}

func (s *redisStore) IncrementAttempt(ctx context.Context, sessionID string) (int, error) {
	nowMillis := strconv.FormatInt(s.now().UnixMilli(), 10)

	count, err := incrScript.Run(ctx, s.rdb, []string{eventKey(sessionID)}, nowMillis).Int()
	if err != nil {
		return 0, fmt.Errorf("attempt increment failed: %w", err)
	}
	if count == -1 {
		return 0, ErrNotFound
	}
	return count, nil
}

func (s *redisStore) SetPayload(ctx context.Context, sessionID string, payload *model.DecodedPayload, note string) error {
	exists, err := s.rdb.Exists(ctx, eventKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check event: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	fields, err := eventToUpdateFields(payload, note)
	if err != nil {
		return err
	}
	fields["updated_at"] = strconv.FormatInt(s.now().UnixMilli(), 10)
	if err := s.rdb.HSet(ctx, eventKey(sessionID), fields).Err(); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

func (s *redisStore) SetCancelled(ctx context.Context, sessionID string) error {
	exists, err := s.rdb.Exists(ctx, eventKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check event: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	fields := map[string]any{
		"cancelled":  "1",
		"updated_at": strconv.FormatInt(s.now().UnixMilli(), 10),
	}
	if err := s.rdb.HSet(ctx, eventKey(sessionID), fields).Err(); err != nil {
		return fmt.Errorf("failed to set cancelled: %w", err)
	}
	return nil
}

func (s *redisStore) ListByStatus(ctx context.Context, status model.EventStatus) ([]model.SosEvent, error) {
	return s.listSet(ctx, statusKey(status))
}

func (s *redisStore) ListByDevice(ctx context.Context, deviceID string) ([]model.SosEvent, error) {
	return s.listSet(ctx, deviceKey(deviceID))
}

func (s *redisStore) listSet(ctx context.Context, key string) ([]model.SosEvent, error) {
	ids, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list index set: %w", err)
	}

	result := make([]model.SosEvent, 0, len(ids))
	for _, id := range ids {
		ev, err := s.Get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt > result[j].UpdatedAt })
	return result, nil
}
