package presence

import (
	"context"
	"time"

	"github.com/nestbay/realtime/pkg/model"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "presence:"

// RedisStore keeps one hash per identity. Offline records carry a TTL so
// stale entries age out; online records persist for as long as the identity
// stays connected.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, offlineTTL time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: offlineTTL}
}

func (s *RedisStore) Upsert(ctx context.Context, rec model.PresenceRecord) error {
	key := keyPrefix + rec.UserID
	if err := s.rdb.HSet(ctx, key,
		"status", string(rec.Status),
		"last_seen", rec.LastSeen.UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		return err
	}
	if rec.Status == model.StatusOffline {
		return s.rdb.Expire(ctx, key, s.ttl).Err()
	}
	return s.rdb.Persist(ctx, key).Err()
}

func (s *RedisStore) Touch(ctx context.Context, userID string, at time.Time) error {
	return s.rdb.HSet(ctx, keyPrefix+userID,
		"last_seen", at.UTC().Format(time.RFC3339Nano),
	).Err()
}

func (s *RedisStore) Get(ctx context.Context, userIDs []string) ([]model.PresenceRecord, error) {
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.HGetAll(ctx, keyPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	recs := make([]model.PresenceRecord, 0, len(userIDs))
	for i, id := range userIDs {
		fields := cmds[i].Val()
		rec := model.PresenceRecord{UserID: id, Status: model.StatusOffline}
		if status, ok := fields["status"]; ok {
			rec.Status = model.PresenceStatus(status)
		}
		if raw, ok := fields["last_seen"]; ok {
			if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				rec.LastSeen = ts
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
