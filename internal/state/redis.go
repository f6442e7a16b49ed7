package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/8000178/firezone/internal/obs"
	"github.com/redis/go-redis/v9"
)

const defaultKeyTTL = 5 * time.Minute

// RedisStore publishes snapshots under client:<id> with a TTL, so a client
// that dies without a clean disconnect ages out on its own.
type RedisStore struct {
	client *redis.Client
	keyTTL time.Duration
}

func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisStore{client: rdb, keyTTL: defaultKeyTTL}, nil
}

var _ Store = (*RedisStore)(nil)

func key(clientID string) string { return "client:" + clientID }

func (r *RedisStore) Record(ctx context.Context, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, key(s.ClientID), data, r.keyTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Load reads the snapshot last published for clientID.
func (r *RedisStore) Load(ctx context.Context, clientID string) (Snapshot, bool, error) {
	val, err := r.client.Get(ctx, key(clientID)).Result()
	if err == redis.Nil {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("redis get failed: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return Snapshot{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return s, true, nil
}

// Heartbeat republishes the current snapshot every interval until ctx is
// done, keeping the key alive while the process runs.
func (r *RedisStore) Heartbeat(ctx context.Context, interval time.Duration, current func() Snapshot) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := current()
			s.UpdatedAt = time.Now().UTC()
			if err := r.Record(ctx, s); err != nil && ctx.Err() == nil {
				obs.Error("redis.heartbeat", obs.Fields{"err": err.Error(), "client_id": s.ClientID})
			}
		}
	}
}

func (r *RedisStore) Close() error { return r.client.Close() }
