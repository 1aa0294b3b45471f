package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps session state in Redis so several server replicas see the
// same drafts and view state. Keys expire after ttl of inactivity. The client
// is shared with the GEO pool and stays owned by the caller.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.prefix+key, value, r.ttl).Err()
}

func (r *RedisStore) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Atomic queues writes in a MULTI/EXEC block. Reads inside fn see committed
// data only, not the writes queued earlier in the same batch.
func (r *RedisStore) Atomic(ctx context.Context, fn func(tx KV) error) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		return fn(&redisTx{store: r, pipe: p})
	})
	return err
}

func (r *RedisStore) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

type redisTx struct {
	store *RedisStore
	pipe  redis.Pipeliner
}

func (t *redisTx) Get(ctx context.Context, key string) ([]byte, error) {
	return t.store.Get(ctx, key)
}

func (t *redisTx) Set(ctx context.Context, key string, value []byte) error {
	return t.pipe.Set(ctx, t.store.prefix+key, value, t.store.ttl).Err()
}

func (t *redisTx) Remove(ctx context.Context, key string) error {
	return t.pipe.Del(ctx, t.store.prefix+key).Err()
}
