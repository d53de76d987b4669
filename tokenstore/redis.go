package tokenstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	redisFieldAccess  = "access"
	redisFieldRefresh = "refresh"
)

// RedisBackend stores the pair of one session in a redis hash. The key
// expires together with the refresh token.
type RedisBackend struct {
	rdb redis.UniversalClient
	key string
}

// NewRedisBackend returns a RedisBackend storing session under prefix.
func NewRedisBackend(rdb redis.UniversalClient, prefix, session string) *RedisBackend {
	if prefix == "" {
		prefix = "dashboard:tokens"
	}
	return &RedisBackend{rdb: rdb, key: prefix + ":" + session}
}

// Key returns the redis key of the session.
func (b *RedisBackend) Key() string {
	return b.key
}

func (b *RedisBackend) Load(ctx context.Context) (Pair, error) {
	vals, err := b.rdb.HGetAll(ctx, b.key).Result()
	if err != nil {
		return Pair{}, fmt.Errorf("redis load tokens: %w", err)
	}
	pair := Pair{
		AccessToken:  vals[redisFieldAccess],
		RefreshToken: vals[redisFieldRefresh],
	}
	if pair.IsZero() {
		return Pair{}, ErrNotFound
	}
	return pair, nil
}

func (b *RedisBackend) Save(ctx context.Context, pair Pair) error {
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, b.key)
		pipe.HSet(ctx, b.key,
			redisFieldAccess, pair.AccessToken,
			redisFieldRefresh, pair.RefreshToken,
		)
		pipe.Expire(ctx, b.key, RefreshTokenMaxAge)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save tokens: %w", err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context) error {
	if err := b.rdb.Del(ctx, b.key).Err(); err != nil {
		return fmt.Errorf("redis delete tokens: %w", err)
	}
	return nil
}
