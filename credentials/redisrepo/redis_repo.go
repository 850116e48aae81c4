// Package redisrepo stores device credentials in Redis for gateway processes
// that act on behalf of a device. Values are sealed before they leave the process.
package redisrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/internal/sealer"
	"github.com/redis/go-redis/v9"
)

var _ credentials.Repo = (*RedisRepo)(nil)

const keyPrefix = "authclient:credentials:"

// RedisRepo keeps the credential of one device in a single hash.
type RedisRepo struct {
	rdb    redis.UniversalClient
	key    string
	sealer *sealer.Sealer
}

func New(rdb redis.UniversalClient, deviceID string, s *sealer.Sealer) (*RedisRepo, error) {
	if deviceID == "" {
		return nil, errors.New("redisrepo: empty device id")
	}
	return &RedisRepo{rdb: rdb, key: keyPrefix + deviceID, sealer: s}, nil
}

func (r *RedisRepo) Get(ctx context.Context, key string) (string, bool, error) {
	sealed, err := r.rdb.HGet(ctx, r.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redisrepo: hget %s: %w", key, err)
	}
	plain, err := r.sealer.Open(sealed, r.additional(key))
	if err != nil {
		return "", false, fmt.Errorf("redisrepo: %s: %w", key, err)
	}
	return string(plain), true, nil
}

// Put writes all entries with one HSET so they land together.
func (r *RedisRepo) Put(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	values := make(map[string]any, len(entries))
	for k, v := range entries {
		sealed, err := r.sealer.Seal([]byte(v), r.additional(k))
		if err != nil {
			return fmt.Errorf("redisrepo: %s: %w", k, err)
		}
		values[k] = sealed
	}
	if err := r.rdb.HSet(ctx, r.key, values).Err(); err != nil {
		return fmt.Errorf("redisrepo: hset: %w", err)
	}
	return nil
}

func (r *RedisRepo) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.rdb.HDel(ctx, r.key, keys...).Err(); err != nil {
		return fmt.Errorf("redisrepo: hdel: %w", err)
	}
	return nil
}

// additional binds each sealed value to both the device hash and the field.
func (r *RedisRepo) additional(field string) []byte {
	return []byte(r.key + "/" + field)
}
