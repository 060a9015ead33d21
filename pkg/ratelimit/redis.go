package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps windows in Redis so several instances share one counter per key.
// A window is a key with a TTL: INCR opens or extends the count and PEXPIRE
// arms the expiry when the key has none. Redis reclaims keys itself.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisOptions configures NewRedisClient.
type RedisOptions struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	PoolSize    int           `yaml:"pool_size"`
}

// NewRedisClient builds a standalone client.
func NewRedisClient(opts RedisOptions) redis.UniversalClient {
	addr := opts.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	return redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
		ReadTimeout: opts.ReadTimeout,
		PoolSize:    opts.PoolSize,
	})
}

// NewRedisStore wraps client. Keys are namespaced under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "erboard:ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Increment implements Store. A key left without a TTL, because it was just
// created or a previous PEXPIRE was lost, is armed with the window.
func (r *RedisStore) Increment(ctx context.Context, key string, win time.Duration, now time.Time) (int, time.Time, error) {
	fullKey := r.prefix + key

	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, fullKey)
		pttl = pipe.PTTL(ctx, fullKey)
		return nil
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis window %s: %w", key, err)
	}

	ttl := pttl.Val()
	if ttl <= 0 {
		if err := r.client.PExpire(ctx, fullKey, win).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("redis window expiry %s: %w", key, err)
		}
		ttl = win
	}
	return int(incr.Val()), now.Add(ttl), nil
}

// Close releases the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
