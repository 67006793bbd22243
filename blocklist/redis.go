package blocklist

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBlocklist stores blocks as <prefix>:<address> keys whose value is the
// reason and whose TTL is the block duration. Expiry is left to Redis.
type RedisBlocklist struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisBlocklist returns a RedisBlocklist. An empty prefix defaults to "ipb".
func NewRedisBlocklist(client redis.UniversalClient, prefix string) *RedisBlocklist {
	if prefix == "" {
		prefix = "ipb"
	}
	return &RedisBlocklist{redis: client, prefix: prefix}
}

func (b *RedisBlocklist) key(address string) string {
	return b.prefix + ":" + address
}

// Block blocks address for d.
//
//	Performance: 1 SET with PX.
func (b *RedisBlocklist) Block(ctx context.Context, address string, d time.Duration, reason string) error {
	if d <= 0 {
		return nil
	}
	if err := b.redis.Set(ctx, b.key(address), reason, d).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// IsBlocked reports whether address is currently blocked.
//
//	Performance: 1 EXISTS.
func (b *RedisBlocklist) IsBlocked(ctx context.Context, address string) (bool, error) {
	n, err := b.redis.Exists(ctx, b.key(address)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return n == 1, nil
}

// Unblock lifts a block on address.
func (b *RedisBlocklist) Unblock(ctx context.Context, address string) error {
	if err := b.redis.Del(ctx, b.key(address)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}
