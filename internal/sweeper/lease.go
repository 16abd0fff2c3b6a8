package sweeper

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLease is a Lease backed by SET NX with an expiry. Whoever sets the key
// first owns the tick; the key expires on its own.
type RedisLease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	owner  string
}

func NewRedisLease(client *redis.Client, key, owner string, ttl time.Duration) *RedisLease {
	return &RedisLease{client: client, key: key, ttl: ttl, owner: owner}
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
}
