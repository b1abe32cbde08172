package tokens

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRevocations stores revoked token ids in Redis with a TTL.
type RedisRevocations struct {
	client *redis.Client
}

func NewRedisRevocations(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{client: client}
}

func key(jti string) string { return "blacklist:access:" + jti }

func (r *RedisRevocations) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return r.client.Set(ctx, key(jti), "1", ttl).Err()
}

// IsRevoked returns true when the id exists in the Redis blacklist.
func (r *RedisRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	exists, err := r.client.Exists(ctx, key(jti)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
