package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"custodia/pkg/domain"
	"custodia/pkg/sentinel"
)

// RedisLease uses SET NX with a TTL, which gives the same fail-fast
// exclusion as the Postgres lease without touching the database. Useful when
// several engine replicas share a Redis but partition the database.
type RedisLease struct {
	client *redis.Client
}

func NewRedisLease(client *redis.Client) *RedisLease {
	return &RedisLease{client: client}
}

func leaseKey(entityType domain.EntityType) string {
	return "custodia:retention-lease:" + entityType.String()
}

func (l *RedisLease) Acquire(ctx context.Context, entityType domain.EntityType, holder string, ttl time.Duration) error {
	ok, err := l.client.SetNX(ctx, leaseKey(entityType), holder, ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if ok {
		return nil
	}
	current, err := l.client.Get(ctx, leaseKey(entityType)).Result()
	if err == nil && current == holder {
		// Re-acquisition by the same holder extends the TTL.
		if err := l.client.Expire(ctx, leaseKey(entityType), ttl).Err(); err != nil {
			return fmt.Errorf("extend lease: %w", err)
		}
		return nil
	}
	return sentinel.ErrLeaseHeld
}

func (l *RedisLease) Release(ctx context.Context, entityType domain.EntityType, holder string) error {
	// Delete only when still ours; a Lua script keeps check-and-delete atomic.
	const script = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`
	if err := l.client.Eval(ctx, script, []string{leaseKey(entityType)}, holder).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
