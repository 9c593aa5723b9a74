package payment

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const guardKeyPrefix = "payment:callback:"

// Guard drops duplicate callback deliveries that arrive while the first one is
// still being processed. The database row lock stays the source of truth; a
// nil client disables the guard.
type Guard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewGuard(client *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Guard{client: client, ttl: ttl}
}

// Acquire reports whether the caller may process reference now.
func (g *Guard) Acquire(ctx context.Context, reference string) (bool, error) {
	if g == nil || g.client == nil {
		return true, nil
	}
	return g.client.SetNX(ctx, guardKeyPrefix+reference, "1", g.ttl).Result()
}

func (g *Guard) Release(ctx context.Context, reference string) error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Del(ctx, guardKeyPrefix+reference).Err()
}
