// README: Redis cache of reverse-geocoded pickup labels.
package route

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"carpool/internal/types"
)

const (
	labelKeyPrefix = "route:label:%.5f:%.5f"
	// Addresses rarely change.
	labelTTL = 30 * 24 * time.Hour
)

type RedisLabelCache struct {
	redis *redis.Client
}

func NewRedisLabelCache(redis *redis.Client) *RedisLabelCache {
	return &RedisLabelCache{redis: redis}
}

func (c *RedisLabelCache) Get(ctx context.Context, p types.Point) (string, bool, error) {
	val, err := c.redis.Get(ctx, labelKey(p)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisLabelCache) Put(ctx context.Context, p types.Point, label string) error {
	return c.redis.Set(ctx, labelKey(p), label, labelTTL).Err()
}

// labelKey rounds to 5 decimals (~1 m) so nearby samples share a label.
func labelKey(p types.Point) string {
	return fmt.Sprintf(labelKeyPrefix, p.Lat, p.Lng)
}
