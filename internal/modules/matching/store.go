// README: Redis cache of pilot rating summaries used while ranking.
package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"carpool/internal/modules/rating"
	"carpool/internal/types"
)

const (
	summaryKeyPrefix  = "matching:rating:%s"
	defaultSummaryTTL = 2 * time.Minute
)

type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewStore(redis *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultSummaryTTL
	}
	return &Store{redis: redis, ttl: ttl}
}

func (s *Store) Get(ctx context.Context, userID types.ID) (rating.Summary, bool, error) {
	val, err := s.redis.Get(ctx, summaryKey(userID)).Bytes()
	if err == redis.Nil {
		return rating.Summary{}, false, nil
	}
	if err != nil {
		return rating.Summary{}, false, err
	}
	var sum rating.Summary
	if err := json.Unmarshal(val, &sum); err != nil {
		return rating.Summary{}, false, err
	}
	return sum, true, nil
}

func (s *Store) Put(ctx context.Context, userID types.ID, sum rating.Summary) error {
	raw, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, summaryKey(userID), raw, s.ttl).Err()
}

// Invalidate drops a cached summary after the user receives a new rating.
func (s *Store) Invalidate(ctx context.Context, userID types.ID) error {
	return s.redis.Del(ctx, summaryKey(userID)).Err()
}

func summaryKey(userID types.ID) string {
	return fmt.Sprintf(summaryKeyPrefix, string(userID))
}
