// internal/cache/cache.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shrimpsizemoose/trekker/logger"
)

const keyPrefix = "avalia"

// Cache memoizes the three read views (study list, reviewer summary,
// deviation list) in redis with a TTL. A disabled cache is a valid
// configuration: every lookup misses and every write is a no-op.
type Cache struct {
	enabled bool
	redis   *redis.Client
	ttl     time.Duration
}

func New(redisURL string, ttl time.Duration) (*Cache, error) {
	if redisURL == "" {
		return &Cache{enabled: false}, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{
		enabled: true,
		redis:   client,
		ttl:     ttl,
	}, nil
}

func (c *Cache) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

func (c *Cache) Enabled() bool {
	return c.enabled
}

func StudyListKey(reviewerEmail string) string {
	return fmt.Sprintf("%s:study_list:%s", keyPrefix, strings.ToLower(reviewerEmail))
}

func SummaryKey(reviewerEmail string) string {
	return fmt.Sprintf("%s:summary:%s", keyPrefix, strings.ToLower(reviewerEmail))
}

func DeviationListKey(studyID int64, filter string) string {
	return fmt.Sprintf("%s:deviations:%d:%s", keyPrefix, studyID, filter)
}

// Get unmarshals the cached value into dest and reports whether the key was
// present. Errors degrade to a miss; the caller falls through to the store.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) bool {
	if !c.enabled {
		return false
	}

	data, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		logger.Debug.Printf("Cache read failed for %s: %v", key, err)
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		logger.Debug.Printf("Cache entry for %s is not valid JSON: %v", key, err)
		return false
	}
	return true
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}) {
	if !c.enabled {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		logger.Debug.Printf("Failed to marshal cache value for %s: %v", key, err)
		return
	}

	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		logger.Debug.Printf("Cache write failed for %s: %v", key, err)
	}
}

// InvalidateStudy drops every memoized view that a deviation mutation in the
// study could have staled: the study's deviation lists under all filters,
// and all reviewer study lists and summaries (pending counts changed).
// Idempotent; invalidating with nothing cached is a no-op.
func (c *Cache) InvalidateStudy(ctx context.Context, studyID int64) error {
	if !c.enabled {
		return nil
	}

	patterns := []string{
		fmt.Sprintf("%s:deviations:%d:*", keyPrefix, studyID),
		fmt.Sprintf("%s:study_list:*", keyPrefix),
		fmt.Sprintf("%s:summary:*", keyPrefix),
	}

	for _, pattern := range patterns {
		if err := c.deleteByPattern(ctx, pattern); err != nil {
			return fmt.Errorf("failed to invalidate %s: %w", pattern, err)
		}
	}
	return nil
}

func (c *Cache) deleteByPattern(ctx context.Context, pattern string) error {
	iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}
