package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type cache struct {
	*redis.Client
}

func newCache(conn *redis.Client) *cache {
	return &cache{
		conn,
	}
}

func (c *cache) get(ctx context.Context, key string, value interface{}) error {
	str, err := c.Get(ctx, key).Result()
	if err != nil {
		// returns err redis.Nil if key does not exist
		return err
	}

	return json.Unmarshal([]byte(str), value)
}

// set stores value as json; expiration is in seconds and 0 means the key doesn't expire
func (c *cache) set(ctx context.Context, key string, value interface{}, expiration int) error {
	str, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.Set(ctx, key, str, time.Duration(expiration)*time.Second).Err()
}

// clear deletes every key matching pattern. SCAN is used so a large keyspace doesn't block redis.
func (c *cache) clear(ctx context.Context, pattern string) error {
	keys := []string{}

	iter := c.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	if len(keys) == 0 {
		return nil
	}
	return c.Del(ctx, keys...).Err()
}

// generation returns the current generation of key; a key that was never bumped is generation 0.
// The counter has no expiry so it can't fall back to a generation that still has a stale value.
func (c *cache) generation(ctx context.Context, key string) (int64, error) {
	n, err := c.Get(ctx, key+"|gen").Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (c *cache) bump(ctx context.Context, key string) error {
	return c.Incr(ctx, key+"|gen").Err()
}

func generationKey(key string, gen int64) string {
	return fmt.Sprintf("%s|gen=%d", key, gen)
}
