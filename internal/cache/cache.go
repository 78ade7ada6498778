package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a key is absent or already expired.
var ErrMiss = errors.New("cache miss")

const tagPrefix = "tag:"

// TaggedCache is a Redis cache whose entries can carry tags. Every tag
// maps to a set of keys, so a whole family of entries (all tokens of an
// account, a single token by its jti) can be dropped in one call.
type TaggedCache struct {
	client *redis.Client
}

// New creates a tagged cache on top of an existing Redis client.
func New(client *redis.Client) *TaggedCache {
	return &TaggedCache{client: client}
}

// Set stores a raw value under key with the given TTL and registers the
// key under each tag. Tag sets outlive the entry by a small margin so a
// revocation sweep still finds keys that are about to expire.
func (c *TaggedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, value, ttl)
	for _, tag := range tags {
		set := tagPrefix + tag
		pipe.SAdd(ctx, set, key)
		pipe.Expire(ctx, set, ttl+time.Minute)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Get retrieves a raw value. Returns ErrMiss when the key is absent.
func (c *TaggedCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// GetDel atomically retrieves and removes a value. At most one of any
// number of concurrent callers observes the value; the rest get ErrMiss.
func (c *TaggedCache) GetDel(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("redis getdel %s: %w", key, err)
	}
	return data, nil
}

// SetJSON marshals value and stores it under key.
func (c *TaggedCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl, tags...)
}

// GetJSON retrieves a value stored with SetJSON into out.
func (c *TaggedCache) GetJSON(ctx context.Context, key string, out any) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// Delete removes keys directly. Missing keys are not an error.
func (c *TaggedCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// RemoveByTag deletes every key registered under each tag, then the tag
// sets themselves. Unknown tags are a no-op.
func (c *TaggedCache) RemoveByTag(ctx context.Context, tags ...string) error {
	for _, tag := range tags {
		set := tagPrefix + tag
		keys, err := c.client.SMembers(ctx, set).Result()
		if err != nil {
			return fmt.Errorf("redis smembers %s: %w", set, err)
		}
		if err := c.client.Del(ctx, append(keys, set)...).Err(); err != nil {
			return fmt.Errorf("redis del tag %s: %w", tag, err)
		}
	}
	return nil
}

// Ping verifies the Redis connection.
func (c *TaggedCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
