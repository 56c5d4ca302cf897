package statusstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a read-through cache in front of an inner Store (normally a
// DynamoStore). Status lookups from a polling stream endpoint are far more
// frequent than the writes that produce them, so caching Get avoids a table
// read on every poll. Every Put still goes to the inner store first: Redis
// is an accelerator for reads, never the system of record.
//
// The client is injected rather than built internally, the same dependency
// style the registry package uses for its shared *redis.Client across
// nodes.
type RedisCache struct {
	client *redis.Client
	inner  Store
	ttl    time.Duration
}

// NewRedisCache wraps inner with a read-through cache on client. A zero ttl
// defaults to 5 seconds, long enough to absorb a burst of stream polls for
// one session without serving status more than a few seconds stale.
func NewRedisCache(client *redis.Client, inner Store, ttl time.Duration) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("statusstore: redis client is required")
	}
	if inner == nil {
		return nil, errors.New("statusstore: inner store is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisCache{client: client, inner: inner, ttl: ttl}, nil
}

func (c *RedisCache) cacheKey(sessionID string) string {
	return "status:" + sessionID
}

// Get tries Redis first. A cache hit is unmarshaled and returned directly;
// a miss (redis.Nil) or a corrupt cached entry falls through to inner and
// repopulates the cache on success so the next poll hits. Any other Redis
// error is answered from inner without repopulating the cache.
func (c *RedisCache) Get(ctx context.Context, sessionID string) (Status, bool, error) {
	raw, err := c.client.Get(ctx, c.cacheKey(sessionID)).Result()
	if err == nil {
		var item Status
		if jsonErr := json.Unmarshal([]byte(raw), &item); jsonErr == nil {
			return item, true, nil
		}
		// A corrupt cache entry is treated as a miss rather than an error.
	} else if !errors.Is(err, redis.Nil) {
		return c.inner.Get(ctx, sessionID)
	}

	item, found, err := c.inner.Get(ctx, sessionID)
	if err != nil || !found {
		return item, found, err
	}
	c.set(ctx, sessionID, item)
	return item, true, nil
}

// Put writes inner first and refreshes the cached entry only when that write
// succeeds; on inner failure the error is returned and the cache is left as
// it was.
func (c *RedisCache) Put(ctx context.Context, item Status) error {
	if err := c.inner.Put(ctx, item); err != nil {
		return err
	}
	c.set(ctx, item.SessionID, item)
	return nil
}

// set best-effort refreshes the cache entry. A Redis write failure here
// must never fail the caller's Put/Get — the inner store already has the
// authoritative value.
func (c *RedisCache) set(ctx context.Context, sessionID string, item Status) {
	raw, err := json.Marshal(item)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.cacheKey(sessionID), raw, c.ttl).Err()
}
