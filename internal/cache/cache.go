// Package cache keeps serialized match detail views in Redis.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	keyPrefix = "match-detail:"
	genPrefix = "match-detail-gen:"

	// genTTL only needs to outlive a read-through fill; it is refreshed on every
	// invalidation.
	genTTL = 24 * time.Hour
)

// setIfCurrent writes the view only while the match's generation is still the one the
// reader saw before it went to the database.
//
// KEYS[1] view key, KEYS[2] generation key
// ARGV[1] view, ARGV[2] expected generation, ARGV[3] ttl in ms
var setIfCurrent = redis.NewScript(`
local gen = redis.call("GET", KEYS[2])
if not gen then gen = "0" end
if gen ~= ARGV[2] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)

// MatchCache is a read-through cache for GET /matches/:id. It implements
// events.CacheInvalidator so lifecycle changes evict stale entries.
//
// Each match has a generation counter that Invalidate bumps. Readers take the generation
// before loading from the database and fill with SetIfCurrent, so a view loaded before a
// write commits can never be cached after that write's invalidation.
type MatchCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewMatchCache(rdb *redis.Client, ttl time.Duration) *MatchCache {
	return &MatchCache{rdb: rdb, ttl: ttl}
}

func key(matchID uuid.UUID) string {
	return keyPrefix + matchID.String()
}

func genKey(matchID uuid.UUID) string {
	return genPrefix + matchID.String()
}

// Get returns the cached bytes. ok is false on a miss.
func (c *MatchCache) Get(ctx context.Context, matchID uuid.UUID) (data []byte, ok bool, err error) {
	data, err = c.rdb.Get(ctx, key(matchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Generation returns the match's current generation, 0 if it was never invalidated.
func (c *MatchCache) Generation(ctx context.Context, matchID uuid.UUID) (int64, error) {
	gen, err := c.rdb.Get(ctx, genKey(matchID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// SetIfCurrent caches data unless the match was invalidated after gen was read. It
// reports whether the entry was written.
func (c *MatchCache) SetIfCurrent(ctx context.Context, matchID uuid.UUID, data []byte, gen int64) (bool, error) {
	n, err := setIfCurrent.Run(ctx, c.rdb,
		[]string{key(matchID), genKey(matchID)},
		data, gen, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Invalidate drops the cached view and bumps the generation in one transaction.
func (c *MatchCache) Invalidate(ctx context.Context, matchID uuid.UUID) error {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key(matchID))
		p.Incr(ctx, genKey(matchID))
		p.Expire(ctx, genKey(matchID), genTTL)
		return nil
	})
	return err
}
