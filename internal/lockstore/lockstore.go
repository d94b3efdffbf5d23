// Package lockstore implements short-lived advisory slot locks on Redis.
//
// The locks are a fast-rejection aid for clients racing on the same slot. They are never
// the source of truth: the relational store's unique index and conditional updates decide
// every outcome, so a lost or stale key can only cost an extra database round-trip.
package lockstore

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "slot-lock:"

// acquireScript sets KEYS[1]=ARGV[1] with a PX of ARGV[2] when the key is absent or
// already owned by ARGV[1]. Returns 1 when the caller holds the key afterwards.
var acquireScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false or current == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

// Locker is the contract the reservation engine depends on.
type Locker interface {
	Acquire(ctx context.Context, slotID, owner uuid.UUID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, slotID uuid.UUID) error
	Holder(ctx context.Context, slotID uuid.UUID) (uuid.UUID, bool, error)
}

// Store is the Redis-backed Locker.
type Store struct {
	rdb *redis.Client
}

// New wraps an existing client; the caller owns its lifecycle.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Key returns the Redis key guarding a slot.
func Key(slotID uuid.UUID) string {
	return keyPrefix + slotID.String()
}

// Acquire takes the lock for owner, or refreshes its TTL when owner already holds it.
func (s *Store) Acquire(ctx context.Context, slotID, owner uuid.UUID, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("lockstore: ttl must be positive")
	}
	res, err := acquireScript.Run(ctx, s.rdb, []string{Key(slotID)}, owner.String(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Release deletes the key whoever holds it.
func (s *Store) Release(ctx context.Context, slotID uuid.UUID) error {
	return s.rdb.Del(ctx, Key(slotID)).Err()
}

// Holder reports the current owner. ok is false when the slot is not locked.
func (s *Store) Holder(ctx context.Context, slotID uuid.UUID) (owner uuid.UUID, ok bool, err error) {
	val, err := s.rdb.Get(ctx, Key(slotID)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	owner, err = uuid.Parse(val)
	if err != nil {
		// A value this package did not write; treat the slot as unlocked.
		return uuid.Nil, false, nil
	}
	return owner, true, nil
}
