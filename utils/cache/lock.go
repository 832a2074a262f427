package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes work on a key across API instances.
// Acquire returns a release func, or ok=false when someone else holds the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Marker records that a key has been seen, for at-most-once fast paths.
type Marker interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

// Only delete the lock if we still own it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire takes a short-lived lock using SET NX with a random token
func (r *RedisCache) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := r.SetNX(ctx, key, token, ttl)
	if err != nil || !ok {
		return func() {}, false, err
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		releaseScript.Run(ctx, r.client, []string{key}, token)
	}
	return release, true, nil
}

// Seen reports whether the marker key exists
func (r *RedisCache) Seen(ctx context.Context, key string) (bool, error) {
	return r.Exists(ctx, key)
}

// Mark sets the marker key
func (r *RedisCache) Mark(ctx context.Context, key string, ttl time.Duration) error {
	return r.Set(ctx, key, "1", ttl)
}

// NoopLocker always grants the lock. Used when Redis is not configured;
// the database constraints still guarantee correctness.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}

// NoopMarker never remembers anything
type NoopMarker struct{}

func (NoopMarker) Seen(context.Context, string) (bool, error)        { return false, nil }
func (NoopMarker) Mark(context.Context, string, time.Duration) error { return nil }
