package cache

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yieldera/datahub/internal/model"
	"github.com/yieldera/datahub/internal/store"
)

// DefaultTTL is the freshness window for cached results.
const DefaultTTL = 24 * time.Hour

// Cache wraps the durable store with the at-most-one-computation contract.
type Cache struct {
	store store.Store
	ttl   time.Duration
	group singleflight.Group
}

// New creates a cache with the given TTL; ttl <= 0 uses the default.
func New(st store.Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: st, ttl: ttl}
}

// GetOrCompute returns the cached payload for the fingerprint if a fresh
// entry exists, otherwise runs compute and stores its result with a fresh
// TTL. Concurrent misses on the same fingerprint share one computation via
// singleflight; distinct fingerprints never block each other. A compute
// failure propagates to every waiter and leaves no cache entry. The bool
// reports whether the payload came from the cache.
func (c *Cache) GetOrCompute(ctx context.Context, fingerprint string, compute func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if e, err := c.store.GetCacheEntry(ctx, fingerprint); err != nil {
		return nil, false, err
	} else if e != nil {
		return e.Payload, true, nil
	}

	type flight struct {
		payload []byte
		hit     bool
	}

	v, err, _ := c.group.Do(fingerprint, func() (any, error) {
		// A racing flight may have filled the entry between our lookup and
		// the singleflight admission.
		if e, err := c.store.GetCacheEntry(ctx, fingerprint); err != nil {
			return nil, err
		} else if e != nil {
			return flight{payload: e.Payload, hit: true}, nil
		}

		payload, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		if err := c.store.PutCacheEntry(ctx, model.CacheEntry{
			Fingerprint: fingerprint,
			Payload:     payload,
			CreatedAt:   now,
			ExpiresAt:   now.Add(c.ttl),
		}); err != nil {
			return nil, eris.Wrap(err, "cache: store entry")
		}
		return flight{payload: payload}, nil
	})
	if err != nil {
		return nil, false, err
	}

	f := v.(flight)
	return f.payload, f.hit, nil
}

// Sweep deletes expired entries. Expired entries are already invisible to
// lookups; the sweep just reclaims space.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	n, err := c.store.DeleteExpiredCacheEntries(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		zap.L().Info("cache sweep", zap.Int("deleted", n))
	}
	return n, nil
}
