// Package dedup suppresses retransmitted telemetry. A fingerprint seen
// within its namespace TTL is a duplicate; the store is the single source
// of truth for "first sighting".
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Arrow-air/svc-telemetry/pkg/logger"
)

// ErrCacheUnavailable means the backing store could not answer
var ErrCacheUnavailable = errors.New("dedup: cache unavailable")

// Store is a TTL-bearing key/value store with an atomic set-if-absent
type Store interface {
	// SetIfAbsent stores key for ttl when it is absent (or expired) and
	// reports whether it did. An existing key keeps its original expiry.
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Delete removes key so a later sighting counts as first
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Cache is one format's namespace in a Store
type Cache struct {
	store   Store
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	logger  *logger.Logger
}

// NewCache creates a namespace with its own key prefix and TTL. timeout
// bounds each store round trip; zero means the caller's context only.
func NewCache(store Store, prefix string, ttl, timeout time.Duration, log *logger.Logger) *Cache {
	return &Cache{
		store:   store,
		prefix:  prefix,
		ttl:     ttl,
		timeout: timeout,
		logger:  log.With("namespace", prefix),
	}
}

func (c *Cache) key(k Key) string {
	return c.prefix + ":" + string(k)
}

// TTL is the namespace expiry window
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// SeenOrMark returns false for the first sighting of k within the TTL
// (and marks it), true for a duplicate. The TTL is not extended.
func (c *Cache) SeenOrMark(ctx context.Context, k Key) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stored, err := c.store.SetIfAbsent(ctx, c.key(k), c.ttl)
	if err != nil {
		c.logger.Error("dedup store unreachable", "error", err)
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return !stored, nil
}

// Release forgets k so a retry of a failed hand-off is not swallowed
func (c *Cache) Release(ctx context.Context, k Key) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.store.Delete(ctx, c.key(k)); err != nil {
		c.logger.Error("could not release dedup key", "error", err)
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}
