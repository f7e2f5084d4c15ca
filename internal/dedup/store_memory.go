package dedup

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore keeps keys in process. It is exact for a single gateway
// instance only.
type MemoryStore struct {
	cache *ttlcache.Cache[string, struct{}]
}

func NewMemoryStore() *MemoryStore {
	cache := ttlcache.New[string, struct{}](
		// A duplicate must not push the expiry out
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go cache.Start()
	return &MemoryStore{cache: cache}
}

func (m *MemoryStore) SetIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	_, found := m.cache.GetOrSet(key, struct{}{}, ttlcache.WithTTL[string, struct{}](ttl))
	return !found, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

// Len counts live keys
func (m *MemoryStore) Len() int {
	return m.cache.Len()
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) Close() error {
	m.cache.Stop()
	return nil
}
