// Package backend holds lazily connected clients for downstream services.
// A failed connect is not fatal: the slot stays empty and the next caller
// tries again. There is no background retry loop.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Arrow-air/svc-telemetry/pkg/logger"
)

// ErrBackendUnavailable means no client could be obtained
var ErrBackendUnavailable = errors.New("backend unavailable")

// Connector dials address and returns a ready client
type Connector[T any] func(ctx context.Context, address string) (T, error)

// DefaultCloseGrace is how long a replaced client stays open for callers
// that still hold it
const DefaultCloseGrace = 30 * time.Second

// Cache holds at most one client for one backend. Connects are
// serialized; callers blocked on the slot give up when their context does.
// The slot lock is never held while a caller uses the client.
type Cache[T comparable] struct {
	name       string
	address    string
	connect    Connector[T]
	logger     *logger.Logger
	closeGrace time.Duration

	slot   *semaphore.Weighted
	client T
	ready  bool

	mu      sync.Mutex
	retired map[T]*time.Timer
	closed  bool
}

// Address formats a host/port pair. Either part may be empty, in which
// case connects will fail and the backend reports unavailable.
func Address(host, port string) string {
	return net.JoinHostPort(host, port)
}

func New[T comparable](name, address string, connect Connector[T], log *logger.Logger) *Cache[T] {
	return &Cache[T]{
		name:       name,
		address:    address,
		connect:    connect,
		logger:     log.With("backend", name, "address", redact(address)),
		closeGrace: DefaultCloseGrace,
		slot:       semaphore.NewWeighted(1),
		retired:    make(map[T]*time.Timer),
	}
}

// WithCloseGrace sets how long an invalidated client is kept open before
// it is closed. Zero closes it at once.
func (c *Cache[T]) WithCloseGrace(d time.Duration) *Cache[T] {
	c.closeGrace = d
	return c
}

// redact hides credentials in URL-style addresses before they are logged
func redact(address string) string {
	u, err := url.Parse(address)
	if err != nil || u.User == nil {
		return address
	}
	return u.Redacted()
}

func (c *Cache[T]) Name() string    { return c.name }
func (c *Cache[T]) Address() string { return c.address }

// Get returns the cached client, connecting first if the slot is empty
func (c *Cache[T]) Get(ctx context.Context) (T, error) {
	var zero T
	if err := c.slot.Acquire(ctx, 1); err != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, c.name, err)
	}
	defer c.slot.Release(1)

	if c.ready {
		return c.client, nil
	}

	c.logger.Info("connecting to backend")
	client, err := c.connect(ctx, c.address)
	if err != nil {
		c.logger.Error("could not connect to backend", "error", err)
		return zero, fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, c.name, err)
	}

	c.client = client
	c.ready = true
	return client, nil
}

// Invalidate reports that stale, a client previously returned by Get, is
// no longer usable. The slot is cleared only if it still holds stale, so
// a late report about an old client never evicts a newer one. The client
// is closed after the close grace so other holders can finish their calls.
func (c *Cache[T]) Invalidate(ctx context.Context, stale T) {
	if err := c.slot.Acquire(ctx, 1); err != nil {
		return
	}
	defer c.slot.Release(1)

	if !c.ready || c.client != stale {
		return
	}
	var zero T
	c.client = zero
	c.ready = false
	c.logger.Warn("backend client invalidated")
	c.retire(stale)
}

// retire closes client after the close grace, if it is an io.Closer
func (c *Cache[T]) retire(client T) {
	if _, ok := any(client).(io.Closer); !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.closeGrace <= 0 {
		c.closeClient(client)
		return
	}
	if _, pending := c.retired[client]; pending {
		return
	}
	c.retired[client] = time.AfterFunc(c.closeGrace, func() {
		c.mu.Lock()
		_, pending := c.retired[client]
		delete(c.retired, client)
		c.mu.Unlock()
		if pending {
			c.closeClient(client)
		}
	})
}

func (c *Cache[T]) closeClient(client T) {
	if closer, ok := any(client).(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.logger.Debug("error closing backend client", "error", err)
		}
	}
}

// Connected reports whether a client is currently cached
func (c *Cache[T]) Connected() bool {
	if !c.slot.TryAcquire(1) {
		// a connect is in flight
		return false
	}
	defer c.slot.Release(1)
	return c.ready
}

// Close drops the client for good and closes every retired client
// without waiting for its grace to run out
func (c *Cache[T]) Close() error {
	if err := c.slot.Acquire(context.Background(), 1); err != nil {
		return err
	}
	current, ready := c.client, c.ready
	var zero T
	c.client = zero
	c.ready = false
	c.slot.Release(1)

	c.mu.Lock()
	c.closed = true
	pending := make([]T, 0, len(c.retired))
	for client, timer := range c.retired {
		if timer.Stop() {
			pending = append(pending, client)
		}
		delete(c.retired, client)
	}
	c.mu.Unlock()

	if ready {
		c.closeClient(current)
	}
	for _, client := range pending {
		c.closeClient(client)
	}
	return nil
}
