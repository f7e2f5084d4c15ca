package buffer

import (
	"sync"
	"time"

	"github.com/Arrow-air/svc-telemetry/pkg/utils"
)

// SlidingWindowBuffer keeps at most maxSize items and drops items older
// than windowSize. Stale positions are worthless to a live tracker.
type SlidingWindowBuffer[T any] struct {
	items      []timestamped[T]
	windowSize time.Duration
	maxSize    int
	now        utils.Clock
	mu         sync.Mutex
}

type timestamped[T any] struct {
	item      T
	timestamp time.Time
}

// NewSlidingWindowBuffer creates a new sliding window buffer
func NewSlidingWindowBuffer[T any](windowSize time.Duration, maxSize int) *SlidingWindowBuffer[T] {
	return &SlidingWindowBuffer[T]{
		items:      make([]timestamped[T], 0, maxSize),
		windowSize: windowSize,
		maxSize:    maxSize,
		now:        utils.SystemClock,
	}
}

// WithClock replaces the buffer's time source
func (swb *SlidingWindowBuffer[T]) WithClock(clock utils.Clock) *SlidingWindowBuffer[T] {
	swb.mu.Lock()
	defer swb.mu.Unlock()
	swb.now = clock
	return swb
}

// Push adds a new item stamped with the current time
func (swb *SlidingWindowBuffer[T]) Push(item T) bool {
	swb.mu.Lock()
	defer swb.mu.Unlock()

	swb.removeExpired()

	evicted := false
	if len(swb.items) == swb.maxSize {
		var zero timestamped[T]
		swb.items[0] = zero
		swb.items = swb.items[1:]
		evicted = true
	}
	swb.items = append(swb.items, timestamped[T]{item: item, timestamp: swb.now()})

	return evicted
}

// removeExpired drops items outside the window. Caller holds the lock.
func (swb *SlidingWindowBuffer[T]) removeExpired() {
	now := swb.now()

	firstValid := 0
	for firstValid < len(swb.items) && !utils.IsWithinWindow(swb.items[firstValid].timestamp, now, swb.windowSize) {
		firstValid++
	}

	if firstValid > 0 {
		swb.items = append(swb.items[:0:0], swb.items[firstValid:]...)
	}
}

// Snapshot returns all items within the window, oldest first
func (swb *SlidingWindowBuffer[T]) Snapshot() []T {
	swb.mu.Lock()
	defer swb.mu.Unlock()

	swb.removeExpired()

	items := make([]T, 0, len(swb.items))
	for _, ts := range swb.items {
		items = append(items, ts.item)
	}
	return items
}

// PopBatch removes and returns up to n oldest items
func (swb *SlidingWindowBuffer[T]) PopBatch(n int) []T {
	swb.mu.Lock()
	defer swb.mu.Unlock()

	swb.removeExpired()

	if n > len(swb.items) {
		n = len(swb.items)
	}
	if n <= 0 {
		return nil
	}

	items := make([]T, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, swb.items[i].item)
	}
	swb.items = append(swb.items[:0:0], swb.items[n:]...)

	return items
}

// Count returns the number of items in the window
func (swb *SlidingWindowBuffer[T]) Count() int {
	swb.mu.Lock()
	defer swb.mu.Unlock()

	swb.removeExpired()
	return len(swb.items)
}

// Capacity returns the maximum number of items kept
func (swb *SlidingWindowBuffer[T]) Capacity() int {
	return swb.maxSize
}
