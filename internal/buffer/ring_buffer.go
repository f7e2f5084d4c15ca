package buffer

import (
	"sync"
)

// RingBuffer is a circular buffer. If the buffer is full, Push overwrites
// the oldest entry.
type RingBuffer[T any] struct {
	buffer []T
	size   int
	head   int // next write slot
	tail   int // oldest entry
	count  int
	mu     sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the specified size
func NewRingBuffer[T any](size int) *RingBuffer[T] {
	return &RingBuffer[T]{
		buffer: make([]T, size),
		size:   size,
	}
}

// Push adds a new item to the buffer
func (rb *RingBuffer[T]) Push(item T) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	evicted := false
	if rb.count == rb.size {
		rb.tail = (rb.tail + 1) % rb.size
		evicted = true
	} else {
		rb.count++
	}

	rb.buffer[rb.head] = item
	rb.head = (rb.head + 1) % rb.size

	return evicted
}

func (rb *RingBuffer[T]) popLocked() T {
	var zero T
	item := rb.buffer[rb.tail]
	rb.buffer[rb.tail] = zero
	rb.tail = (rb.tail + 1) % rb.size
	rb.count--
	return item
}

// PopBatch removes and returns up to n items, oldest first
func (rb *RingBuffer[T]) PopBatch(n int) []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if n > rb.count {
		n = rb.count
	}
	if n <= 0 {
		return nil
	}

	items := make([]T, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, rb.popLocked())
	}
	return items
}

// Count returns the number of items currently in the buffer
func (rb *RingBuffer[T]) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Capacity returns the fixed size of the buffer
func (rb *RingBuffer[T]) Capacity() int {
	return rb.size
}

// Snapshot returns all items in insertion order without removing them
func (rb *RingBuffer[T]) Snapshot() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	items := make([]T, 0, rb.count)
	for i := 0; i < rb.count; i++ {
		items = append(items, rb.buffer[(rb.tail+i)%rb.size])
	}
	return items
}
