// Package buffer holds the bounded, most-recent-wins hand-off buffers that
// sit between the ingestion handlers and downstream readers.
package buffer

import (
	"fmt"
	"time"
)

// Buffer is a fixed-capacity FIFO. Push never blocks; when full it evicts
// the oldest entry and reports true.
type Buffer[T any] interface {
	Push(item T) (evicted bool)
	Snapshot() []T
	PopBatch(n int) []T
	Count() int
	Capacity() int
}

const (
	TypeRing          = "ring"
	TypeSlidingWindow = "sliding_window"
)

// New builds a buffer of the configured type
func New[T any](bufferType string, size int, maxAge time.Duration) (Buffer[T], error) {
	if size < 1 {
		return nil, fmt.Errorf("buffer size must be at least 1, got %d", size)
	}
	switch bufferType {
	case TypeRing, "":
		return NewRingBuffer[T](size), nil
	case TypeSlidingWindow:
		if maxAge <= 0 {
			return nil, fmt.Errorf("sliding window buffer needs a positive max age")
		}
		return NewSlidingWindowBuffer[T](maxAge, size), nil
	default:
		return nil, fmt.Errorf("unknown buffer type %q", bufferType)
	}
}
