package buffer

import (
	"sync"
	"testing"
)

func TestRingBufferKeepsLastNInOrder(t *testing.T) {
	const capacity = 5
	rb := NewRingBuffer[int](capacity)

	evictions := 0
	for i := 0; i < capacity+3; i++ {
		if rb.Push(i) {
			evictions++
		}
	}

	if evictions != 3 {
		t.Fatalf("expected 3 evictions, got %d", evictions)
	}

	got := rb.Snapshot()
	want := []int{3, 4, 5, 6, 7}
	if len(got) != len(want) {
		t.Fatalf("snapshot length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("snapshot[%d] = %d, want %d (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestRingBufferSnapshotDoesNotDrain(t *testing.T) {
	rb := NewRingBuffer[string](3)
	rb.Push("a")
	rb.Push("b")

	_ = rb.Snapshot()
	if rb.Count() != 2 {
		t.Fatalf("count after snapshot = %d, want 2", rb.Count())
	}
}

func TestRingBufferPopBatch(t *testing.T) {
	rb := NewRingBuffer[int](4)
	for i := 1; i <= 6; i++ {
		rb.Push(i)
	}

	batch := rb.PopBatch(3)
	if len(batch) != 3 || batch[0] != 3 || batch[2] != 5 {
		t.Fatalf("unexpected batch %v", batch)
	}
	if rb.Count() != 1 {
		t.Fatalf("count = %d, want 1", rb.Count())
	}

	rest := rb.PopBatch(10)
	if len(rest) != 1 || rest[0] != 6 {
		t.Fatalf("unexpected rest %v", rest)
	}
	if rb.Count() != 0 {
		t.Fatal("buffer should be empty")
	}
	if rb.PopBatch(1) != nil {
		t.Fatal("pop from empty buffer should return nil")
	}
}

func TestRingBufferRefillAfterPop(t *testing.T) {
	rb := NewRingBuffer[int](2)
	rb.Push(1)
	rb.Push(2)
	rb.Push(3)

	if got := rb.PopBatch(1); len(got) != 1 || got[0] != 2 {
		t.Fatalf("pop = %v, want [2]", got)
	}
	if rb.Push(4) {
		t.Fatal("push into non-full buffer must not evict")
	}
	if got := rb.Snapshot(); len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Fatalf("snapshot = %v, want [3 4]", got)
	}
	if !rb.Push(5) {
		t.Fatal("push into full buffer must evict")
	}
}

func TestRingBufferConcurrentPush(t *testing.T) {
	rb := NewRingBuffer[int](100)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				rb.Push(i)
				_ = rb.Snapshot()
			}
		}()
	}
	wg.Wait()

	if rb.Count() != 100 {
		t.Fatalf("count = %d, want 100", rb.Count())
	}
}
