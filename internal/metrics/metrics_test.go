package metrics

import (
	"context"
	"testing"
	"time"
)

func TestCountersAndSnapshot(t *testing.T) {
	m := NewMetrics()
	m.IncrementRequests()
	m.IncrementRequests()
	m.IncrementDuplicates()
	m.IncrementRecordsAccepted()
	m.AddRecordsForwarded(3)

	s := m.GetSnapshot()
	if s.Requests != 2 || s.Duplicates != 1 || s.RecordsAccepted != 1 || s.RecordsForwarded != 3 {
		t.Fatalf("unexpected snapshot %+v", s)
	}
}

func TestAcceptedRate(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < 5; i++ {
		m.IncrementRecordsAccepted()
	}
	m.tick()
	if got := m.GetAcceptedPerSecond(); got != 5 {
		t.Fatalf("rate = %d, want 5", got)
	}

	m.IncrementRecordsAccepted()
	m.tick()
	if got := m.GetAcceptedPerSecond(); got != 1 {
		t.Fatalf("rate = %d, want 1", got)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	m := NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
