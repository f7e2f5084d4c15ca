package forwarder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Arrow-air/svc-telemetry/internal/buffer"
	"github.com/Arrow-air/svc-telemetry/internal/metrics"
	"github.com/Arrow-air/svc-telemetry/internal/model"
	"github.com/Arrow-air/svc-telemetry/pkg/logger"
)

type recordingUpdater struct {
	mu      sync.Mutex
	batches map[model.Kind][]int
	err     error
}

func (r *recordingUpdater) Update(_ context.Context, kind model.Kind, records []model.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.batches == nil {
		r.batches = map[model.Kind][]int{}
	}
	r.batches[kind] = append(r.batches[kind], len(records))
	return nil
}

func newOutbox(t *testing.T) *buffer.HandOff {
	t.Helper()
	h, err := buffer.NewHandOff(buffer.TypeRing, 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestFlushBatchesPerKind(t *testing.T) {
	outbox := newOutbox(t)
	for i := 0; i < 25; i++ {
		outbox.Push(&model.Position{Identifier: "A"})
	}
	outbox.Push(&model.Identity{Identifier: "A"})

	up := &recordingUpdater{}
	m := metrics.NewMetrics()
	f := New(outbox, up, Options{Interval: time.Second, BatchSize: 10, Workers: 2}, m, logger.Discard())

	if err := f.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	total := 0
	for _, n := range up.batches[model.KindPosition] {
		if n > 10 {
			t.Fatalf("batch of %d exceeds batch size", n)
		}
		total += n
	}
	if total != 25 || len(up.batches[model.KindPosition]) != 3 {
		t.Fatalf("position batches %v", up.batches[model.KindPosition])
	}
	if len(up.batches[model.KindIdentity]) != 1 {
		t.Fatalf("identity batches %v", up.batches[model.KindIdentity])
	}
	if outbox.Positions.Count() != 0 {
		t.Fatal("outbox should be drained")
	}
	if m.GetRecordsForwarded() != 26 {
		t.Fatalf("forwarded %d, want 26", m.GetRecordsForwarded())
	}
}

func TestFlushFailureDropsBatch(t *testing.T) {
	outbox := newOutbox(t)
	outbox.Push(&model.Velocity{Identifier: "A"})

	boom := errors.New("unavailable")
	m := metrics.NewMetrics()
	f := New(outbox, &recordingUpdater{err: boom}, Options{BatchSize: 10, Workers: 1}, m, logger.Discard())

	if err := f.Flush(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected delivery error, got %v", err)
	}
	if outbox.Velocities.Count() != 0 {
		t.Fatal("failed batch should not be requeued")
	}
	if m.GetBackendFailures() != 1 {
		t.Fatal("backend failure not counted")
	}
}

func TestRunFlushesOnTick(t *testing.T) {
	outbox := newOutbox(t)
	up := &recordingUpdater{}
	f := New(outbox, up, Options{Interval: 10 * time.Millisecond, BatchSize: 10, Workers: 1}, metrics.NewMetrics(), logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	outbox.Push(&model.Position{Identifier: "A"})

	deadline := time.Now().Add(time.Second)
	for {
		up.mu.Lock()
		n := len(up.batches[model.KindPosition])
		up.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("record was not forwarded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRunFlushesOnStop(t *testing.T) {
	outbox := newOutbox(t)
	up := &recordingUpdater{}
	f := New(outbox, up, Options{Interval: time.Hour, BatchSize: 10, Workers: 1, Timeout: time.Second}, metrics.NewMetrics(), logger.Discard())

	outbox.Push(&model.Identity{Identifier: "A"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.Run(ctx)

	if len(up.batches[model.KindIdentity]) != 1 {
		t.Fatalf("identity batches %v, want one final batch", up.batches[model.KindIdentity])
	}
}
