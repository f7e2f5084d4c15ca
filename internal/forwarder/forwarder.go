// Package forwarder pushes accepted records to the GIS backend. It drains
// its own outbox hand-off on a fixed interval; a failed batch is logged
// and dropped.
package forwarder

import (
	"context"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/Arrow-air/svc-telemetry/internal/buffer"
	"github.com/Arrow-air/svc-telemetry/internal/metrics"
	"github.com/Arrow-air/svc-telemetry/internal/model"
	"github.com/Arrow-air/svc-telemetry/pkg/logger"
)

// Updater delivers one batch of records of a single kind
type Updater interface {
	Update(ctx context.Context, kind model.Kind, records []model.Record) error
}

type Options struct {
	Interval  time.Duration
	BatchSize int
	Workers   int
	Timeout   time.Duration
}

type Forwarder struct {
	outbox  *buffer.HandOff
	updater Updater
	opts    Options
	pool    pond.Pool
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func New(outbox *buffer.HandOff, updater Updater, opts Options, m *metrics.Metrics, log *logger.Logger) *Forwarder {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Forwarder{
		outbox:  outbox,
		updater: updater,
		opts:    opts,
		pool:    pond.NewPool(opts.Workers),
		metrics: m,
		logger:  log.With("component", "forwarder"),
	}
}

type batch struct {
	kind    model.Kind
	records []model.Record
}

// drain empties the outbox into batches of at most BatchSize
func (f *Forwarder) drain() []batch {
	var batches []batch
	batches = appendBatches(batches, model.KindIdentity, f.outbox.Identities, f.opts.BatchSize, func(v model.Identity) model.Record { return &v })
	batches = appendBatches(batches, model.KindPosition, f.outbox.Positions, f.opts.BatchSize, func(v model.Position) model.Record { return &v })
	batches = appendBatches(batches, model.KindVelocity, f.outbox.Velocities, f.opts.BatchSize, func(v model.Velocity) model.Record { return &v })
	return batches
}

func appendBatches[T any](out []batch, kind model.Kind, b buffer.Buffer[T], size int, wrap func(T) model.Record) []batch {
	for {
		items := b.PopBatch(size)
		if len(items) == 0 {
			return out
		}
		records := make([]model.Record, len(items))
		for i, item := range items {
			records[i] = wrap(item)
		}
		out = append(out, batch{kind: kind, records: records})
	}
}

// Flush sends everything currently in the outbox and returns the first
// delivery error.
func (f *Forwarder) Flush(ctx context.Context) error {
	batches := f.drain()
	if len(batches) == 0 {
		return nil
	}

	group := f.pool.NewGroup()
	for _, b := range batches {
		b := b
		group.SubmitErr(func() error {
			return f.send(ctx, b)
		})
	}
	return group.Wait()
}

func (f *Forwarder) send(ctx context.Context, b batch) error {
	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}

	if err := f.updater.Update(ctx, b.kind, b.records); err != nil {
		f.metrics.IncrementBackendFailures()
		f.logger.Error("batch dropped", "kind", b.kind, "records", len(b.records), "error", err)
		return err
	}

	f.metrics.AddRecordsForwarded(len(b.records))
	f.logger.Debug("batch forwarded", "kind", b.kind, "records", len(b.records))
	return nil
}

// Run flushes on every tick until ctx is done. It then makes one last
// flush bounded by Timeout and stops the pool.
func (f *Forwarder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.opts.Interval)
	defer ticker.Stop()
	defer f.pool.StopAndWait()

	f.logger.Info("forwarding to backend", "interval", f.opts.Interval, "workers", f.opts.Workers)

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("stopping forwarder")
			f.finalFlush()
			return
		case <-ticker.C:
			// errors are already logged per batch
			_ = f.Flush(ctx)
		}
	}
}

func (f *Forwarder) finalFlush() {
	timeout := f.opts.Timeout
	if timeout <= 0 {
		timeout = f.opts.Interval
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := f.Flush(ctx); err != nil {
		f.logger.Warn("final flush incomplete", "error", err)
	}
}
