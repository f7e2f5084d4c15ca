// Package ingest runs one inbound payload through decode, dedup and
// hand-off. It is transport agnostic; the HTTP layer maps its errors to
// status codes.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Arrow-air/svc-telemetry/internal/backend"
	"github.com/Arrow-air/svc-telemetry/internal/broker"
	"github.com/Arrow-air/svc-telemetry/internal/buffer"
	"github.com/Arrow-air/svc-telemetry/internal/decoder"
	"github.com/Arrow-air/svc-telemetry/internal/dedup"
	"github.com/Arrow-air/svc-telemetry/internal/metrics"
	"github.com/Arrow-air/svc-telemetry/internal/model"
	"github.com/Arrow-air/svc-telemetry/pkg/logger"
	"github.com/Arrow-air/svc-telemetry/pkg/utils"
)

// ErrUnsupportedFormat means no decoder is registered for the format
var ErrUnsupportedFormat = errors.New("unsupported telemetry format")

// Config wires a Pipeline. Every format with a decoder needs a dedup
// namespace and a topic.
type Config struct {
	Decoders       *decoder.Registry
	Dedup          map[model.Format]*dedup.Cache
	HandOffs       []*buffer.HandOff
	Publisher      broker.Publisher
	Topics         map[model.Format]string
	PublishTimeout time.Duration
	Metrics        *metrics.Metrics
	Logger         *logger.Logger
	Clock          utils.Clock
}

type Pipeline struct {
	decoders       *decoder.Registry
	dedup          map[model.Format]*dedup.Cache
	handoffs       []*buffer.HandOff
	publisher      broker.Publisher
	topics         map[model.Format]string
	publishTimeout time.Duration
	metrics        *metrics.Metrics
	logger         *logger.Logger
	now            utils.Clock
}

// Result counts what happened to the records of one payload
type Result struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
}

func New(cfg Config) (*Pipeline, error) {
	for _, f := range []model.Format{model.FormatADSB, model.FormatMAVLink, model.FormatNetRID, model.FormatBasic} {
		if _, ok := cfg.Decoders.Lookup(f); !ok {
			continue
		}
		if cfg.Dedup[f] == nil {
			return nil, fmt.Errorf("ingest: no dedup namespace for %s", f)
		}
		if cfg.Topics[f] == "" {
			return nil, fmt.Errorf("ingest: no topic for %s", f)
		}
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("ingest: publisher required")
	}

	now := cfg.Clock
	if now == nil {
		now = utils.SystemClock
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewMetrics()
	}

	return &Pipeline{
		decoders:       cfg.Decoders,
		dedup:          cfg.Dedup,
		handoffs:       cfg.HandOffs,
		publisher:      cfg.Publisher,
		topics:         cfg.Topics,
		publishTimeout: cfg.PublishTimeout,
		metrics:        m,
		logger:         cfg.Logger,
		now:            now,
	}, nil
}

// Envelope stamps a payload with its arrival time
func (p *Pipeline) Envelope(format model.Format, payload []byte) model.Envelope {
	return model.Envelope{Format: format, Payload: payload, ReceivedAt: p.now()}
}

// Ingest decodes env and forwards each record seen for the first time
// within its namespace TTL. subject, when set, replaces the decoded
// identifier of every record.
//
// Errors wrap decoder.ErrDecode, dedup.ErrCacheUnavailable,
// backend.ErrBackendUnavailable or ErrUnsupportedFormat. Records handed
// off before a failure stay handed off; a retry sees them as duplicates.
func (p *Pipeline) Ingest(ctx context.Context, env model.Envelope, subject string) (Result, error) {
	var res Result

	dec, ok := p.decoders.Lookup(env.Format)
	if !ok {
		return res, fmt.Errorf("%w: %s", ErrUnsupportedFormat, env.Format)
	}

	records, err := dec.Decode(env.Payload, env.ReceivedAt)
	if err != nil {
		p.metrics.IncrementDecodeFailures()
		p.logger.Debug("payload rejected", "format", env.Format, "error", err)
		return res, err
	}

	cache := p.dedup[env.Format]
	for _, rec := range records {
		if subject != "" {
			model.BindSubject(rec, subject)
		}

		key, err := dedup.Fingerprint(env.Format, rec)
		if err != nil {
			return res, err
		}

		seen, err := cache.SeenOrMark(ctx, key)
		if err != nil {
			return res, err
		}
		if seen {
			p.metrics.IncrementDuplicates()
			res.Duplicates++
			continue
		}

		if err := p.publish(ctx, env, rec, key); err != nil {
			if relErr := cache.Release(ctx, key); relErr != nil {
				p.logger.Error("dedup key left marked after failed publish", "key", key, "error", relErr)
			}
			return res, err
		}

		p.handOff(rec)
		p.metrics.IncrementRecordsAccepted()
		res.Accepted++
	}

	return res, nil
}

// message is the broker payload. ID is the dedup fingerprint, so
// consumers can drop redeliveries.
type message struct {
	ID         string       `json:"id"`
	Format     model.Format `json:"format"`
	Kind       model.Kind   `json:"kind"`
	ReceivedAt time.Time    `json:"received_at"`
	Record     model.Record `json:"record"`
}

func (p *Pipeline) publish(ctx context.Context, env model.Envelope, rec model.Record, key dedup.Key) error {
	body, err := json.Marshal(message{
		ID:         string(key),
		Format:     env.Format,
		Kind:       rec.Kind(),
		ReceivedAt: env.ReceivedAt,
		Record:     rec,
	})
	if err != nil {
		return fmt.Errorf("ingest: encoding message: %w", err)
	}

	if p.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.publishTimeout)
		defer cancel()
	}

	err = p.publisher.Publish(ctx, broker.Message{Topic: p.topics[env.Format], ID: string(key), Body: body})
	if err != nil {
		p.metrics.IncrementPublishFailures()
		p.logger.Error("publish failed", "format", env.Format, "topic", p.topics[env.Format], "error", err)
		if !errors.Is(err, backend.ErrBackendUnavailable) {
			err = fmt.Errorf("%w: broker: %v", backend.ErrBackendUnavailable, err)
		}
		return err
	}
	return nil
}

func (p *Pipeline) handOff(rec model.Record) {
	for _, h := range p.handoffs {
		evicted, err := h.Push(rec)
		if err != nil {
			p.logger.Warn("record not buffered", "kind", rec.Kind(), "error", err)
			continue
		}
		if evicted {
			p.metrics.IncrementBufferEvictions()
		}
	}
}
