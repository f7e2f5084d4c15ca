package ingest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Arrow-air/svc-telemetry/internal/backend"
	"github.com/Arrow-air/svc-telemetry/internal/broker"
	"github.com/Arrow-air/svc-telemetry/internal/buffer"
	"github.com/Arrow-air/svc-telemetry/internal/decoder"
	"github.com/Arrow-air/svc-telemetry/internal/dedup"
	"github.com/Arrow-air/svc-telemetry/internal/metrics"
	"github.com/Arrow-air/svc-telemetry/internal/model"
	"github.com/Arrow-air/svc-telemetry/pkg/logger"
)

const klmIdentification = "8D4840D6202CC371C32CE0576098"

// countingStore wraps a store and counts SetIfAbsent calls
type countingStore struct {
	dedup.Store
	calls atomic.Int32
}

func (c *countingStore) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.calls.Add(1)
	return c.Store.SetIfAbsent(ctx, key, ttl)
}

type fixture struct {
	pipeline  *Pipeline
	store     *countingStore
	publisher *broker.MemoryPublisher
	handoff   *buffer.HandOff
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mem := dedup.NewMemoryStore()
	t.Cleanup(func() { mem.Close() })
	store := &countingStore{Store: mem}

	log := logger.Discard()
	caches := map[model.Format]*dedup.Cache{
		model.FormatADSB:    dedup.NewCache(store, "tlm:adsb", 2*time.Second, time.Second, log),
		model.FormatMAVLink: dedup.NewCache(store, "tlm:mav", 2*time.Second, time.Second, log),
		model.FormatNetRID:  dedup.NewCache(store, "tlm:netrid", 10*time.Second, time.Second, log),
		model.FormatBasic:   dedup.NewCache(store, "tlm:basic", 10*time.Second, time.Second, log),
	}

	handoff, err := buffer.NewHandOff(buffer.TypeRing, 100, 0)
	if err != nil {
		t.Fatal(err)
	}

	pub := broker.NewMemoryPublisher()
	m := metrics.NewMetrics()
	p, err := New(Config{
		Decoders:  decoder.NewDefaultRegistry(),
		Dedup:     caches,
		HandOffs:  []*buffer.HandOff{handoff},
		Publisher: pub,
		Topics: map[model.Format]string{
			model.FormatADSB:    "adsb",
			model.FormatMAVLink: "adsb",
			model.FormatNetRID:  "netrid",
			model.FormatBasic:   "basic",
		},
		PublishTimeout: time.Second,
		Metrics:        m,
		Logger:         log,
	})
	if err != nil {
		t.Fatal(err)
	}

	return &fixture{pipeline: p, store: store, publisher: pub, handoff: handoff, metrics: m}
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestDuplicateForwardedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := mustHex(t, klmIdentification)

	res, err := f.pipeline.Ingest(ctx, f.pipeline.Envelope(model.FormatADSB, payload), "")
	if err != nil || res.Accepted != 1 {
		t.Fatalf("first: res=%+v err=%v", res, err)
	}

	res, err = f.pipeline.Ingest(ctx, f.pipeline.Envelope(model.FormatADSB, payload), "")
	if err != nil || res.Duplicates != 1 || res.Accepted != 0 {
		t.Fatalf("second: res=%+v err=%v", res, err)
	}

	if n := len(f.publisher.Messages()); n != 1 {
		t.Fatalf("%d messages published, want 1", n)
	}
	if n := f.handoff.Identities.Count(); n != 1 {
		t.Fatalf("%d identities buffered, want 1", n)
	}
	if f.metrics.GetDuplicates() != 1 || f.metrics.GetRecordsAccepted() != 1 {
		t.Fatalf("unexpected metrics %+v", f.metrics.GetSnapshot())
	}
}

func TestConcurrentDuplicatesForwardedOnce(t *testing.T) {
	f := newFixture(t)
	payload := mustHex(t, klmIdentification)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.pipeline.Ingest(context.Background(), f.pipeline.Envelope(model.FormatADSB, payload), ""); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if n := len(f.publisher.Messages()); n != 1 {
		t.Fatalf("%d messages published, want 1", n)
	}
	if n := f.handoff.Identities.Count(); n != 1 {
		t.Fatalf("%d identities buffered, want 1", n)
	}
}

func TestEmptyPayloadLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Ingest(context.Background(), f.pipeline.Envelope(model.FormatADSB, nil), "")
	if !errors.Is(err, decoder.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if f.store.calls.Load() != 0 {
		t.Fatal("dedup store was consulted for an undecodable payload")
	}
	for kind, s := range f.handoff.Stats() {
		if s.Count != 0 {
			t.Fatalf("%s buffer holds %d entries", kind, s.Count)
		}
	}
	if f.metrics.GetDecodeFailures() != 1 {
		t.Fatal("decode failure not counted")
	}
}

func TestPublishFailureReleasesKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := mustHex(t, klmIdentification)

	f.publisher.FailWith(errors.New("broker down"))
	_, err := f.pipeline.Ingest(ctx, f.pipeline.Envelope(model.FormatADSB, payload), "")
	if !errors.Is(err, backend.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if f.handoff.Identities.Count() != 0 {
		t.Fatal("record buffered despite failed publish")
	}

	f.publisher.FailWith(nil)
	res, err := f.pipeline.Ingest(ctx, f.pipeline.Envelope(model.FormatADSB, payload), "")
	if err != nil || res.Accepted != 1 {
		t.Fatalf("retry should be accepted: res=%+v err=%v", res, err)
	}
}

func TestSubjectIsBound(t *testing.T) {
	f := newFixture(t)

	// ASTM F3411 Basic ID, rotorcraft
	msg := make([]byte, 25)
	msg[0] = 0x02
	msg[1] = 0x12
	copy(msg[2:], "SERIAL0001")

	res, err := f.pipeline.Ingest(context.Background(), f.pipeline.Envelope(model.FormatNetRID, msg), "N12345")
	if err != nil || res.Accepted != 1 {
		t.Fatalf("res=%+v err=%v", res, err)
	}

	ids := f.handoff.Identities.Snapshot()
	if len(ids) != 1 || ids[0].Identifier != "N12345" || ids[0].Callsign != "SERIAL0001" {
		t.Fatalf("unexpected identities %+v", ids)
	}
}

func TestPublishedMessageShape(t *testing.T) {
	f := newFixture(t)
	if _, err := f.pipeline.Ingest(context.Background(), f.pipeline.Envelope(model.FormatADSB, mustHex(t, klmIdentification)), ""); err != nil {
		t.Fatal(err)
	}

	msg := f.publisher.Messages()[0]
	if msg.Topic != "adsb" || msg.ID == "" {
		t.Fatalf("unexpected message %+v", msg)
	}

	var body struct {
		ID     string         `json:"id"`
		Format string         `json:"format"`
		Kind   string         `json:"kind"`
		Record model.Identity `json:"record"`
	}
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		t.Fatal(err)
	}
	if body.ID != msg.ID || body.Format != "adsb" || body.Kind != "identity" || body.Record.Callsign != "KLM1023" {
		t.Fatalf("unexpected body %s", msg.Body)
	}
}

func TestBasicTelemetryLandsInPositions(t *testing.T) {
	f := newFixture(t)
	id := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	payload, err := decoder.EncodeBasic(id, model.Coordinates{Latitude: 10, Longitude: 20, AltitudeMeters: 30})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.pipeline.Ingest(context.Background(), f.pipeline.Envelope(model.FormatBasic, payload), ""); err != nil {
		t.Fatal(err)
	}
	positions := f.handoff.Positions.Snapshot()
	if len(positions) != 1 || positions[0].Source != model.FormatBasic || positions[0].Latitude != 10 {
		t.Fatalf("unexpected positions %+v", positions)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.Ingest(context.Background(), f.pipeline.Envelope("ais", []byte{1}), "")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestNewRequiresTopics(t *testing.T) {
	_, err := New(Config{
		Decoders:  decoder.NewRegistry(decoder.NewADSBDecoder()),
		Dedup:     map[model.Format]*dedup.Cache{model.FormatADSB: dedup.NewCache(dedup.NewMemoryStore(), "x", time.Second, 0, logger.Discard())},
		Publisher: broker.NewMemoryPublisher(),
		Logger:    logger.Discard(),
	})
	if err == nil {
		t.Fatal("missing topic should be rejected")
	}
}
