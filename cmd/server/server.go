package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/Arrow-air/svc-telemetry/internal/admission"
	"github.com/Arrow-air/svc-telemetry/internal/api"
	"github.com/Arrow-air/svc-telemetry/internal/auth"
	"github.com/Arrow-air/svc-telemetry/internal/backend"
	"github.com/Arrow-air/svc-telemetry/internal/broker"
	"github.com/Arrow-air/svc-telemetry/internal/buffer"
	"github.com/Arrow-air/svc-telemetry/internal/config"
	"github.com/Arrow-air/svc-telemetry/internal/decoder"
	"github.com/Arrow-air/svc-telemetry/internal/dedup"
	"github.com/Arrow-air/svc-telemetry/internal/forwarder"
	"github.com/Arrow-air/svc-telemetry/internal/ingest"
	"github.com/Arrow-air/svc-telemetry/internal/metrics"
	"github.com/Arrow-air/svc-telemetry/internal/model"
	"github.com/Arrow-air/svc-telemetry/pkg/logger"
)

const purgeInterval = time.Minute

// gateway owns every long-lived component and their background loops
type gateway struct {
	cfg     *config.Config
	logger  *logger.Logger
	metrics *metrics.Metrics

	store     dedup.Store
	publisher broker.Publisher
	backends  map[string]*backend.Cache[*grpc.ClientConn]
	forwarder *forwarder.Forwarder
	admission *admission.Pipeline
	api       *api.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newGateway(ctx context.Context, cfg *config.Config, log *logger.Logger) (*gateway, error) {
	gw := &gateway{
		cfg:      cfg,
		logger:   log,
		metrics:  metrics.NewMetrics(),
		backends: make(map[string]*backend.Cache[*grpc.ClientConn]),
	}

	ok := false
	defer func() {
		if !ok {
			gw.close()
		}
	}()

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, auth.WithLifetime(cfg.Auth.TokenLifetime))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
	}

	gw.store, err = openDedupStore(ctx, cfg.Dedup)
	if err != nil {
		return nil, err
	}
	caches := make(map[model.Format]*dedup.Cache)
	topics := make(map[model.Format]string)
	for _, format := range []model.Format{model.FormatADSB, model.FormatMAVLink, model.FormatNetRID, model.FormatBasic} {
		ns := cfg.Dedup.Namespaces[string(format)]
		caches[format] = dedup.NewCache(gw.store, ns.Prefix, ns.TTL, cfg.Dedup.Timeout, log)
		topics[format] = cfg.Broker.Topics[string(format)]
	}

	gw.publisher = openPublisher(cfg.Broker, log)

	for name, b := range cfg.Backends {
		gw.backends[name] = backend.NewGRPC(name, b.Host, b.Port, b.ConnectTimeout, log)
	}

	shared, err := buffer.NewHandOff(cfg.Buffer.Type, cfg.Buffer.Size, cfg.Buffer.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
	}
	handOffs := []*buffer.HandOff{shared}

	if gis, found := gw.backends[cfg.Forwarder.Backend]; found {
		outbox, err := buffer.NewHandOff(cfg.Buffer.Type, cfg.Buffer.Size, cfg.Buffer.MaxAge)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
		}
		handOffs = append(handOffs, outbox)
		gw.forwarder = forwarder.New(outbox, backend.NewGISClient(gis), forwarder.Options{
			Interval:  cfg.Forwarder.Interval,
			BatchSize: cfg.Forwarder.BatchSize,
			Workers:   cfg.Forwarder.Workers,
			Timeout:   cfg.Forwarder.Timeout,
		}, gw.metrics, log)
	} else {
		log.Info("forwarder disabled, backend not configured", "backend", cfg.Forwarder.Backend)
	}

	pipeline, err := ingest.New(ingest.Config{
		Decoders:       decoder.NewDefaultRegistry(),
		Dedup:          caches,
		HandOffs:       handOffs,
		Publisher:      gw.publisher,
		Topics:         topics,
		PublishTimeout: cfg.Broker.PublishTimeout,
		Metrics:        gw.metrics,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
	}

	gw.admission, err = admission.New(admission.Config{
		AllowedOrigin:     cfg.CORS.AllowedOrigin,
		RequestsPerSecond: cfg.Admission.RequestsPerSecond,
		Burst:             cfg.Admission.Burst,
		ConcurrencyLimit:  cfg.Admission.ConcurrencyLimit,
		QueueSize:         cfg.Admission.QueueSize,
		QueueTimeout:      cfg.Admission.QueueTimeout,
	}, log, gw.metrics.IncrementAdmissionRejections)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
	}

	gw.api = api.NewServer(api.Options{
		Pipeline:     pipeline,
		Admission:    gw.admission,
		Tokens:       tokens,
		CookieName:   cfg.Auth.CookieName,
		HandOff:      shared,
		Metrics:      gw.metrics,
		Checks:       gw.readinessChecks(),
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       log,
	})

	ok = true
	return gw, nil
}

func openDedupStore(ctx context.Context, cfg config.DedupConfig) (dedup.Store, error) {
	switch cfg.Store {
	case "redis":
		return dedup.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB), nil
	case "postgres":
		store, err := dedup.NewPostgresStore(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case "dynamodb":
		store, err := dedup.NewDynamoStore(ctx, cfg.DynamoDB.Table, cfg.DynamoDB.Region)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return dedup.NewMemoryStore(), nil
	}
}

func openPublisher(cfg config.BrokerConfig, log *logger.Logger) broker.Publisher {
	switch cfg.Kind {
	case "amqp":
		return broker.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.ConnectTimeout, queueNames(cfg.Topics), log)
	case "mqtt":
		return broker.NewMQTTPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.QoS, cfg.PublishTimeout, log)
	default:
		log.Warn("using in-process broker, messages are not durable")
		return broker.NewMemoryPublisher()
	}
}

// queueNames returns the distinct topics in a stable order
func queueNames(topics map[string]string) []string {
	seen := make(map[string]bool, len(topics))
	var names []string
	for _, t := range topics {
		if !seen[t] {
			seen[t] = true
			names = append(names, t)
		}
	}
	sort.Strings(names)
	return names
}

func (gw *gateway) readinessChecks() []api.Check {
	checks := []api.Check{{Name: "dedup", Ping: gw.store.Ping}}
	for name, conn := range gw.backends {
		conn := conn
		checks = append(checks, api.Check{
			Name: name,
			Ping: func(ctx context.Context) error { return backend.Ping(ctx, conn) },
		})
	}
	return checks
}

// reload re-reads the config and applies the settings that can change
// at runtime. Everything else needs a restart.
func (gw *gateway) reload(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	oldRate, oldBurst := gw.admission.Rate.GetLimit()
	gw.admission.Rate.UpdateLimit(cfg.Admission.RequestsPerSecond, cfg.Admission.Burst)
	gw.logger.Info("config reloaded",
		"requests_per_second", cfg.Admission.RequestsPerSecond, "burst", cfg.Admission.Burst,
		"previous_requests_per_second", oldRate, "previous_burst", oldBurst)
	return nil
}

// start launches the background loops. They run until close.
func (gw *gateway) start() {
	ctx, cancel := context.WithCancel(context.Background())
	gw.cancel = cancel

	gw.spawn(func() { gw.metrics.Run(ctx) })
	if gw.forwarder != nil {
		gw.spawn(func() { gw.forwarder.Run(ctx) })
	}
	if pg, ok := gw.store.(*dedup.PostgresStore); ok {
		gw.spawn(func() { gw.purgeExpired(ctx, pg) })
	}
}

func (gw *gateway) spawn(fn func()) {
	gw.wg.Add(1)
	go func() {
		defer gw.wg.Done()
		fn()
	}()
}

// purgeExpired deletes dead dedup rows. Expired rows are already ignored
// by SetIfAbsent; this only bounds table size.
func (gw *gateway) purgeExpired(ctx context.Context, pg *dedup.PostgresStore) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pg.Purge(ctx)
			if err != nil {
				gw.logger.Warn("dedup purge failed", "error", err)
				continue
			}
			gw.logger.Debug("dedup purge", "rows", n)
		}
	}
}

// close stops the background loops, then releases every connection
func (gw *gateway) close() {
	if gw.cancel != nil {
		gw.cancel()
	}
	gw.wg.Wait()

	closers := map[string]io.Closer{}
	if gw.publisher != nil {
		closers["broker"] = gw.publisher
	}
	if gw.store != nil {
		closers["dedup"] = gw.store
	}
	for name, b := range gw.backends {
		closers["backend "+name] = b
	}
	for name, c := range closers {
		if err := c.Close(); err != nil {
			gw.logger.Warn("close failed", "resource", name, "error", err)
		}
	}
}
