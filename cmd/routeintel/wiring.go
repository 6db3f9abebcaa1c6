package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/routeintel/internal/analysis"
	"github.com/nexus-trading/routeintel/internal/audit"
	"github.com/nexus-trading/routeintel/internal/bus"
	"github.com/nexus-trading/routeintel/internal/clickhouse"
	"github.com/nexus-trading/routeintel/internal/config"
	"github.com/nexus-trading/routeintel/internal/graph"
	"github.com/nexus-trading/routeintel/internal/observability"
	"github.com/nexus-trading/routeintel/internal/source"
	"github.com/nexus-trading/routeintel/internal/storage"
	"github.com/nexus-trading/routeintel/internal/storage/memory"
	"github.com/nexus-trading/routeintel/internal/storage/postgres"
	"github.com/nexus-trading/routeintel/internal/storage/sqlite"
)

// app holds every long-lived component of the service.
type app struct {
	cfg      *config.Config
	registry *graph.Registry
	store    storage.RouteStore
	src      source.Source
	producer bus.Producer
	history  *clickhouse.RouteWriter
	trail    *audit.Trail
	metrics  *observability.Metrics
	health   *observability.HealthMonitor
	analyzer *analysis.Analyzer

	closers []func()
}

// buildApp constructs components in dependency order. On error everything
// built so far is released.
func buildApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if cfg.Metrics.Enabled {
		a.metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}
	a.health = observability.NewHealthMonitor(
		time.Duration(cfg.Metrics.HealthIntervalS)*time.Second,
		time.Duration(cfg.Metrics.HealthTimeoutMs)*time.Millisecond,
	)
	if a.metrics != nil {
		a.health.WithMetrics(a.metrics)
	}

	// 1. Exchange registry.
	a.registry, err = buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	// 2. Route store.
	a.store, err = openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = a.store.Close() })
	a.health.Register("store", observability.PingCheck(a.store.Ping, false, time.Second))

	// 3. Segment and swap source.
	src, closeSrc, err := source.New(cfg.Source)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeSrc)
	a.health.Register("source", observability.PingCheck(src.Health, false, 2*time.Second))
	if a.metrics != nil {
		src = source.Instrument(src, a.metrics)
	}
	a.src = src

	// 4. Event bus.
	if cfg.Kafka.Enabled {
		p, err := bus.NewProducer(cfg.Kafka.Brokers,
			bus.WithInstanceID(cfg.General.InstanceID),
			bus.WithLinger(time.Duration(cfg.Kafka.LingerMs)*time.Millisecond),
			bus.WithMaxBufferedRecords(cfg.Kafka.MaxBufferedRecords),
		)
		if err != nil {
			return nil, err
		}
		a.producer = p
		a.closers = append(a.closers, func() {
			if err := p.Flush(5 * time.Second); err != nil {
				log.Warn().Err(err).Msg("routeintel: producer flush on shutdown")
			}
			p.Close()
		})
	}

	// 5. ClickHouse history.
	if cfg.ClickHouse.Enabled {
		client, err := clickhouse.NewClient(cfg.ClickHouse.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		if err := client.EnsureSchema(ctx, cfg.ClickHouse.Database); err != nil {
			return nil, err
		}
		a.history = clickhouse.NewRouteWriter(client, cfg.ClickHouse.Database, cfg.ClickHouse.BatchSize,
			time.Duration(cfg.ClickHouse.FlushIntervalMs)*time.Millisecond)
		a.health.Register("clickhouse", observability.PingCheck(client.Ping, true, time.Second))
	}

	// 6. Decision trail.
	var sinks analysis.Sinks
	if cfg.Audit.Enabled {
		var auditProducer bus.Producer
		if cfg.Audit.Publish && a.producer != nil {
			auditProducer = a.producer
		}
		a.trail = audit.NewTrail(auditProducer, cfg.Audit.BufferSize, cfg.Scoring.MinConfidence)
		sinks = append(sinks, a.trail)
	}
	if a.history != nil {
		sinks = append(sinks, a.history)
	}

	// 7. Analyzer.
	deps := analysis.Deps{
		Segments: a.src,
		Swaps:    a.src,
		Registry: a.registry,
		Store:    a.store,
	}
	if a.producer != nil {
		deps.Producer = a.producer
	}
	if len(sinks) > 0 {
		deps.History = sinks
	}
	if a.metrics != nil {
		deps.Metrics = a.metrics
	}
	a.analyzer, err = analysis.NewAnalyzer(cfg.AnalyzerConfig(), deps)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// startBackground launches the history flusher, the health loop and the
// heartbeat. All stop with ctx.
func (a *app) startBackground(ctx context.Context) {
	if a.history != nil {
		a.history.Start(ctx)
		a.closers = append(a.closers, func() { _ = a.history.Close() })
	}
	go a.health.Start(ctx)

	if a.producer != nil && a.cfg.Metrics.HeartbeatIntervalS > 0 {
		go a.health.RunHeartbeat(ctx, a.producer, a.cfg.General.InstanceID,
			time.Duration(a.cfg.Metrics.HeartbeatIntervalS)*time.Second)
	}

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rs := a.analyzer.ResolverStats()
				evt := log.Info().
					Int64("resolved", rs.Resolved).
					Int64("merged", rs.Merged).
					Int64("duplicates", rs.Duplicates).
					Int64("loops", rs.Loops).
					Int64("inexact", rs.Inexact).
					Int("exchanges", a.registry.Count())
				if a.history != nil {
					hs := a.history.Stats()
					evt = evt.Int64("history_rows", hs.Rows).Int64("history_errors", hs.Errors)
				}
				evt.Msg("routeintel: stats")
			}
		}
	}()
}

// close releases components in reverse construction order.
func (a *app) close() {
	a.health.Stop()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil

	if a.registry != nil && a.cfg.Exchanges.SnapshotOnShutdown && a.cfg.Resolver.SnapshotPath != "" {
		if err := a.registry.SaveSnapshot(a.cfg.Resolver.SnapshotPath); err != nil {
			log.Error().Err(err).Msg("routeintel: registry snapshot failed")
		}
	}
}

// buildRegistry layers the built-in seed, the gob snapshot, the YAML file
// and inline config addresses, later sources overriding earlier ones.
func buildRegistry(cfg *config.Config) (*graph.Registry, error) {
	reg := graph.NewRegistry()
	if path := cfg.Resolver.SnapshotPath; path != "" {
		if info := graph.GetSnapshotInfo(path); info.Exists {
			log.Info().Str("path", path).Int64("bytes", info.SizeBytes).Time("written", info.ModTime).
				Msg("routeintel: loading registry snapshot")
		}
		if err := reg.LoadSnapshot(path); err != nil {
			return nil, err
		}
	}
	if path := cfg.Resolver.RegistryFile; path != "" {
		n, err := reg.LoadFile(path)
		if err != nil {
			return nil, err
		}
		log.Info().Int("addresses", n).Str("path", path).Msg("routeintel: exchange registry file loaded")
	}
	for addr, name := range cfg.Exchanges.Addresses {
		reg.Add(addr, name)
	}
	log.Info().Int("addresses", reg.Count()).Strs("exchanges", reg.Exchanges()).Msg("routeintel: exchange registry ready")
	return reg, nil
}

func openStore(ctx context.Context, cfg storage.Config) (storage.RouteStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.NewRouteStore(), nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pool.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return postgres.NewRouteStore(pool), nil
	case "sqlite":
		return sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("routeintel: unknown storage driver %q", cfg.Driver)
	}
}
