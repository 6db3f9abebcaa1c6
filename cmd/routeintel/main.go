package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/routeintel/internal/analysis"
	"github.com/nexus-trading/routeintel/internal/api"
	"github.com/nexus-trading/routeintel/internal/bus"
	"github.com/nexus-trading/routeintel/internal/config"
	"github.com/nexus-trading/routeintel/internal/route"
)

const usage = `usage: routeintel [flags] <serve|worker|analyze>

  serve    HTTP API (analyze, batch, route lookup, /healthz, /metrics)
  worker   consume analyze requests from Kafka
  analyze  analyze one wallet and print the result as JSON

flags:
`

func main() {
	// 1. Parse flags.
	fs := flag.NewFlagSet("routeintel", flag.ExitOnError)
	configPath := fs.String("config", "config/config.yaml", "Path to configuration file")
	wallet := fs.String("wallet", "", "analyze: wallet address")
	start := fs.Int64("start", 0, "analyze: window start (unix seconds)")
	end := fs.Int64("end", 0, "analyze: window end (unix seconds, default now)")
	force := fs.Bool("force", false, "analyze: rebuild even when cached")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])
	mode := fs.Arg(0)
	if mode == "" {
		mode = "serve"
	}

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().
		Str("mode", mode).
		Str("instance_id", cfg.General.InstanceID).
		Str("environment", cfg.General.Environment).
		Str("storage", cfg.Storage.Driver).
		Str("source", cfg.Source.Kind).
		Bool("kafka", cfg.Kafka.Enabled).
		Bool("clickhouse", cfg.ClickHouse.Enabled).
		Msg("routeintel: configuration loaded")

	// 4. Context cancelled on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("routeintel: shutdown signal received")
		cancel()
	}()

	// 5. Build components.
	a, err := buildApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("routeintel: startup failed")
	}
	defer a.close()

	switch mode {
	case "serve":
		err = runServe(ctx, a)
	case "worker":
		err = runWorker(ctx, a)
	case "analyze":
		if *end == 0 {
			*end = time.Now().Unix()
		}
		err = runAnalyze(ctx, a, *wallet, route.Window{Start: *start, End: *end}, *force)
	default:
		fs.Usage()
		err = fmt.Errorf("unknown mode %q", mode)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("mode", mode).Msg("routeintel: exited with error")
		a.close()
		os.Exit(1)
	}
	log.Info().Str("mode", mode).Msg("routeintel: shutdown complete")
}

func runServe(ctx context.Context, a *app) error {
	a.startBackground(ctx)

	var metrics http.Handler
	if a.metrics != nil {
		metrics = a.metrics.Handler()
	}
	srv := api.NewServer(api.Config{
		MaxBatch:  a.cfg.Server.MaxBatch,
		ListLimit: a.cfg.Storage.ListLimit,
	}, a.analyzer, a.store, a.health, metrics)
	if a.trail != nil {
		srv.WithAudit(a.trail)
	}

	server := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(a.cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:      time.Duration(a.cfg.Server.WriteTimeoutMs) * time.Millisecond,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
			time.Duration(a.cfg.Server.ShutdownTimeoutMs)*time.Millisecond)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("routeintel: http shutdown")
		}
	}()

	log.Info().Str("addr", server.Addr).Msg("routeintel: http server started")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func runWorker(ctx context.Context, a *app) error {
	if !a.cfg.Kafka.Enabled {
		return errors.New("worker mode requires kafka.enabled")
	}
	a.startBackground(ctx)

	consumer, err := bus.NewConsumer(a.cfg.Kafka.Brokers, a.cfg.Kafka.GroupID, []string{bus.Topics.AnalyzeRequests()})
	if err != nil {
		return err
	}
	defer consumer.Close()

	log.Info().Str("topic", bus.Topics.AnalyzeRequests()).Msg("routeintel: worker consuming")
	return consumer.Consume(ctx, a.analyzer.HandleRequestMessage)
}

func runAnalyze(ctx context.Context, a *app, wallet string, w route.Window, force bool) error {
	res, err := a.analyzer.Analyze(ctx, wallet, analysis.Options{Window: w, ForceRebuild: force})
	if err != nil {
		return err
	}
	if a.history != nil {
		if err := a.history.Flush(ctx); err != nil {
			log.Warn().Err(err).Msg("routeintel: history flush")
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if res == nil {
		return enc.Encode(map[string]any{
			"wallet":  wallet,
			"route":   nil,
			"message": "no segments in window",
		})
	}
	return enc.Encode(res)
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Str("service", "routeintel").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).
			With().Timestamp().Str("service", "routeintel").
			Str("instance", general.InstanceID).Logger()
	}
}
