package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nexus-trading/routeintel/internal/analysis"
	"github.com/nexus-trading/routeintel/internal/clickhouse"
	"github.com/nexus-trading/routeintel/internal/enrich"
	"github.com/nexus-trading/routeintel/internal/graph"
	"github.com/nexus-trading/routeintel/internal/scoring"
	"github.com/nexus-trading/routeintel/internal/source"
	"github.com/nexus-trading/routeintel/internal/storage"
)

// Config is the root configuration structure for routeintel.
type Config struct {
	General    GeneralConfig     `yaml:"general"`
	Server     ServerConfig      `yaml:"server"`
	Analysis   analysis.Config   `yaml:"analysis"`
	Resolver   graph.Config      `yaml:"resolver"`
	Scoring    scoring.Config    `yaml:"scoring"`
	Swaps      enrich.SwapConfig `yaml:"swaps"`
	Source     source.Config     `yaml:"source"`
	Exchanges  ExchangesConfig   `yaml:"exchanges"`
	Storage    storage.Config    `yaml:"storage"`
	ClickHouse clickhouse.Config `yaml:"clickhouse"`
	Kafka      KafkaConfig       `yaml:"kafka"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Audit      AuditConfig       `yaml:"audit"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

type ServerConfig struct {
	Addr              string `yaml:"addr"`
	ReadTimeoutMs     int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs    int    `yaml:"write_timeout_ms"`
	ShutdownTimeoutMs int    `yaml:"shutdown_timeout_ms"`
	MaxBatch          int    `yaml:"max_batch"` // wallets per batch request
}

// ExchangesConfig seeds the exchange registry. Addresses map deposit
// address to exchange name and are added on top of the registry file.
type ExchangesConfig struct {
	Addresses          map[string]string `yaml:"addresses"`
	SnapshotOnShutdown bool              `yaml:"snapshot_on_shutdown"`
}

type KafkaConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Brokers            []string `yaml:"brokers"`
	GroupID            string   `yaml:"group_id"`
	LingerMs           int      `yaml:"linger_ms"`
	MaxBufferedRecords int      `yaml:"max_buffered_records"`
}

type MetricsConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Namespace          string `yaml:"namespace"`
	HealthIntervalS    int    `yaml:"health_interval_s"`
	HealthTimeoutMs    int    `yaml:"health_timeout_ms"`
	HeartbeatIntervalS int    `yaml:"heartbeat_interval_s"` // 0 disables
}

// AuditConfig controls the route decision trail.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"` // entries kept for /api/routes/{id}/audit
	Publish    bool `yaml:"publish"`     // also publish entries to Kafka
}

// Default returns a configuration with every section at its defaults.
func Default() *Config {
	cfg := &Config{
		Analysis:   analysis.DefaultConfig(),
		Resolver:   graph.DefaultConfig(),
		Scoring:    scoring.DefaultConfig(),
		Swaps:      enrich.DefaultSwapConfig(),
		Source:     source.DefaultConfig(),
		Storage:    storage.DefaultConfig(),
		ClickHouse: clickhouse.DefaultConfig(),
		Metrics:    MetricsConfig{Enabled: true},
		Audit:      AuditConfig{Enabled: true},
	}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML configuration file. Environment variables
// in the file are expanded before parsing. Fields the file omits keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AnalyzerConfig folds the resolver, scoring and swap sections into the
// analyzer configuration.
func (c *Config) AnalyzerConfig() analysis.Config {
	ac := c.Analysis
	ac.Resolver = c.Resolver
	ac.Scoring = c.Scoring
	ac.Swaps = c.Swaps
	if ac.Producer == "" {
		ac.Producer = c.General.InstanceID
	}
	return ac
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.General.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("general.log_format %q: want json or text", c.General.LogFormat))
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q: want memory, postgres or sqlite", c.Storage.Driver))
	}
	switch c.Source.Kind {
	case "", "stub":
	case "rpc":
		if c.Source.Endpoint == "" {
			errs = append(errs, errors.New("source.endpoint is required for the rpc source"))
		}
	case "ws":
		if c.Source.WSEndpoint == "" {
			errs = append(errs, errors.New("source.ws_endpoint is required for the ws source"))
		}
	default:
		errs = append(errs, fmt.Errorf("source.kind %q: want rpc, ws or stub", c.Source.Kind))
	}
	if c.Scoring.MinConfidence <= 0 || c.Scoring.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("scoring.min_confidence %v: want (0,1]", c.Scoring.MinConfidence))
	}
	if c.Resolver.MaxHops < 1 {
		errs = append(errs, fmt.Errorf("resolver.max_hops %d: want >= 1", c.Resolver.MaxHops))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	if c.ClickHouse.Enabled && c.ClickHouse.DSN == "" {
		errs = append(errs, errors.New("clickhouse.dsn is required when clickhouse is enabled"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "routeintel-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	cfg.General.LogFormat = strings.ToLower(cfg.General.LogFormat)

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeoutMs == 0 {
		cfg.Server.ReadTimeoutMs = 10000
	}
	if cfg.Server.WriteTimeoutMs == 0 {
		cfg.Server.WriteTimeoutMs = 60000
	}
	if cfg.Server.ShutdownTimeoutMs == 0 {
		cfg.Server.ShutdownTimeoutMs = 10000
	}
	if cfg.Server.MaxBatch == 0 {
		cfg.Server.MaxBatch = 100
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.ListLimit == 0 {
		cfg.Storage.ListLimit = 100
	}

	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "routeintel-workers"
	}
	if cfg.Kafka.LingerMs == 0 {
		cfg.Kafka.LingerMs = 5
	}
	if cfg.Kafka.MaxBufferedRecords == 0 {
		cfg.Kafka.MaxBufferedRecords = 10000
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "routeintel"
	}
	if cfg.Metrics.HealthIntervalS == 0 {
		cfg.Metrics.HealthIntervalS = 15
	}
	if cfg.Metrics.HealthTimeoutMs == 0 {
		cfg.Metrics.HealthTimeoutMs = 3000
	}

	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = 10000
	}
}
