package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	yaml := `
general:
  instance_id: "test-node"
  environment: "staging"
  log_level: "debug"
  log_format: "TEXT"

server:
  addr: ":9000"
  max_batch: 25

analysis:
  workers: 8
  io_timeout_ms: 2500

resolver:
  max_hops: 20
  merge_window_s: 120
  registry_file: "/etc/routeintel/exchanges.yaml"

scoring:
  min_confidence: 0.6

source:
  kind: rpc
  endpoint: "http://indexer:8545"
  rate_limit_rps: 25

exchanges:
  addresses:
    "0xCEX": binance

storage:
  driver: postgres
  postgres_dsn: "postgres://u:p@db:5432/routes"

kafka:
  enabled: true
  brokers:
    - "localhost:19092"
`
	path := filepath.Join(t.TempDir(), "routeintel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-node", cfg.General.InstanceID)
	assert.Equal(t, "staging", cfg.General.Environment)
	assert.Equal(t, "text", cfg.General.LogFormat)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 25, cfg.Server.MaxBatch)
	assert.Equal(t, 8, cfg.Analysis.Workers)
	assert.Equal(t, 20, cfg.Resolver.MaxHops)
	assert.Equal(t, 3, cfg.Resolver.RepeatThreshold, "omitted field keeps its default")
	assert.Equal(t, int64(120), cfg.Resolver.MergeWindowS)
	assert.Equal(t, 0.6, cfg.Scoring.MinConfidence)
	assert.Equal(t, "rpc", cfg.Source.Kind)
	assert.Equal(t, 25.0, cfg.Source.RateLimitRPS)
	assert.Equal(t, "route_getSegments", cfg.Source.SegmentMethod)
	assert.Equal(t, map[string]string{"0xCEX": "binance"}, cfg.Exchanges.Addresses)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, []string{"localhost:19092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "routeintel-workers", cfg.Kafka.GroupID)

	ac := cfg.AnalyzerConfig()
	assert.Equal(t, 20, ac.Resolver.MaxHops)
	assert.Equal(t, 0.6, ac.Scoring.MinConfidence)
	assert.Equal(t, 8, ac.Swaps.MaxLookups)
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	t.Setenv("ROUTEINTEL_TEST_DSN", "postgres://env@db/routes")

	cfg, err := Parse([]byte(`
storage:
  driver: postgres
  postgres_dsn: "${ROUTEINTEL_TEST_DSN}"
`))
	require.NoError(t, err)
	assert.Equal(t, "postgres://env@db/routes", cfg.Storage.PostgresDSN)
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "routeintel-1", cfg.General.InstanceID)
	assert.Equal(t, "development", cfg.General.Environment)
	assert.Equal(t, "info", cfg.General.LogLevel)
	assert.Equal(t, "json", cfg.General.LogFormat)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "stub", cfg.Source.Kind)
	assert.Equal(t, 50, cfg.Resolver.MaxHops)
	assert.Equal(t, 0.5, cfg.Scoring.MinConfidence)
	assert.Equal(t, 4, cfg.Analysis.Workers)
	assert.False(t, cfg.Kafka.Enabled)
	assert.False(t, cfg.ClickHouse.Enabled)
	assert.True(t, cfg.Metrics.Enabled)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, 10000, cfg.Audit.BufferSize)
	assert.Equal(t, "routeintel", cfg.AnalyzerConfig().Producer)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad log format", "general: {log_format: xml}", "general.log_format"},
		{"unknown driver", "storage: {driver: mongo}", "storage.driver"},
		{"postgres without dsn", "storage: {driver: postgres}", "storage.postgres_dsn"},
		{"rpc without endpoint", "source: {kind: rpc, endpoint: \"\"}", "source.endpoint"},
		{"unknown source", "source: {kind: grpc}", "source.kind"},
		{"confidence out of range", "scoring: {min_confidence: 1.5}", "scoring.min_confidence"},
		{"zero confidence", "scoring: {min_confidence: 0}", "scoring.min_confidence"},
		{"zero hops", "resolver: {max_hops: -1}", "resolver.max_hops"},
		{"clickhouse without dsn", "clickhouse: {enabled: true, dsn: \"\"}", "clickhouse.dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte("general: [unclosed"))
	assert.Error(t, err)
}
