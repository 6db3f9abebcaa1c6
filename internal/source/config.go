// Package source adapts upstream chain indexers to the segment and swap
// source interfaces consumed by the analyzer.
package source

import (
	"time"
)

// Config configures the segment/swap source adapter.
type Config struct {
	Kind          string  `yaml:"kind"`            // rpc|ws|stub
	Endpoint      string  `yaml:"endpoint"`        // HTTP JSON-RPC endpoint
	WSEndpoint    string  `yaml:"ws_endpoint"`     // websocket JSON-RPC endpoint
	TimeoutMs     int     `yaml:"timeout_ms"`      // per-request HTTP timeout
	MaxRetries    int     `yaml:"max_retries"`     // retries after the first attempt
	RetryBaseMs   int     `yaml:"retry_base_ms"`   // first backoff step, doubled per attempt
	RateLimitRPS  float64 `yaml:"rate_limit_rps"`  // token bucket refill rate
	SegmentMethod string  `yaml:"segment_method"`  // JSON-RPC method returning segments
	SwapMethod    string  `yaml:"swap_method"`     // JSON-RPC method returning swaps
	FixturePath   string  `yaml:"fixture_path"`    // stub only: JSON file with wallets' data
	PingIntervalS int     `yaml:"ping_interval_s"` // ws keepalive
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Kind:          "stub",
		Endpoint:      "http://localhost:8545",
		WSEndpoint:    "ws://localhost:8546",
		TimeoutMs:     10000,
		MaxRetries:    3,
		RetryBaseMs:   500,
		RateLimitRPS:  10,
		SegmentMethod: "route_getSegments",
		SwapMethod:    "route_getSwaps",
		PingIntervalS: 30,
	}
}

func (c Config) timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c Config) retryBase() time.Duration {
	if c.RetryBaseMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.RetryBaseMs) * time.Millisecond
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = d.RateLimitRPS
	}
	if c.SegmentMethod == "" {
		c.SegmentMethod = d.SegmentMethod
	}
	if c.SwapMethod == "" {
		c.SwapMethod = d.SwapMethod
	}
	if c.PingIntervalS <= 0 {
		c.PingIntervalS = d.PingIntervalS
	}
	return c
}
