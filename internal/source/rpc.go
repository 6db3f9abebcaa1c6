package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/routeintel/internal/route"
)

// ---------------------------------------------------------------------------
// RPC Client: JSON-RPC over HTTP with rate limiting, retry & circuit breaker
// ---------------------------------------------------------------------------

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("source: circuit breaker open")

const (
	circuitBreakerThreshold = 10 // open after 10 consecutive errors
	circuitBreakerCooldown  = 30 * time.Second
)

// RPCClient fetches segments and swaps from an indexer JSON-RPC endpoint.
type RPCClient struct {
	config     Config
	httpClient *http.Client

	// Rate limiter (token bucket).
	limiter       chan struct{}
	limiterCancel context.CancelFunc

	nextID atomic.Int64

	// Circuit breaker.
	consecutiveErrors atomic.Int64
	circuitOpen       atomic.Bool
	cooldown          time.Duration

	// Stats.
	requestCount  atomic.Int64
	errorCount    atomic.Int64
	latencySum    atomic.Int64 // cumulative microseconds
	lastRequestAt atomic.Int64
}

// NewRPCClient creates an HTTP JSON-RPC source.
func NewRPCClient(config Config) *RPCClient {
	config = config.withDefaults()

	bucketSize := int(config.RateLimitRPS)
	if bucketSize < 1 {
		bucketSize = 1
	}
	limiter := make(chan struct{}, bucketSize)
	for i := 0; i < bucketSize; i++ {
		limiter <- struct{}{}
	}

	limiterCtx, limiterCancel := context.WithCancel(context.Background())

	c := &RPCClient{
		config:        config,
		httpClient:    &http.Client{Timeout: config.timeout()},
		limiter:       limiter,
		limiterCancel: limiterCancel,
		cooldown:      circuitBreakerCooldown,
	}

	// Refill tokens at configured RPS.
	go func() {
		interval := time.Duration(float64(time.Second) / config.RateLimitRPS)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-limiterCtx.Done():
				return
			case <-ticker.C:
				select {
				case c.limiter <- struct{}{}:
				default: // bucket full
				}
			}
		}
	}()

	return c
}

// Close stops the limiter refill goroutine.
func (c *RPCClient) Close() {
	c.limiterCancel()
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call makes a rate-limited, retried JSON-RPC call.
func (c *RPCClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if c.circuitOpen.Load() {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, method)
	}

	select {
	case <-c.limiter:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("source: marshal request: %w", err)
	}

	base := c.config.retryBase()
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := base << uint(attempt-1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		start := time.Now()

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("source: create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("source: %s http error: %w", method, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("source: %s read response: %w", method, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		c.requestCount.Add(1)
		c.latencySum.Add(time.Since(start).Microseconds())
		c.lastRequestAt.Store(time.Now().UnixMilli())

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("source: %s rate limited (429)", method)
			c.errorCount.Add(1)
			// Longer backoff on 429; not a breaker error.
			select {
			case <-time.After(base * 4 << uint(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("source: %s HTTP %d: %s", method, resp.StatusCode, string(respBody))
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("source: %s unmarshal response: %w", method, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		c.resetErrors()
		if rpcResp.Error != nil {
			return nil, fmt.Errorf("source: %s: %w", method, rpcResp.Error)
		}
		return rpcResp.Result, nil
	}

	return nil, fmt.Errorf("source: %s failed after %d attempts: %w", method, c.config.MaxRetries+1, lastErr)
}

// recordError increments consecutive errors and opens the breaker at the
// threshold. The breaker closes itself after the cooldown.
func (c *RPCClient) recordError() {
	count := c.consecutiveErrors.Add(1)
	if count < circuitBreakerThreshold {
		return
	}
	if c.circuitOpen.CompareAndSwap(false, true) {
		log.Error().Int64("errors", count).Dur("cooldown", c.cooldown).Msg("source: circuit breaker open")
		time.AfterFunc(c.cooldown, func() {
			c.circuitOpen.Store(false)
			c.consecutiveErrors.Store(0)
			log.Info().Msg("source: circuit breaker reset")
		})
	}
}

func (c *RPCClient) resetErrors() {
	c.consecutiveErrors.Store(0)
}

// FetchSegments returns the wallet's movement segments in [start, end).
func (c *RPCClient) FetchSegments(ctx context.Context, wallet string, start, end int64) ([]route.Segment, error) {
	result, err := c.call(ctx, c.config.SegmentMethod, []any{wallet, windowParams{Start: start, End: end}})
	if err != nil {
		return nil, err
	}
	return decodeSegments(result)
}

// FetchSwaps returns DEX swaps executed by wallet in [start, end).
func (c *RPCClient) FetchSwaps(ctx context.Context, wallet string, start, end int64) ([]route.SwapEvent, error) {
	result, err := c.call(ctx, c.config.SwapMethod, []any{wallet, windowParams{Start: start, End: end}})
	if err != nil {
		return nil, err
	}
	return decodeSwaps(result)
}

// Health checks the endpoint with a short timeout.
func (c *RPCClient) Health(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.call(healthCtx, "health", nil)
	return err
}

// RPCStats are client counters.
type RPCStats struct {
	RequestCount  int64 `json:"request_count"`
	ErrorCount    int64 `json:"error_count"`
	AvgLatencyUs  int64 `json:"avg_latency_us"`
	LastRequestAt int64 `json:"last_request_at"`
	CircuitOpen   bool  `json:"circuit_open"`
	ConsecErrors  int64 `json:"consecutive_errors"`
}

func (c *RPCClient) Stats() RPCStats {
	reqCount := c.requestCount.Load()
	avgLatency := int64(0)
	if reqCount > 0 {
		avgLatency = c.latencySum.Load() / reqCount
	}
	return RPCStats{
		RequestCount:  reqCount,
		ErrorCount:    c.errorCount.Load(),
		AvgLatencyUs:  avgLatency,
		LastRequestAt: c.lastRequestAt.Load(),
		CircuitOpen:   c.circuitOpen.Load(),
		ConsecErrors:  c.consecutiveErrors.Load(),
	}
}
