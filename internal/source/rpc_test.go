package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/routeintel/internal/route"
)

func newTestRPCServer(t *testing.T, handler http.HandlerFunc) *RPCClient {
	t.Helper()
	server := httptest.NewServer(handler)
	client := NewRPCClient(Config{
		Endpoint:     server.URL,
		TimeoutMs:    5000,
		MaxRetries:   1,
		RetryBaseMs:  5,
		RateLimitRPS: 100,
	})
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client
}

func writeResult(w http.ResponseWriter, id int64, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func TestRPC_FetchSegments(t *testing.T) {
	client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "route_getSegments", req.Method)
		if assert.Len(t, req.Params, 2) {
			assert.Equal(t, "0xwallet", req.Params[0])
			window, _ := req.Params[1].(map[string]any)
			assert.EqualValues(t, 100, window["start"])
			assert.EqualValues(t, 200, window["end"])
		}

		writeResult(w, req.ID, []map[string]any{
			{
				"type": "transfer", "from": "0xwallet", "to": "0xa", "chain": "Ethereum",
				"token": "USDC", "amount": "1000000", "amount_usd": "1.5",
				"timestamp": 150, "block_number": 10, "tx_hash": "0x1",
			},
			{
				"type": "BRIDGE", "from": "0xa", "to": "0xb", "chain": "ethereum", "to_chain": "arbitrum",
				"token": "USDC", "amount": 999, "amount_usd": 2.25,
				"timestamp": 160, "block_number": 11, "tx_hash": "0x2", "protocol": "stargate",
			},
		})
	})

	segs, err := client.FetchSegments(context.Background(), "0xwallet", 100, 200)
	require.NoError(t, err)
	require.Len(t, segs, 2)

	assert.Equal(t, route.SegmentTransfer, segs[0].Type)
	assert.Equal(t, "ethereum", segs[0].Chain)
	assert.Equal(t, "1000000", segs[0].Amount)
	assert.InDelta(t, 1.5, segs[0].AmountUSD, 1e-9)
	assert.Equal(t, 1, segs[0].Legs)

	assert.Equal(t, route.SegmentBridge, segs[1].Type)
	assert.Equal(t, "arbitrum", segs[1].ToChain)
	assert.Equal(t, "999", segs[1].Amount)
	assert.InDelta(t, 2.25, segs[1].AmountUSD, 1e-9)
	assert.Equal(t, 1, segs[1].Index)

	assert.Equal(t, int64(1), client.Stats().RequestCount)
}

func TestRPC_FetchSwaps(t *testing.T) {
	client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "route_getSwaps", req.Method)
		writeResult(w, req.ID, []map[string]any{{
			"tx_hash": "0xs", "wallet": "0xwallet", "chain": "ethereum",
			"token_in": "USDC", "token_out": "WETH", "amount_in": "500", "amount_out": "1",
			"amount_usd": "not-a-number", "timestamp": 170, "router": "0xrouter",
		}})
	})

	swaps, err := client.FetchSwaps(context.Background(), "0xwallet", 100, 200)
	require.NoError(t, err)
	require.Len(t, swaps, 1)
	assert.Equal(t, "WETH", swaps[0].TokenOut)
	assert.Equal(t, "500", swaps[0].AmountIn)
	assert.Zero(t, swaps[0].AmountUSD, "unparseable USD coerced to zero")
	assert.Equal(t, "0xrouter", swaps[0].Router)
}

func TestRPC_UnknownSegmentType(t *testing.T) {
	client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, 1, []map[string]any{{"type": "teleport", "timestamp": 1}})
	})

	_, err := client.FetchSegments(context.Background(), "0xw", 0, 10)
	assert.ErrorContains(t, err, "unknown type")
}

func TestRPC_RetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		writeResult(w, 1, []any{})
	})

	segs, err := client.FetchSegments(context.Background(), "0xw", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, segs)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int64(1), client.Stats().ErrorCount)
	assert.Equal(t, int64(0), client.Stats().ConsecErrors, "success resets the breaker counter")
}

func TestRPC_RateLimited(t *testing.T) {
	var calls atomic.Int32
	client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeResult(w, 1, []any{})
	})

	_, err := client.FetchSegments(context.Background(), "0xw", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), client.Stats().ConsecErrors, "429 does not count toward the breaker")
}

func TestRPC_ErrorResponseNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": 1,
			"error": map[string]any{"code": -32602, "message": "invalid wallet"},
		})
	})

	_, err := client.FetchSegments(context.Background(), "bad", 0, 10)
	require.Error(t, err)
	var rpcErr *rpcError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32602, rpcErr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRPC_CircuitBreaker(t *testing.T) {
	client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})
	client.cooldown = time.Hour

	for i := 0; i < circuitBreakerThreshold; i++ {
		client.recordError()
	}
	require.True(t, client.Stats().CircuitOpen)

	_, err := client.FetchSegments(context.Background(), "0xw", 0, 10)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestRPC_CircuitBreakerResets(t *testing.T) {
	client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, 1, "ok")
	})
	client.cooldown = 10 * time.Millisecond

	for i := 0; i < circuitBreakerThreshold; i++ {
		client.recordError()
	}
	require.True(t, client.Stats().CircuitOpen)

	assert.Eventually(t, func() bool { return !client.Stats().CircuitOpen }, time.Second, 5*time.Millisecond)
	assert.NoError(t, client.Health(context.Background()))
}

func TestRPC_ContextCancelled(t *testing.T) {
	client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeResult(w, 1, []any{})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.FetchSegments(ctx, "0xw", 0, 10)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
