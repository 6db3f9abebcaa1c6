package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/routeintel/internal/route"
)

// ---------------------------------------------------------------------------
// WebSocket Client: JSON-RPC over a persistent connection
// Responses are matched to callers by request id; the connection is dialled
// lazily and re-dialled after a read failure.
// ---------------------------------------------------------------------------

// ErrWSClosed is returned for calls after Close.
var ErrWSClosed = errors.New("source: websocket client closed")

// WSClient fetches segments and swaps over a websocket JSON-RPC endpoint.
type WSClient struct {
	config Config

	mu      sync.Mutex // guards conn, pending and writes
	conn    *websocket.Conn
	pending map[int64]chan rpcResponse
	closed  bool
	stop    chan struct{}

	nextID atomic.Int64

	// Stats.
	messagesRecv atomic.Int64
	dials        atomic.Int64
	reconnects   atomic.Int64
	connected    atomic.Bool
}

// NewWSClient creates a websocket source. No connection is opened until the
// first call.
func NewWSClient(config Config) *WSClient {
	return &WSClient{
		config:  config.withDefaults(),
		pending: make(map[int64]chan rpcResponse),
		stop:    make(chan struct{}),
	}
}

// connLocked returns the live connection, dialling if needed. Caller holds mu.
func (c *WSClient) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if c.closed {
		return nil, ErrWSClosed
	}
	if c.conn != nil {
		return c.conn, nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.config.WSEndpoint, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("source: ws dial: %w", err)
	}
	if c.dials.Add(1) > 1 {
		c.reconnects.Add(1)
	}
	c.conn = conn
	c.connected.Store(true)

	go c.readLoop(conn)
	go c.pingLoop(conn)

	log.Info().Str("endpoint", c.config.WSEndpoint).Msg("source: ws connected")
	return conn, nil
}

func (c *WSClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan rpcResponse, 1)

	c.mu.Lock()
	conn, err := c.connLocked(ctx)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	conn.SetWriteDeadline(time.Now().Add(c.config.timeout()))
	err = conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("source: ws write %s: %w", method, err)
	}
	c.mu.Unlock()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("source: ws %s: connection lost", method)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("source: %s: %w", method, resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("source: ws readLoop panic recovered")
		}
		c.drop(conn)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Info().Msg("source: ws connection closed normally")
			} else if !c.isClosed() {
				log.Warn().Err(err).Msg("source: ws read error")
			}
			return
		}
		c.messagesRecv.Add(1)

		var resp rpcResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			log.Debug().Err(err).Msg("source: ws ignoring malformed message")
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(time.Duration(c.config.PingIntervalS) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != conn {
				c.mu.Unlock()
				return
			}
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.mu.Unlock()
			if err != nil {
				log.Debug().Err(err).Msg("source: ws ping failed")
				return
			}
		}
	}
}

// drop forgets conn and fails every in-flight call waiting on it.
func (c *WSClient) drop(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	conn.Close()
	c.conn = nil
	c.connected.Store(false)
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *WSClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FetchSegments returns the wallet's movement segments in [start, end).
func (c *WSClient) FetchSegments(ctx context.Context, wallet string, start, end int64) ([]route.Segment, error) {
	result, err := c.call(ctx, c.config.SegmentMethod, []any{wallet, windowParams{Start: start, End: end}})
	if err != nil {
		return nil, err
	}
	return decodeSegments(result)
}

// FetchSwaps returns DEX swaps executed by wallet in [start, end).
func (c *WSClient) FetchSwaps(ctx context.Context, wallet string, start, end int64) ([]route.SwapEvent, error) {
	result, err := c.call(ctx, c.config.SwapMethod, []any{wallet, windowParams{Start: start, End: end}})
	if err != nil {
		return nil, err
	}
	return decodeSwaps(result)
}

// Health issues a health call over the socket.
func (c *WSClient) Health(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.call(healthCtx, "health", nil)
	return err
}

// Close closes the connection and rejects further calls.
func (c *WSClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.stop)
	conn := c.conn
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}
	c.mu.Unlock()

	if conn != nil {
		c.drop(conn)
	}
}

// WSStats are client counters.
type WSStats struct {
	Connected    bool  `json:"connected"`
	MessagesRecv int64 `json:"messages_recv"`
	Reconnects   int64 `json:"reconnects"`
}

func (c *WSClient) Stats() WSStats {
	return WSStats{
		Connected:    c.connected.Load(),
		MessagesRecv: c.messagesRecv.Load(),
		Reconnects:   c.reconnects.Load(),
	}
}
