package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/routeintel/internal/route"
)

// ---------------------------------------------------------------------------
// Route History Writer: batched analysis history and alert rows
// ---------------------------------------------------------------------------

// ErrWriterClosed is returned for writes after Close.
var ErrWriterClosed = errors.New("clickhouse: writer is closed")

const (
	tableRouteHistory = "route_history"
	tableRouteAlerts  = "route_alerts"
)

// RouteWriter batches route history rows and flushes to ClickHouse
// periodically or when the batch is full.
type RouteWriter struct {
	client        *Client
	dbPrefix      string
	batchSize     int
	flushInterval time.Duration

	mu       sync.Mutex
	routeBuf [][]any
	alertBuf [][]any
	closed   bool

	flushCount atomic.Int64
	errorCount atomic.Int64
	rowCount   atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}

	// flushHook replaces real writes during testing.
	flushHook func(ctx context.Context, table string, rows [][]any) error
	now       func() time.Time
}

// NewRouteWriter creates a writer that flushes on size or interval.
func NewRouteWriter(client *Client, dbPrefix string, batchSize int, flushInterval time.Duration) *RouteWriter {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &RouteWriter{
		client:        client,
		dbPrefix:      dbPrefix,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		routeBuf:      make([][]any, 0, batchSize),
		alertBuf:      make([][]any, 0, 64),
		now:           time.Now,
	}
}

func (w *RouteWriter) tableName(name string) string {
	if w.dbPrefix == "" {
		return name
	}
	return w.dbPrefix + "." + name
}

// WriteRoute buffers one analysis result with its alerts.
func (w *RouteWriter) WriteRoute(ctx context.Context, r *route.EnrichedRoute, alerts []route.Alert) error {
	if r == nil {
		return nil
	}
	analyzedAt := w.now().UTC()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}
	w.routeBuf = append(w.routeBuf, RouteRow(r, analyzedAt))
	for _, a := range alerts {
		w.alertBuf = append(w.alertBuf, AlertRow(a, analyzedAt))
	}
	needsFlush := len(w.routeBuf) >= w.batchSize
	w.mu.Unlock()

	if needsFlush {
		return w.Flush(ctx)
	}
	return nil
}

// Start runs the background flush loop until ctx is cancelled or Close.
func (w *RouteWriter) Start(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.flushInterval)
		defer ticker.Stop()

		log.Info().
			Str("prefix", w.dbPrefix).
			Int("batch_size", w.batchSize).
			Dur("flush_interval", w.flushInterval).
			Msg("clickhouse: route writer started")

		for {
			select {
			case <-bgCtx.Done():
				if err := w.Flush(context.Background()); err != nil {
					log.Error().Err(err).Msg("clickhouse: final flush error")
				}
				return
			case <-ticker.C:
				if err := w.Flush(bgCtx); err != nil {
					log.Error().Err(err).Msg("clickhouse: periodic flush error")
				}
			}
		}
	}()
}

// Flush writes all buffered rows.
func (w *RouteWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	routes := w.routeBuf
	alerts := w.alertBuf
	w.routeBuf = make([][]any, 0, w.batchSize)
	w.alertBuf = make([][]any, 0, 64)
	w.mu.Unlock()

	if len(routes) == 0 && len(alerts) == 0 {
		return nil
	}

	var firstErr error
	for _, part := range []struct {
		table string
		rows  [][]any
	}{
		{tableRouteHistory, routes},
		{tableRouteAlerts, alerts},
	} {
		if len(part.rows) == 0 {
			continue
		}
		if err := w.write(ctx, w.tableName(part.table), part.rows); err != nil {
			log.Error().Err(err).Str("table", part.table).Int("count", len(part.rows)).Msg("clickhouse: flush failed")
			w.errorCount.Add(1)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		w.rowCount.Add(int64(len(part.rows)))
	}

	w.flushCount.Add(1)
	log.Debug().
		Int("routes", len(routes)).
		Int("alerts", len(alerts)).
		Msg("clickhouse: route writer flushed")

	return firstErr
}

func (w *RouteWriter) write(ctx context.Context, table string, rows [][]any) error {
	if w.flushHook != nil {
		return w.flushHook(ctx, table, rows)
	}
	if w.client == nil {
		return errors.New("clickhouse: no client configured")
	}

	cols := routeHistoryColumns
	if table == w.tableName(tableRouteAlerts) {
		cols = routeAlertColumns
	}

	batch, err := w.client.Conn().PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", table, cols))
	if err != nil {
		return fmt.Errorf("clickhouse: prepare batch %s: %w", table, err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("clickhouse: append %s: %w", table, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: send %s: %w", table, err)
	}
	return nil
}

// Close stops the background loop, waits for the final flush and rejects
// further writes.
func (w *RouteWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
		<-w.done
	}

	log.Info().
		Int64("total_flushes", w.flushCount.Load()).
		Int64("rows", w.rowCount.Load()).
		Int64("errors", w.errorCount.Load()).
		Msg("clickhouse: route writer closed")
	return nil
}

// WriterStats are writer counters.
type WriterStats struct {
	Flushes       int64 `json:"flushes"`
	Errors        int64 `json:"errors"`
	Rows          int64 `json:"rows"`
	PendingRoutes int   `json:"pending_routes"`
	PendingAlerts int   `json:"pending_alerts"`
}

// Stats returns writer statistics.
func (w *RouteWriter) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WriterStats{
		Flushes:       w.flushCount.Load(),
		Errors:        w.errorCount.Load(),
		Rows:          w.rowCount.Load(),
		PendingRoutes: len(w.routeBuf),
		PendingAlerts: len(w.alertBuf),
	}
}

// SetFlushHook sets a test hook. Intended for testing only.
func (w *RouteWriter) SetFlushHook(hook func(ctx context.Context, table string, rows [][]any) error) {
	w.flushHook = hook
}

const routeHistoryColumns = "analyzed_at, route_id, wallet, window_start, window_end, route_type, " +
	"segment_count, swap_count, bridge_count, exit_probability, path_entropy, dump_risk_score, " +
	"confidence, cex_touched, bridge_touched, mixer_suspected, ends_at_exchange, exchange_name, " +
	"start_chain, end_chain, total_usd, alert_generated"

const routeAlertColumns = "created_at, route_id, wallet, alert_type, severity, score"

// RouteRow converts a route to a route_history row.
func RouteRow(r *route.EnrichedRoute, analyzedAt time.Time) []any {
	return []any{
		analyzedAt,
		r.RouteID,
		r.Wallet,
		time.Unix(r.WindowStart, 0).UTC(),
		time.Unix(r.WindowEnd, 0).UTC(),
		string(r.RouteType),
		uint32(r.SegmentCount),
		uint32(r.SwapCount),
		uint32(r.BridgeCount),
		r.ExitProbability,
		r.PathEntropy,
		r.DumpRiskScore,
		r.Confidence,
		boolToUInt8(r.Labels.CEXTouched),
		boolToUInt8(r.Labels.BridgeTouched),
		boolToUInt8(r.Labels.MixerSuspected),
		boolToUInt8(r.Labels.EndsAtExchange),
		r.Labels.ExchangeName,
		r.StartChain,
		r.EndChain,
		r.TotalUSD,
		boolToUInt8(r.AlertGenerated),
	}
}

// AlertRow converts an alert to a route_alerts row.
func AlertRow(a route.Alert, createdAt time.Time) []any {
	return []any{
		createdAt,
		a.RouteID,
		a.Wallet,
		string(a.Type),
		string(a.Severity),
		a.Score,
	}
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
