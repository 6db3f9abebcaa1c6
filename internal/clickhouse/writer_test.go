package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/routeintel/internal/route"
)

// makeRoute creates a test route with the given index for uniqueness.
func makeRoute(i int) *route.EnrichedRoute {
	w := route.Window{Start: 1_700_000_000, End: 1_700_086_400}
	wallet := fmt.Sprintf("0xwallet%d", i)
	return &route.EnrichedRoute{
		RouteID:         route.ComputeRouteID(wallet, w),
		Wallet:          wallet,
		WindowStart:     w.Start,
		WindowEnd:       w.End,
		SegmentCount:    3,
		ExitProbability: 0.8,
		DumpRiskScore:   71,
		Confidence:      0.6,
		RouteType:       route.RouteExit,
		Labels:          route.Labels{CEXTouched: true, EndsAtExchange: true, ExchangeName: "binance"},
		AlertGenerated:  true,
	}
}

func TestBatchSizeTrigger(t *testing.T) {
	const batchSize = 10

	var mu sync.Mutex
	var flushedRows [][]any

	w := NewRouteWriter(nil, "routeintel", batchSize, time.Hour) // huge interval so timer won't fire
	w.SetFlushHook(func(_ context.Context, table string, rows [][]any) error {
		mu.Lock()
		flushedRows = append(flushedRows, rows...)
		mu.Unlock()
		assert.Equal(t, "routeintel.route_history", table)
		return nil
	})

	ctx := context.Background()
	for i := 0; i < batchSize; i++ {
		require.NoError(t, w.WriteRoute(ctx, makeRoute(i), nil))
	}

	mu.Lock()
	count := len(flushedRows)
	mu.Unlock()

	assert.Equal(t, batchSize, count, "flush should have been triggered at batchSize")
}

func TestAlertsFlushedToAlertTable(t *testing.T) {
	tables := map[string]int{}
	w := NewRouteWriter(nil, "", 1, time.Hour)
	w.SetFlushHook(func(_ context.Context, table string, rows [][]any) error {
		tables[table] += len(rows)
		return nil
	})

	r := makeRoute(0)
	alerts := []route.Alert{
		{Type: route.AlertDumpRisk, Severity: route.SeverityHigh, RouteID: r.RouteID, Wallet: r.Wallet, Score: 71},
		{Type: route.AlertExitImminent, Severity: route.SeverityHigh, RouteID: r.RouteID, Wallet: r.Wallet, Score: 0.8},
	}
	require.NoError(t, w.WriteRoute(context.Background(), r, alerts))

	assert.Equal(t, 1, tables["route_history"])
	assert.Equal(t, 2, tables["route_alerts"])
}

func TestFlushIntervalTrigger(t *testing.T) {
	var totalFlushed atomic.Int64

	w := NewRouteWriter(nil, "routeintel", 1000, 50*time.Millisecond)
	w.SetFlushHook(func(_ context.Context, _ string, rows [][]any) error {
		totalFlushed.Add(int64(len(rows)))
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, w.WriteRoute(ctx, makeRoute(i), nil))
	}

	w.Start(ctx)
	time.Sleep(200 * time.Millisecond)

	// Close waits for the background goroutine and does a final flush.
	require.NoError(t, w.Close())

	assert.Equal(t, int64(5), totalFlushed.Load(),
		"periodic flush should have written all 5 rows")
}

func TestFlushEmpty(t *testing.T) {
	hookCalled := false

	w := NewRouteWriter(nil, "routeintel", 100, time.Hour)
	w.SetFlushHook(func(_ context.Context, _ string, _ [][]any) error {
		hookCalled = true
		return nil
	})

	require.NoError(t, w.Flush(context.Background()))
	assert.False(t, hookCalled, "flush hook should not be called when buffers are empty")
}

func TestFlushErrorCounted(t *testing.T) {
	w := NewRouteWriter(nil, "", 100, time.Hour)
	w.SetFlushHook(func(_ context.Context, _ string, _ [][]any) error {
		return errors.New("clickhouse down")
	})

	require.NoError(t, w.WriteRoute(context.Background(), makeRoute(1), nil))
	assert.Error(t, w.Flush(context.Background()))
	assert.Equal(t, int64(1), w.Stats().Errors)
}

func TestConcurrentWrites(t *testing.T) {
	const (
		numGoroutines = 10
		writesPerGo   = 100
		batchSize     = 50
	)

	var totalFlushed atomic.Int64

	w := NewRouteWriter(nil, "routeintel", batchSize, time.Hour)
	w.SetFlushHook(func(_ context.Context, _ string, rows [][]any) error {
		totalFlushed.Add(int64(len(rows)))
		return nil
	})

	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func(gID int) {
			defer wg.Done()
			for i := 0; i < writesPerGo; i++ {
				_ = w.WriteRoute(ctx, makeRoute(gID*writesPerGo+i), nil)
			}
		}(g)
	}
	wg.Wait()

	require.NoError(t, w.Flush(ctx))

	assert.Equal(t, int64(numGoroutines*writesPerGo), totalFlushed.Load(),
		"all rows from concurrent writers must be flushed")
}

func TestWriterClosedRejectsWrites(t *testing.T) {
	w := NewRouteWriter(nil, "routeintel", 100, time.Hour)
	w.SetFlushHook(func(_ context.Context, _ string, _ [][]any) error { return nil })

	require.NoError(t, w.Close())

	err := w.WriteRoute(context.Background(), makeRoute(0), nil)
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestBatchNotFlushedBelowThreshold(t *testing.T) {
	hookCalled := false

	w := NewRouteWriter(nil, "routeintel", 100, time.Hour)
	w.SetFlushHook(func(_ context.Context, _ string, _ [][]any) error {
		hookCalled = true
		return nil
	})

	for i := 0; i < 50; i++ {
		require.NoError(t, w.WriteRoute(context.Background(), makeRoute(i), nil))
	}

	assert.False(t, hookCalled, "auto-flush should not fire below batchSize")
	assert.Equal(t, 50, w.Stats().PendingRoutes)
}

func TestRouteRow(t *testing.T) {
	r := makeRoute(3)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	row := RouteRow(r, at)

	require.Len(t, row, 22)
	assert.Equal(t, at, row[0])
	assert.Equal(t, r.RouteID, row[1])
	assert.Equal(t, "EXIT", row[5])
	assert.Equal(t, uint8(1), row[13], "cex_touched")
	assert.Equal(t, "binance", row[17])
}

func TestSchemaDDLPrefix(t *testing.T) {
	ddl := schemaDDL("mydb")
	require.Len(t, ddl, 2)
	assert.Contains(t, ddl[0], "mydb.route_history")
	assert.Contains(t, ddl[1], "mydb.route_alerts")

	assert.Contains(t, schemaDDL("")[0], "EXISTS route_history")
}
