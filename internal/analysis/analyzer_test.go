package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/routeintel/internal/bus"
	"github.com/nexus-trading/routeintel/internal/graph"
	"github.com/nexus-trading/routeintel/internal/route"
	"github.com/nexus-trading/routeintel/internal/storage"
	"github.com/nexus-trading/routeintel/internal/storage/memory"
	"github.com/nexus-trading/routeintel/internal/storage/sqlite"
)

// ---------------------------------------------------------------------------
// Test fakes
// ---------------------------------------------------------------------------

type fakeSource struct {
	mu       sync.Mutex
	segments map[string][]route.Segment
	swaps    map[string][]route.SwapEvent
	errs     map[string]error
	panics   map[string]bool
	block    bool // wait for ctx cancellation
	calls    atomic.Int32
	swapErr  error

	// gate, when set, holds every segment fetch until closed; started is
	// closed when the first fetch arrives.
	gate      chan struct{}
	started   chan struct{}
	startOnce sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		segments: make(map[string][]route.Segment),
		swaps:    make(map[string][]route.SwapEvent),
		errs:     make(map[string]error),
		panics:   make(map[string]bool),
	}
}

func (f *fakeSource) FetchSegments(ctx context.Context, wallet string, _, _ int64) ([]route.Segment, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.gate != nil {
		f.startOnce.Do(func() { close(f.started) })
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics[wallet] {
		panic("source exploded")
	}
	if err := f.errs[wallet]; err != nil {
		return nil, err
	}
	return route.CopySegments(f.segments[wallet]), nil
}

func (f *fakeSource) FetchSwaps(_ context.Context, wallet string, _, _ int64) ([]route.SwapEvent, error) {
	if f.swapErr != nil {
		return nil, f.swapErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.swaps[wallet], nil
}

type failingRegistry struct{}

func (failingRegistry) IsKnownExchangeAddress(context.Context, string) (route.ExchangeMatch, error) {
	return route.ExchangeMatch{}, errors.New("registry unavailable")
}

type faultyStore struct {
	*memory.RouteStore
	findErr   error
	upsertErr error
}

func (s *faultyStore) FindByRouteID(ctx context.Context, id string) (*route.EnrichedRoute, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.RouteStore.FindByRouteID(ctx, id)
}

func (s *faultyStore) UpsertByRouteID(ctx context.Context, id string, r *route.EnrichedRoute) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.RouteStore.UpsertByRouteID(ctx, id, r)
}

type recordingHistory struct {
	mu     sync.Mutex
	routes int
	alerts int
}

func (h *recordingHistory) WriteRoute(_ context.Context, _ *route.EnrichedRoute, alerts []route.Alert) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.routes++
	h.alerts += len(alerts)
	return nil
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
	alerts   int
	routes   int
}

func (m *recordingMetrics) ObserveAnalysis(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string]int)
	}
	m.outcomes[outcome]++
}
func (m *recordingMetrics) ObserveRoute(*route.EnrichedRoute) { m.mu.Lock(); m.routes++; m.mu.Unlock() }
func (m *recordingMetrics) IncAlert(route.Alert)              { m.mu.Lock(); m.alerts++; m.mu.Unlock() }
func (m *recordingMetrics) IncPublishError(string)            {}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

const (
	walletA  = "0xaaaa"
	walletB  = "0xbbbb"
	walletC  = "0xcccc"
	cexAddr  = "0xcex0"
	cexName  = "binance"
	winStart = int64(0)
	winEnd   = int64(100_000)
)

var testWindow = route.Window{Start: winStart, End: winEnd}

func transfer(from, to, chain string, ts int64, tx string) route.Segment {
	return route.Segment{
		Type: route.SegmentTransfer, From: from, To: to, Chain: chain, Token: "X",
		Amount: "100", AmountUSD: 1000, Timestamp: ts, BlockNumber: uint64(ts), TxHash: tx,
	}
}

type harness struct {
	analyzer *Analyzer
	source   *fakeSource
	store    *memory.RouteStore
	producer *bus.StubProducer
	history  *recordingHistory
	metrics  *recordingMetrics
}

func newHarness(t *testing.T, mutate ...func(*Config, *Deps)) *harness {
	t.Helper()
	h := &harness{
		source:   newFakeSource(),
		store:    memory.NewRouteStore(),
		producer: bus.NewStubProducer(),
		history:  &recordingHistory{},
		metrics:  &recordingMetrics{},
	}
	registry := graph.NewEmptyRegistry()
	registry.Add(cexAddr, cexName)

	cfg := DefaultConfig()
	deps := Deps{
		Segments: h.source,
		Swaps:    h.source,
		Registry: registry,
		Store:    h.store,
		Producer: h.producer,
		History:  h.history,
		Metrics:  h.metrics,
	}
	for _, m := range mutate {
		m(&cfg, &deps)
	}

	a, err := NewAnalyzer(cfg, deps)
	require.NoError(t, err)
	h.analyzer = a
	return h
}

// exitScenario: A->B then B->exchange on one chain.
func (h *harness) exitScenario() {
	h.source.segments[walletA] = []route.Segment{
		transfer(walletA, walletB, "ethereum", 1000, "0x01"),
		transfer(walletB, cexAddr, "ethereum", 2000, "0x02"),
	}
}

// bridgeExitScenario: A->B, bridge B->C to arbitrum, C->exchange.
func (h *harness) bridgeExitScenario() {
	bridge := transfer(walletB, walletC, "ethereum", 1100, "0x12")
	bridge.Type = route.SegmentBridge
	bridge.ToChain = "arbitrum"
	bridge.Protocol = "Stargate"
	h.source.segments[walletA] = []route.Segment{
		transfer(walletA, walletB, "ethereum", 1000, "0x11"),
		bridge,
		transfer(walletC, cexAddr, "arbitrum", 1200, "0x13"),
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestAnalyze_ExitScenario(t *testing.T) {
	h := newHarness(t)
	h.exitScenario()

	res, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow})
	require.NoError(t, err)
	require.NotNil(t, res)

	r := res.Route
	assert.True(t, res.IsNew)
	assert.Equal(t, route.ComputeRouteID(walletA, testWindow), res.RouteID)
	assert.Equal(t, route.RouteExit, r.RouteType)
	assert.True(t, r.Labels.CEXTouched)
	assert.True(t, r.Labels.EndsAtExchange)
	assert.Equal(t, cexName, r.Labels.ExchangeName)
	assert.Equal(t, []string{cexName}, r.Labels.TouchedExchanges)
	assert.Equal(t, 2, r.SegmentCount)
	assert.Equal(t, 0, r.Resolution.MergedCount, "transfer and deposit never merge")
	assert.Equal(t, route.SegmentCEXDeposit, r.Segments[1].Type)
	assert.Equal(t, walletA, r.StartWallet)
	assert.Equal(t, cexAddr, r.EndWallet)
	assert.Equal(t, "ethereum", r.StartChain)
	assert.Equal(t, "ethereum", r.EndChain)
	assert.InDelta(t, 2000, r.TotalUSD, 1e-9)

	// Two segments on one chain: confidence 0.48 stays under the gate.
	assert.InDelta(t, 0.48, r.Confidence, 1e-9)
	assert.Empty(t, res.Alerts)
	assert.False(t, r.AlertGenerated)

	stored, err := h.store.FindByRouteID(context.Background(), res.RouteID)
	require.NoError(t, err)
	assert.Equal(t, r, stored)

	require.Len(t, res.DerivedEvents, 2)
	assert.Equal(t, route.EventRouteAnalyzed, res.DerivedEvents[0].Type)
	assert.Equal(t, route.EventExitDetected, res.DerivedEvents[1].Type)
	assert.NotEqual(t, res.DerivedEvents[0].EventID, res.DerivedEvents[1].EventID)

	assert.Len(t, h.producer.ByTopic(bus.Topics.RouteAnalyzed()), 1)
	assert.Len(t, h.producer.ByTopic(bus.Topics.RouteExits()), 1)
	assert.Equal(t, 1, h.history.routes)
	assert.Equal(t, 1, h.metrics.outcomes[OutcomeNew])
}

func TestAnalyze_BridgeExitRaisesAlerts(t *testing.T) {
	h := newHarness(t)
	h.bridgeExitScenario()

	res, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow})
	require.NoError(t, err)
	require.NotNil(t, res)

	r := res.Route
	assert.Equal(t, route.RouteExit, r.RouteType, "exchange touch wins over migration")
	assert.True(t, r.Labels.BridgeTouched)
	assert.Equal(t, []string{"stargate"}, r.Labels.BridgeProtocols)
	assert.Equal(t, 1, r.BridgeCount)
	assert.Equal(t, "arbitrum", r.EndChain)
	assert.InDelta(t, 0.67, r.Confidence, 1e-9)
	assert.InDelta(t, 1.0, r.ExitProbability, 1e-9)
	assert.GreaterOrEqual(t, r.DumpRiskScore, SeverityCriticalAt)

	require.Len(t, res.Alerts, 2)
	assert.Equal(t, route.AlertDumpRisk, res.Alerts[0].Type)
	assert.Equal(t, route.SeverityCritical, res.Alerts[0].Severity)
	assert.Equal(t, route.AlertExitImminent, res.Alerts[1].Type)
	assert.Equal(t, route.SeverityHigh, res.Alerts[1].Severity)
	assert.True(t, r.AlertGenerated)

	assert.Len(t, h.producer.ByTopic(bus.Topics.RouteAlerts()), 2)
	assert.Equal(t, 2, h.history.alerts)
	assert.Equal(t, 2, h.metrics.alerts)

	var ev bus.RouteEvent
	require.NoError(t, json.Unmarshal(h.producer.ByTopic(bus.Topics.RouteAlerts())[0].Value, &ev))
	assert.Equal(t, res.RouteID, ev.RouteID)
	assert.Equal(t, res.RouteID, ev.CorrelationID)
	assert.Equal(t, bus.SchemaVersion, ev.SchemaVersion)
}

func TestAnalyze_SkipAlerts(t *testing.T) {
	h := newHarness(t)
	h.bridgeExitScenario()

	res, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow, SkipAlerts: true})
	require.NoError(t, err)
	assert.Empty(t, res.Alerts)
	assert.False(t, res.Route.AlertGenerated)
	assert.True(t, res.Route.AlertsSkipped)
	assert.Empty(t, h.producer.ByTopic(bus.Topics.RouteAlerts()))

	res, err = h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow, ForceRebuild: true})
	require.NoError(t, err)
	assert.False(t, res.Route.AlertsSkipped, "an evaluated rebuild clears the flag")
	assert.True(t, res.Route.AlertGenerated)
}

func TestAnalyze_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.bridgeExitScenario()
	ctx := context.Background()

	first, err := h.analyzer.Analyze(ctx, walletA, Options{Window: testWindow})
	require.NoError(t, err)
	published := h.producer.Count()

	second, err := h.analyzer.Analyze(ctx, walletA, Options{Window: testWindow})
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, first.RouteID, second.RouteID)
	assert.False(t, second.IsNew)
	assert.Empty(t, second.Alerts, "cache hits raise no alerts")
	assert.Empty(t, second.DerivedEvents)
	assert.Equal(t, first.Route, second.Route)
	assert.Equal(t, int32(1), h.source.calls.Load(), "cache hit skips the source")
	assert.Equal(t, published, h.producer.Count())
	assert.Equal(t, 1, h.store.Len())
	assert.Equal(t, 1, h.metrics.outcomes[OutcomeCached])
}

func TestAnalyze_ForceRebuildReplaces(t *testing.T) {
	h := newHarness(t)
	h.exitScenario()
	ctx := context.Background()

	first, err := h.analyzer.Analyze(ctx, walletA, Options{Window: testWindow})
	require.NoError(t, err)

	h.source.segments[walletA] = h.source.segments[walletA][:1]
	rebuilt, err := h.analyzer.Analyze(ctx, walletA, Options{Window: testWindow, ForceRebuild: true})
	require.NoError(t, err)

	assert.True(t, rebuilt.IsNew)
	assert.Equal(t, first.RouteID, rebuilt.RouteID)
	assert.Equal(t, 1, rebuilt.Route.SegmentCount)
	assert.Equal(t, route.RouteInternal, rebuilt.Route.RouteType)
	assert.Equal(t, 1, h.store.Len())

	stored, err := h.store.FindByRouteID(ctx, first.RouteID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.SegmentCount, "rebuild replaces the document")
}

func TestAnalyze_MergeScenario(t *testing.T) {
	h := newHarness(t)
	h.source.segments[walletA] = []route.Segment{
		transfer(walletA, walletB, "ethereum", 1000, "0x21"),
		transfer(walletB, walletC, "ethereum", 1030, "0x22"),
	}

	res, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow})
	require.NoError(t, err)
	r := res.Route
	assert.Equal(t, 1, r.SegmentCount)
	assert.Equal(t, 1, r.Resolution.MergedCount)
	assert.Equal(t, walletA, r.Segments[0].From)
	assert.Equal(t, walletC, r.Segments[0].To)
	assert.Equal(t, "200", r.Segments[0].Amount)
	assert.Equal(t, route.RouteInternal, r.RouteType)
}

func TestAnalyze_LoopScenario(t *testing.T) {
	h := newHarness(t)
	addrs := []string{"0x01", "0x02", "0x03", "0x04"}
	var segs []route.Segment
	for i := 0; i < 60; i++ {
		s := transfer(addrs[i%4], addrs[(i+1)%4], "ethereum", int64(1000+i*120), "")
		s.TxHash = "0xloop" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		s.Token = []string{"X", "Y"}[i%2] // alternate tokens so nothing merges
		segs = append(segs, s)
	}
	h.source.segments[walletA] = segs

	res, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow})
	require.NoError(t, err)
	assert.True(t, res.Route.Resolution.LoopsDetected)
	assert.Equal(t, 50, res.Route.SegmentCount)
}

func TestAnalyze_NoData(t *testing.T) {
	h := newHarness(t)

	res, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 0, h.producer.Count())
	assert.Equal(t, 1, h.metrics.outcomes[OutcomeNoData])
}

func TestAnalyze_OutOfWindowSegmentsDropped(t *testing.T) {
	h := newHarness(t)
	h.source.segments[walletA] = []route.Segment{transfer(walletA, walletB, "ethereum", winEnd, "0x99")}

	res, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow})
	require.NoError(t, err)
	assert.Nil(t, res, "a segment at End is outside the half-open window")
}

func TestAnalyze_FetchTimeoutIsNoData(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.IOTimeoutMs = 20 })
	h.source.block = true

	res, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 1, h.metrics.outcomes[OutcomeTimeout])
}

func TestAnalyze_CallerCancellationIsAnError(t *testing.T) {
	h := newHarness(t)
	h.source.block = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.analyzer.Analyze(ctx, walletA, Options{Window: testWindow})
	assert.Error(t, err)
}

func TestAnalyze_FetchError(t *testing.T) {
	h := newHarness(t)
	h.source.errs[walletA] = errors.New("indexer 500")

	res, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow})
	assert.Nil(t, res)
	assert.ErrorContains(t, err, "indexer 500")
}

func TestAnalyze_PersistenceFailure(t *testing.T) {
	store := &faultyStore{RouteStore: memory.NewRouteStore(), upsertErr: errors.New("disk full")}
	h := newHarness(t, func(_ *Config, d *Deps) { d.Store = store })
	h.exitScenario()

	res, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow})
	assert.Nil(t, res)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 0, h.producer.Count(), "unpersisted routes are never announced")
	assert.Equal(t, 0, h.history.routes)
	assert.Equal(t, 1, h.metrics.outcomes[OutcomeError])
}

func TestAnalyze_StoreLookupFailure(t *testing.T) {
	store := &faultyStore{RouteStore: memory.NewRouteStore(), findErr: errors.New("connection reset")}
	h := newHarness(t, func(_ *Config, d *Deps) { d.Store = store })
	h.exitScenario()

	_, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow})
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, int32(0), h.source.calls.Load())

	store.findErr = storage.ErrNotFound
	res, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow})
	require.NoError(t, err)
	assert.True(t, res.IsNew)
}

func TestAnalyze_RegistryFailureDegrades(t *testing.T) {
	h := newHarness(t, func(_ *Config, d *Deps) { d.Registry = failingRegistry{} })
	h.exitScenario()

	res, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow})
	require.NoError(t, err)
	assert.False(t, res.Route.Labels.CEXTouched, "lookup failure means not touched")
	assert.Equal(t, route.RouteInternal, res.Route.RouteType)
}

func TestAnalyze_SwapFailureDegrades(t *testing.T) {
	h := newHarness(t)
	h.exitScenario()
	h.source.swapErr = errors.New("swap index down")

	res, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Route.SwapsInserted)
	assert.Equal(t, 2, res.Route.SegmentCount)
}

func TestAnalyze_SwapsInserted(t *testing.T) {
	h := newHarness(t)
	h.exitScenario()
	h.source.swaps[walletB] = []route.SwapEvent{{
		TxHash: "0xswap", Wallet: walletB, Chain: "ethereum", TokenIn: "X", TokenOut: "USDC",
		AmountIn: "50", AmountUSD: 500, Timestamp: 1500, BlockNumber: 1500,
	}}

	res, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow})
	require.NoError(t, err)
	r := res.Route
	assert.Equal(t, 1, r.SwapsInserted)
	assert.Equal(t, 1, r.SwapCount)
	require.Equal(t, 3, r.SegmentCount)
	assert.Equal(t, route.SegmentSwap, r.Segments[1].Type)
	for i, s := range r.Segments {
		assert.Equal(t, i, s.Index)
	}
	assert.InDelta(t, 2000, r.TotalUSD, 1e-9, "swap notional is not double counted")
}

func TestAnalyze_InvalidInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.analyzer.Analyze(context.Background(), "  ", Options{Window: testWindow})
	assert.ErrorIs(t, err, ErrInvalidWallet)

	_, err = h.analyzer.Analyze(context.Background(), walletA, Options{Window: route.Window{Start: 10, End: 10}})
	assert.ErrorIs(t, err, route.ErrInvalidWindow)
}

func TestAnalyze_PublishFailureIsBestEffort(t *testing.T) {
	h := newHarness(t)
	h.exitScenario()
	h.producer.Err = errors.New("broker down")

	res, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow})
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Equal(t, 1, h.store.Len())
}

func TestAnalyze_ConcurrentSameRoute(t *testing.T) {
	h := newHarness(t)
	h.exitScenario()

	var wg sync.WaitGroup
	results := make([]*Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, results[0].RouteID, res.RouteID)
	}
	assert.Equal(t, 1, h.store.Len())
}

func TestAnalyze_JoinedCallerSurvivesFirstCancel(t *testing.T) {
	h := newHarness(t)
	h.exitScenario()
	h.source.gate = make(chan struct{})
	h.source.started = make(chan struct{})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := h.analyzer.Analyze(ctxA, walletA, Options{Window: testWindow})
		errA <- err
	}()
	<-h.source.started

	type outcome struct {
		res *Result
		err error
	}
	doneB := make(chan outcome, 1)
	go func() {
		res, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow})
		doneB <- outcome{res, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(h.source.gate)
	select {
	case got := <-doneB:
		require.NoError(t, got.err)
		require.NotNil(t, got.res)
		assert.Equal(t, route.RouteExit, got.res.Route.RouteType)
	case <-time.After(5 * time.Second):
		t.Fatal("joined caller did not return")
	}
	assert.Equal(t, int32(1), h.source.calls.Load(), "one shared fetch")
	assert.Equal(t, 1, h.store.Len())
}

func TestAnalyze_NonFiniteUSDIsZeroed(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "routes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := newHarness(t, func(_ *Config, d *Deps) { d.Store = store })
	nan := transfer(walletA, walletB, "ethereum", 1000, "0x01")
	nan.AmountUSD = math.NaN()
	inf := transfer(walletB, cexAddr, "ethereum", 2000, "0x02")
	inf.AmountUSD = math.Inf(1)
	neg := transfer(walletA, walletC, "ethereum", 3000, "0x03")
	neg.AmountUSD = -5
	h.source.segments[walletA] = []route.Segment{nan, inf, neg}

	res, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Zero(t, res.Route.TotalUSD)

	stored, err := store.FindByRouteID(context.Background(), res.RouteID)
	require.NoError(t, err)
	for _, s := range stored.Segments {
		assert.Zero(t, s.AmountUSD, s.TxHash)
	}
	assert.False(t, math.IsNaN(stored.Confidence))
	assert.False(t, math.IsNaN(stored.DumpRiskScore))
}

func TestAnalyze_EventHeaderMatchesPayload(t *testing.T) {
	h := newHarness(t)
	h.exitScenario()

	res, err := h.analyzer.Analyze(context.Background(), walletA, Options{Window: testWindow})
	require.NoError(t, err)
	require.NotEmpty(t, res.DerivedEvents)

	msgs := h.producer.ByTopic(bus.Topics.RouteAnalyzed())
	require.Len(t, msgs, 1)
	var ev bus.RouteEvent
	require.NoError(t, json.Unmarshal(msgs[0].Value, &ev))
	assert.Equal(t, ev.EventID, msgs[0].Headers["event_id"])
	assert.Equal(t, res.DerivedEvents[0].EventID, ev.EventID)
}

func TestNewAnalyzer_RequiresDeps(t *testing.T) {
	_, err := NewAnalyzer(DefaultConfig(), Deps{})
	assert.Error(t, err)
}
