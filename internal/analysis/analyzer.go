// Package analysis sequences the route pipeline for one wallet and window:
// fetch, detect exchange touches, enrich swaps, resolve, score, classify,
// persist, then alert and publish.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/nexus-trading/routeintel/internal/bus"
	"github.com/nexus-trading/routeintel/internal/classify"
	"github.com/nexus-trading/routeintel/internal/enrich"
	"github.com/nexus-trading/routeintel/internal/graph"
	"github.com/nexus-trading/routeintel/internal/route"
	"github.com/nexus-trading/routeintel/internal/scoring"
	"github.com/nexus-trading/routeintel/internal/storage"
)

// ErrInvalidWallet is returned for an empty wallet address.
var ErrInvalidWallet = errors.New("analysis: wallet is required")

// Config configures the analyzer.
type Config struct {
	IOTimeoutMs int               `yaml:"io_timeout_ms"` // per I/O call (default 10000)
	Workers     int               `yaml:"workers"`       // batch pool size, 1 = sequential (default 4)
	Producer    string            `yaml:"producer"`      // producer name stamped on bus events
	Resolver    graph.Config      `yaml:"-"`
	Scoring     scoring.Config    `yaml:"-"`
	Swaps       enrich.SwapConfig `yaml:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		IOTimeoutMs: 10000,
		Workers:     4,
		Producer:    "routeintel",
		Resolver:    graph.DefaultConfig(),
		Scoring:     scoring.DefaultConfig(),
		Swaps:       enrich.DefaultSwapConfig(),
	}
}

// HistorySink receives every freshly analyzed route. The ClickHouse route
// writer satisfies it.
type HistorySink interface {
	WriteRoute(ctx context.Context, r *route.EnrichedRoute, alerts []route.Alert) error
}

// Recorder receives pipeline measurements. observability.Metrics satisfies it.
type Recorder interface {
	ObserveAnalysis(outcome string, d time.Duration)
	ObserveRoute(r *route.EnrichedRoute)
	IncAlert(a route.Alert)
	IncPublishError(topic string)
}

// Analysis outcomes reported to the Recorder.
const (
	OutcomeNew     = "new"
	OutcomeCached  = "cached"
	OutcomeNoData  = "no_data"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Deps are the analyzer's collaborators. Segments, Registry and Store are
// required; the rest are optional.
type Deps struct {
	Segments enrich.SegmentSource
	Swaps    enrich.SwapSource
	Registry enrich.ExchangeRegistry
	Store    storage.RouteStore
	Producer bus.Producer
	History  HistorySink
	Metrics  Recorder
}

// Options are per-call analysis options.
type Options struct {
	Window       route.Window
	ForceRebuild bool // ignore a stored route and replace it
	SkipAlerts   bool // evaluate nothing, never set AlertGenerated
}

// Result is the outcome of one analysis.
type Result struct {
	RouteID       string               `json:"route_id"`
	Route         *route.EnrichedRoute `json:"route"`
	IsNew         bool                 `json:"is_new"`
	Alerts        []route.Alert        `json:"alerts"`
	DerivedEvents []route.DerivedEvent `json:"derived_events"`
}

func (r *Result) clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.Route = r.Route.Clone()
	out.Alerts = append([]route.Alert(nil), r.Alerts...)
	out.DerivedEvents = append([]route.DerivedEvent(nil), r.DerivedEvents...)
	return &out
}

// Analyzer runs the route pipeline.
type Analyzer struct {
	config   Config
	deps     Deps
	detector *enrich.ExchangeDetector
	enricher *enrich.SwapEnricher
	resolver *graph.Resolver
	engine   *scoring.Engine

	flight singleflight.Group
}

// NewAnalyzer wires the pipeline stages.
func NewAnalyzer(config Config, deps Deps) (*Analyzer, error) {
	if deps.Segments == nil || deps.Registry == nil || deps.Store == nil {
		return nil, errors.New("analysis: segment source, exchange registry and store are required")
	}
	d := DefaultConfig()
	if config.IOTimeoutMs <= 0 {
		config.IOTimeoutMs = d.IOTimeoutMs
	}
	if config.Workers <= 0 {
		config.Workers = d.Workers
	}
	if config.Producer == "" {
		config.Producer = d.Producer
	}
	if config.Resolver.MaxHops <= 0 {
		config.Resolver = d.Resolver
	}

	return &Analyzer{
		config:   config,
		deps:     deps,
		detector: enrich.NewExchangeDetector(deps.Registry),
		enricher: enrich.NewSwapEnricher(deps.Swaps, config.Swaps),
		resolver: graph.NewResolver(config.Resolver),
		engine:   scoring.NewEngine(config.Scoring),
	}, nil
}

func (a *Analyzer) ioTimeout() time.Duration {
	return time.Duration(a.config.IOTimeoutMs) * time.Millisecond
}

// Analyze runs the pipeline for wallet over opts.Window. It returns
// (nil, nil) when the source has no segments for the window or the segment
// fetch timed out. Concurrent calls for the same route collapse into one
// run that no single caller can cancel; each caller stops waiting when its
// own ctx is done. Every I/O call of the run is bounded by IOTimeoutMs.
func (a *Analyzer) Analyze(ctx context.Context, wallet string, opts Options) (*Result, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, ErrInvalidWallet
	}
	if err := opts.Window.Validate(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}

	routeID := route.ComputeRouteID(wallet, opts.Window)
	key := fmt.Sprintf("%s|%t|%t", routeID, opts.ForceRebuild, opts.SkipAlerts)

	runCtx := context.WithoutCancel(ctx)
	ch := a.flight.DoChan(key, func() (v any, err error) {
		// DoChan re-raises panics on a fresh goroutine; keep them an error.
		defer func() {
			if p := recover(); p != nil {
				log.Error().Interface("panic", p).Str("route_id", routeID).Msg("analysis: panic recovered")
				err = fmt.Errorf("analysis: panic: %v", p)
			}
		}()
		return a.analyze(runCtx, wallet, routeID, opts)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("analysis: wait for route %s: %w", routeID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Result).clone(), nil
	}
}

func (a *Analyzer) analyze(ctx context.Context, wallet, routeID string, opts Options) (res *Result, err error) {
	start := time.Now()
	outcome := OutcomeError
	defer func() {
		if a.deps.Metrics != nil {
			a.deps.Metrics.ObserveAnalysis(outcome, time.Since(start))
		}
	}()

	if !opts.ForceRebuild {
		cached, err := a.findCached(ctx, routeID)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			outcome = OutcomeCached
			log.Debug().Str("route_id", routeID).Msg("analysis: cache hit")
			return &Result{RouteID: routeID, Route: cached, IsNew: false}, nil
		}
	}

	segments, err := a.fetchSegments(ctx, wallet, opts.Window)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			outcome = OutcomeTimeout
			log.Warn().Str("wallet", wallet).Dur("timeout", a.ioTimeout()).Msg("analysis: segment fetch timed out, treating as no data")
			return nil, nil
		}
		return nil, err
	}
	if len(segments) == 0 {
		outcome = OutcomeNoData
		log.Debug().Str("wallet", wallet).Msg("analysis: no segments in window")
		return nil, nil
	}

	r := a.build(ctx, wallet, routeID, opts.Window, segments)

	var alerts []route.Alert
	if opts.SkipAlerts {
		r.AlertsSkipped = true
	} else {
		alerts = EvaluateAlerts(a.engine, r)
		r.AlertGenerated = len(alerts) > 0
	}

	if err := a.persist(ctx, r); err != nil {
		return nil, err
	}

	events := DeriveEvents(r, alerts)
	a.publish(ctx, r, events)
	a.recordHistory(ctx, r, alerts)

	if a.deps.Metrics != nil {
		a.deps.Metrics.ObserveRoute(r)
		for _, al := range alerts {
			a.deps.Metrics.IncAlert(al)
		}
	}

	outcome = OutcomeNew
	log.Info().
		Str("route_id", routeID).
		Str("wallet", wallet).
		Str("route_type", string(r.RouteType)).
		Int("segments", r.SegmentCount).
		Float64("exit_probability", r.ExitProbability).
		Float64("dump_risk", r.DumpRiskScore).
		Float64("confidence", r.Confidence).
		Int("alerts", len(alerts)).
		Msg("analysis: route analyzed")

	return &Result{
		RouteID:       routeID,
		Route:         r,
		IsNew:         true,
		Alerts:        alerts,
		DerivedEvents: events,
	}, nil
}

func (a *Analyzer) findCached(ctx context.Context, routeID string) (*route.EnrichedRoute, error) {
	ioCtx, cancel := context.WithTimeout(ctx, a.ioTimeout())
	defer cancel()

	r, err := a.deps.Store.FindByRouteID(ioCtx, routeID)
	switch {
	case err == nil:
		return r, nil
	case errors.Is(err, storage.ErrNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("analysis: find route %s: %w", routeID, err)
	}
}

// fetchSegments returns the source's segments that fall inside w, with
// non-finite or negative USD values zeroed.
func (a *Analyzer) fetchSegments(ctx context.Context, wallet string, w route.Window) ([]route.Segment, error) {
	ioCtx, cancel := context.WithTimeout(ctx, a.ioTimeout())
	defer cancel()

	raw, err := a.deps.Segments.FetchSegments(ioCtx, wallet, w.Start, w.End)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ioCtx.Err(), context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, fmt.Errorf("analysis: fetch segments: %w", err)
	}

	out := make([]route.Segment, 0, len(raw))
	for _, s := range raw {
		if !w.Contains(s.Timestamp) {
			continue
		}
		s.AmountUSD = route.SanitizeUSD(s.AmountUSD)
		out = append(out, s)
	}
	if dropped := len(raw) - len(out); dropped > 0 {
		log.Debug().Int("dropped", dropped).Str("wallet", wallet).Msg("analysis: dropped out-of-window segments")
	}
	return out, nil
}

// build runs the pure and best-effort stages and assembles the document.
func (a *Analyzer) build(ctx context.Context, wallet, routeID string, w route.Window, segments []route.Segment) *route.EnrichedRoute {
	detectCtx, cancel := context.WithTimeout(ctx, a.ioTimeout())
	detected, touch := a.detector.Detect(detectCtx, segments)
	cancel()
	if touch.LookupErrs > 0 {
		log.Warn().Int("failures", touch.LookupErrs).Str("wallet", wallet).Msg("analysis: exchange lookups failed, treated as not touched")
	}

	swapCtx, cancel := context.WithTimeout(ctx, a.ioTimeout())
	enriched, inserted := a.enricher.Enrich(swapCtx, wallet, w, detected)
	cancel()

	res := a.resolver.Resolve(enriched)
	resolved := res.Segments

	scores, labels := a.engine.Score(resolved, BuildLabels(resolved))
	routeType := classify.Classify(resolved, labels, scores.ExitProbability)

	r := &route.EnrichedRoute{
		RouteID:         routeID,
		Wallet:          wallet,
		WindowStart:     w.Start,
		WindowEnd:       w.End,
		Segments:        resolved,
		SegmentCount:    len(resolved),
		SwapCount:       route.CountType(resolved, route.SegmentSwap),
		BridgeCount:     route.CountType(resolved, route.SegmentBridge),
		ExitProbability: scores.ExitProbability,
		PathEntropy:     scores.PathEntropy,
		DumpRiskScore:   scores.DumpRisk,
		Confidence:      scores.Confidence,
		Labels:          labels,
		RouteType:       routeType,
		TotalUSD:        route.TotalUSD(resolved),
		Resolution:      res.Stats(),
		SwapsInserted:   inserted,
	}
	if n := len(resolved); n > 0 {
		first, last := resolved[0], resolved[n-1]
		r.StartWallet = first.From
		r.EndWallet = last.To
		r.StartChain = first.Chain
		r.EndChain = last.DestinationChain()
	}
	return r
}

func (a *Analyzer) persist(ctx context.Context, r *route.EnrichedRoute) error {
	ioCtx, cancel := context.WithTimeout(ctx, a.ioTimeout())
	defer cancel()
	if err := a.deps.Store.UpsertByRouteID(ioCtx, r.RouteID, r); err != nil {
		return fmt.Errorf("analysis: persist route %s: %w", r.RouteID, err)
	}
	return nil
}

// recordHistory forwards the route to the history sink. Failures are logged.
func (a *Analyzer) recordHistory(ctx context.Context, r *route.EnrichedRoute, alerts []route.Alert) {
	if a.deps.History == nil {
		return
	}
	ioCtx, cancel := context.WithTimeout(ctx, a.ioTimeout())
	defer cancel()
	if err := a.deps.History.WriteRoute(ioCtx, r, alerts); err != nil {
		log.Warn().Err(err).Str("route_id", r.RouteID).Msg("analysis: history write failed")
	}
}

// ResolverStats returns cumulative resolver counters.
func (a *Analyzer) ResolverStats() graph.ResolverStats { return a.resolver.Stats() }
