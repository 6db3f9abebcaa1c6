package route

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ---------------------------------------------------------------------------
// Route data model: segments, windows, labels, enriched route document
// ---------------------------------------------------------------------------

// SegmentType identifies the kind of fund movement a segment represents.
type SegmentType string

const (
	SegmentTransfer   SegmentType = "TRANSFER"
	SegmentSwap       SegmentType = "SWAP"
	SegmentBridge     SegmentType = "BRIDGE"
	SegmentCEXDeposit SegmentType = "CEX_DEPOSIT"
)

// validSegmentTypes is the set of all recognised segment types.
var validSegmentTypes = map[SegmentType]bool{
	SegmentTransfer:   true,
	SegmentSwap:       true,
	SegmentBridge:     true,
	SegmentCEXDeposit: true,
}

// Valid reports whether t is a known segment type.
func (t SegmentType) Valid() bool { return validSegmentTypes[t] }

// Segment is one atomic movement step within a route.
type Segment struct {
	Type          SegmentType `json:"type"`
	From          string      `json:"from"`
	To            string      `json:"to"`
	Chain         string      `json:"chain"`
	ToChain       string      `json:"to_chain,omitempty"` // set only for cross-chain hops
	Token         string      `json:"token"`
	TokenOut      string      `json:"token_out,omitempty"` // swaps only
	Amount        string      `json:"amount"`              // raw integer, token base units
	AmountUSD     float64     `json:"amount_usd"`
	Timestamp     int64       `json:"timestamp"` // unix seconds
	BlockNumber   uint64      `json:"block_number"`
	TxHash        string      `json:"tx_hash"`
	Index         int         `json:"index"`
	Protocol      string      `json:"protocol,omitempty"`
	Label         string      `json:"label,omitempty"`
	ExchangeName  string      `json:"exchange_name,omitempty"`
	Legs          int         `json:"legs,omitempty"`
	AmountInexact bool        `json:"amount_inexact,omitempty"`
}

// IsCrossChain reports whether the segment moves funds to a different chain.
func (s Segment) IsCrossChain() bool {
	return s.ToChain != "" && !strings.EqualFold(s.ToChain, s.Chain)
}

// DestinationChain returns the chain funds land on after this segment.
func (s Segment) DestinationChain() string {
	if s.ToChain != "" {
		return s.ToChain
	}
	return s.Chain
}

// TouchesExchange reports whether the detector attributed the segment to a
// known exchange.
func (s Segment) TouchesExchange() bool {
	return s.Type == SegmentCEXDeposit || s.ExchangeName != ""
}

// SwapEvent is an off-path DEX swap reported by the swap source, keyed by
// transaction hash.
type SwapEvent struct {
	TxHash      string  `json:"tx_hash"`
	Wallet      string  `json:"wallet"`
	Chain       string  `json:"chain"`
	TokenIn     string  `json:"token_in"`
	TokenOut    string  `json:"token_out"`
	AmountIn    string  `json:"amount_in"`
	AmountOut   string  `json:"amount_out"`
	AmountUSD   float64 `json:"amount_usd"`
	Timestamp   int64   `json:"timestamp"`
	BlockNumber uint64  `json:"block_number"`
	Protocol    string  `json:"protocol,omitempty"`
	Router      string  `json:"router,omitempty"`
}

// ErrInvalidWindow is returned when a window does not satisfy Start < End.
var ErrInvalidWindow = errors.New("route: invalid window")

// Window is the half-open analysis horizon [Start, End) in unix seconds.
type Window struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Validate checks that the window is non-empty.
func (w Window) Validate() error {
	if w.End <= w.Start {
		return fmt.Errorf("%w: start=%d end=%d", ErrInvalidWindow, w.Start, w.End)
	}
	return nil
}

// Contains reports whether ts lies in [Start, End).
func (w Window) Contains(ts int64) bool {
	return ts >= w.Start && ts < w.End
}

// Duration returns the window length in seconds.
func (w Window) Duration() int64 {
	if w.End <= w.Start {
		return 0
	}
	return w.End - w.Start
}

// Labels are the qualitative flags attached to a route.
type Labels struct {
	CEXTouched       bool     `json:"cex_touched"`
	BridgeTouched    bool     `json:"bridge_touched"`
	MixerSuspected   bool     `json:"mixer_suspected"`
	BridgeProtocols  []string `json:"bridge_protocols"`
	EndsAtExchange   bool     `json:"ends_at_exchange"`
	ExchangeName     string   `json:"exchange_name,omitempty"`
	TouchedExchanges []string `json:"touched_exchanges"`
}

// Clone returns a deep copy of the labels.
func (l Labels) Clone() Labels {
	out := l
	out.BridgeProtocols = slices.Clone(l.BridgeProtocols)
	out.TouchedExchanges = slices.Clone(l.TouchedExchanges)
	return out
}

// RouteType is the classification outcome of a route.
type RouteType string

const (
	RouteExit      RouteType = "EXIT"
	RouteMixing    RouteType = "MIXING"
	RouteMigration RouteType = "MIGRATION"
	RouteInternal  RouteType = "INTERNAL"
	RouteUnknown   RouteType = "UNKNOWN"
)

// ResolutionStats summarises what the graph resolver did to the raw segments.
type ResolutionStats struct {
	LoopsDetected     bool `json:"loops_detected"`
	MergedCount       int  `json:"merged_count"`
	RemovedDuplicates int  `json:"removed_duplicates"`
}

// EnrichedRoute is the persisted aggregate for one (wallet, window) pair.
// It deliberately carries no wall-clock field so that identical inputs
// always produce an identical document.
type EnrichedRoute struct {
	RouteID     string `json:"route_id"`
	Wallet      string `json:"wallet"`
	WindowStart int64  `json:"window_start"`
	WindowEnd   int64  `json:"window_end"`

	Segments     []Segment `json:"segments"`
	SegmentCount int       `json:"segment_count"`
	SwapCount    int       `json:"swap_count"`
	BridgeCount  int       `json:"bridge_count"`

	ExitProbability float64 `json:"exit_probability"` // [0, 1]
	PathEntropy     float64 `json:"path_entropy"`     // [0, 1]
	DumpRiskScore   float64 `json:"dump_risk_score"`  // [0, 100]
	Confidence      float64 `json:"confidence"`       // [0, 1]

	Labels    Labels    `json:"labels"`
	RouteType RouteType `json:"route_type"`

	StartWallet string  `json:"start_wallet"`
	EndWallet   string  `json:"end_wallet"`
	StartChain  string  `json:"start_chain"`
	EndChain    string  `json:"end_chain"`
	TotalUSD    float64 `json:"total_usd"`

	AlertGenerated bool            `json:"alert_generated"`
	AlertsSkipped  bool            `json:"alerts_skipped,omitempty"` // alert evaluation disabled for this build
	Resolution     ResolutionStats `json:"resolution"`
	SwapsInserted  int             `json:"swaps_inserted"`
}

// Clone returns a deep copy of the route.
func (r *EnrichedRoute) Clone() *EnrichedRoute {
	if r == nil {
		return nil
	}
	out := *r
	out.Segments = slices.Clone(r.Segments)
	out.Labels = r.Labels.Clone()
	return &out
}

// Window returns the analysis window of the route.
func (r *EnrichedRoute) Window() Window {
	return Window{Start: r.WindowStart, End: r.WindowEnd}
}

// AlertType identifies the kind of alert raised for a route.
type AlertType string

const (
	AlertDumpRisk     AlertType = "DUMP_RISK"
	AlertExitImminent AlertType = "EXIT_IMMINENT"
)

// Severity levels.
type Severity string

const (
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is an alert the caller may fan out to notification channels.
type Alert struct {
	Type     AlertType `json:"type"`
	Severity Severity  `json:"severity"`
	RouteID  string    `json:"route_id"`
	Wallet   string    `json:"wallet"`
	Score    float64   `json:"score"`
}

// DerivedEvent is a domain event produced by an analysis.
type DerivedEvent struct {
	EventID string         `json:"event_id"`
	Type    string         `json:"type"`
	RouteID string         `json:"route_id"`
	Wallet  string         `json:"wallet"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Derived event types.
const (
	EventRouteAnalyzed  = "route.analyzed"
	EventExitDetected   = "route.exit_detected"
	EventMixerSuspected = "route.mixer_suspected"
	EventRouteAlert     = "route.alert"
)

// ExchangeMatch is the result of an exchange-registry lookup.
type ExchangeMatch struct {
	IsExchange bool   `json:"is_exchange"`
	Name       string `json:"name,omitempty"`
}
