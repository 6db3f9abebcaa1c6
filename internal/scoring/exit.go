package scoring

import "github.com/nexus-trading/routeintel/internal/route"

// ---------------------------------------------------------------------------
// Exit Probability: likelihood funds are heading to final liquidation
// ---------------------------------------------------------------------------

// ExitImminentThreshold is the probability at which an exit is imminent.
const ExitImminentThreshold = 0.7

const (
	exitCEXBase        = 0.45
	exitEndsAtExchange = 0.25
	exitRecency        = 0.10
	exitBridgeThenCEX  = 0.15
	exitEntropyWithCEX = 0.10
	exitBridgeNoCEX    = 0.10
	exitPerSwapNoCEX   = 0.05
	exitSwapCapNoCEX   = 0.15
	exitEntropyNoCEX   = 0.05
)

// IsExitImminent reports whether p crosses the imminent-exit threshold.
func IsExitImminent(p float64) bool {
	return p >= ExitImminentThreshold
}

// ExitProbability scores CEX presence and recency, bridge-then-CEX
// sequences and path entropy. Reads the path entropy prior.
type ExitProbability struct{}

func (ExitProbability) Name() string { return NameExitProbability }

func (ExitProbability) Score(in Input) Result {
	entropy := clamp01(in.prior(NamePathEntropy))
	n := len(in.Segments)

	if !in.Labels.CEXTouched {
		swaps := route.CountType(in.Segments, route.SegmentSwap)
		bridge := boolf(in.Labels.BridgeTouched) * exitBridgeNoCEX
		swap := clamp(float64(swaps)*exitPerSwapNoCEX, 0, exitSwapCapNoCEX)
		ent := exitEntropyNoCEX * entropy
		return Result{
			Name:  NameExitProbability,
			Value: clamp01(bridge + swap + ent),
			Factors: map[string]float64{
				"bridge":  bridge,
				"swaps":   swap,
				"entropy": ent,
			},
		}
	}

	lastTouch := -1
	firstBridge := -1
	bridgeBeforeCEX := false
	for i, s := range in.Segments {
		if s.Type == route.SegmentBridge && firstBridge < 0 {
			firstBridge = i
		}
		if s.TouchesExchange() {
			lastTouch = i
			if firstBridge >= 0 && firstBridge < i {
				bridgeBeforeCEX = true
			}
		}
	}

	recency := 0.0
	if lastTouch >= 0 && n > 0 {
		recency = float64(lastTouch+1) / float64(n)
	}

	ends := exitEndsAtExchange * boolf(in.Labels.EndsAtExchange)
	rec := exitRecency * recency
	seq := exitBridgeThenCEX * boolf(bridgeBeforeCEX)
	ent := exitEntropyWithCEX * entropy

	return Result{
		Name:  NameExitProbability,
		Value: clamp01(exitCEXBase + ends + rec + seq + ent),
		Factors: map[string]float64{
			"base":            exitCEXBase,
			"ends_at_cex":     ends,
			"recency":         rec,
			"bridge_then_cex": seq,
			"entropy":         ent,
		},
	}
}
