package scoring

import (
	"strings"

	"github.com/nexus-trading/routeintel/internal/route"
)

// DefaultMinConfidence is the confidence below which no alert may fire.
const DefaultMinConfidence = 0.5

const (
	confWeightSegments  = 0.40
	confSegmentSaturate = 10.0
	confWeightCEX       = 0.20
	confWeightBridge    = 0.10
	confWeightAmounts   = 0.15
)

// Confidence measures evidentiary strength of a route.
type Confidence struct{}

func (Confidence) Name() string { return NameConfidence }

func (Confidence) Score(in Input) Result {
	n := len(in.Segments)
	if n == 0 {
		return Result{Name: NameConfidence}
	}

	segs := confWeightSegments * clamp01(float64(n)/confSegmentSaturate)
	chains := chainTerm(len(route.DistinctChains(in.Segments)))
	cex := confWeightCEX * boolf(in.Labels.CEXTouched)
	bridge := confWeightBridge * boolf(in.Labels.BridgeTouched && knownProtocol(in.Labels.BridgeProtocols))

	priced := 0
	for _, s := range in.Segments {
		if route.AmountParseable(s.Amount) && route.SanitizeUSD(s.AmountUSD) > 0 {
			priced++
		}
	}
	amounts := confWeightAmounts * float64(priced) / float64(n)

	return Result{
		Name:  NameConfidence,
		Value: clamp01(segs + chains + cex + bridge + amounts),
		Factors: map[string]float64{
			"segments": segs,
			"chains":   chains,
			"cex":      cex,
			"bridge":   bridge,
			"amounts":  amounts,
		},
	}
}

func chainTerm(chains int) float64 {
	switch {
	case chains <= 0:
		return 0
	case chains == 1:
		return 0.05
	case chains == 2:
		return 0.10
	default:
		return 0.15
	}
}

func knownProtocol(protocols []string) bool {
	for _, p := range protocols {
		p = strings.TrimSpace(strings.ToLower(p))
		if p != "" && p != "unknown" {
			return true
		}
	}
	return false
}
