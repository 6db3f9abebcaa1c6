package scoring

import (
	"strings"

	"github.com/nexus-trading/routeintel/internal/route"
)

// ---------------------------------------------------------------------------
// Path Entropy: counterparty, type and chain diversity in [0, 1]
// ---------------------------------------------------------------------------

const (
	addrBitsCap  = 5.0
	typeBitsCap  = 2.0
	chainBitsCap = 2.0

	weightAddr  = 0.5
	weightType  = 0.3
	weightChain = 0.2

	// MixerEntropyThreshold is the entropy above which mixer patterns count.
	MixerEntropyThreshold = 0.7

	shortHopMinSegments = 5
	shortHopGapS        = 300
	shortHopFraction    = 0.5
	rapidChainSpanS     = 3600
	rapidChainMinEach   = 2
)

// PathEntropy scores diversity of counterparties, segment types and chains.
type PathEntropy struct{}

func (PathEntropy) Name() string { return NamePathEntropy }

func (PathEntropy) Score(in Input) Result {
	if len(in.Segments) == 0 {
		return Result{Name: NamePathEntropy}
	}

	addrs := make(map[string]int)
	types := make(map[string]int)
	chains := make(map[string]int)
	for _, s := range in.Segments {
		for _, a := range [2]string{s.From, s.To} {
			if a = route.NormalizeAddress(a); a != "" {
				addrs[a]++
			}
		}
		types[string(s.Type)]++
		if c := strings.ToLower(s.Chain); c != "" {
			chains[c]++
		}
		if s.IsCrossChain() {
			chains[strings.ToLower(s.ToChain)]++
		}
	}

	addr := clamp01(shannon(addrs) / addrBitsCap)
	typ := clamp01(shannon(types) / typeBitsCap)
	chain := clamp01(shannon(chains) / chainBitsCap)

	return Result{
		Name:  NamePathEntropy,
		Value: clamp01(weightAddr*addr + weightType*typ + weightChain*chain),
		Factors: map[string]float64{
			"address": addr,
			"type":    typ,
			"chain":   chain,
		},
	}
}

// MixerSuspected reports whether a high-entropy route also shows a mixing
// pattern: many short hops, or a rapid bridge and swap chain.
func MixerSuspected(segments []route.Segment, entropy float64) bool {
	if entropy <= MixerEntropyThreshold {
		return false
	}
	return shortHopPattern(segments) || rapidBridgeSwapPattern(segments)
}

func shortHopPattern(segments []route.Segment) bool {
	if len(segments) < shortHopMinSegments {
		return false
	}
	short := 0
	gaps := len(segments) - 1
	for i := 1; i < len(segments); i++ {
		if segments[i].Timestamp-segments[i-1].Timestamp < shortHopGapS {
			short++
		}
	}
	return float64(short) >= shortHopFraction*float64(gaps)
}

func rapidBridgeSwapPattern(segments []route.Segment) bool {
	var first, last int64
	bridges, swaps := 0, 0
	for _, s := range segments {
		if s.Type != route.SegmentBridge && s.Type != route.SegmentSwap {
			continue
		}
		if bridges+swaps == 0 {
			first = s.Timestamp
		}
		last = s.Timestamp
		if s.Type == route.SegmentBridge {
			bridges++
		} else {
			swaps++
		}
	}
	if bridges < rapidChainMinEach || swaps < rapidChainMinEach {
		return false
	}
	return last-first <= rapidChainSpanS
}
