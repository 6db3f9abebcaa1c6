package route

import "strings"

// DistinctChains returns the distinct chains a segment list spans, counting
// both origin and destination chains, in first-seen order.
func DistinctChains(segments []Segment) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(c string) {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			return
		}
		seen[c] = true
		out = append(out, c)
	}
	for _, s := range segments {
		add(s.Chain)
		add(s.ToChain)
	}
	return out
}

// CountType counts segments of the given type.
func CountType(segments []Segment, t SegmentType) int {
	n := 0
	for _, s := range segments {
		if s.Type == t {
			n++
		}
	}
	return n
}

// TotalUSD sums the USD notional of value-moving segments. Swaps re-price
// funds already counted on the transfer legs and are excluded.
func TotalUSD(segments []Segment) float64 {
	total := 0.0
	for _, s := range segments {
		if s.Type == SegmentSwap {
			continue
		}
		total += SanitizeUSD(s.AmountUSD)
	}
	return total
}
