package enrich

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/routeintel/internal/route"
)

// ---------------------------------------------------------------------------
// Swap Segment Enricher: folds off-path DEX swaps into the segment timeline
// ---------------------------------------------------------------------------

// SwapConfig configures the swap enricher.
type SwapConfig struct {
	MaxLookups int `yaml:"max_lookups"` // addresses queried per analysis (default 8)
}

// DefaultSwapConfig returns sensible defaults.
func DefaultSwapConfig() SwapConfig {
	return SwapConfig{MaxLookups: 8}
}

// SwapEnricher inserts swap events attributable to chain addresses.
type SwapEnricher struct {
	source SwapSource
	config SwapConfig
}

// NewSwapEnricher creates an enricher. A nil source disables enrichment.
func NewSwapEnricher(source SwapSource, config SwapConfig) *SwapEnricher {
	if config.MaxLookups <= 0 {
		config.MaxLookups = DefaultSwapConfig().MaxLookups
	}
	return &SwapEnricher{source: source, config: config}
}

// Enrich returns a chronologically ordered copy of segments with swap
// segments inserted, plus the number inserted. Indices of the result are
// contiguous from zero.
func (e *SwapEnricher) Enrich(ctx context.Context, wallet string, w route.Window, segments []route.Segment) ([]route.Segment, int) {
	out := route.CopySegments(segments)
	route.SortChronological(out)

	if e.source == nil {
		reindex(out)
		return out, 0
	}

	addrs := chainAddresses(wallet, out)
	inChain := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		inChain[a] = true
	}

	knownTx := make(map[string]bool, len(out))
	for _, s := range out {
		if s.TxHash != "" {
			knownTx[s.TxHash] = true
		}
	}

	lookups := addrs
	if len(lookups) > e.config.MaxLookups {
		lookups = lookups[:e.config.MaxLookups]
	}

	inserted := 0
	for _, addr := range lookups {
		if ctx.Err() != nil {
			break
		}
		swaps, err := e.source.FetchSwaps(ctx, addr, w.Start, w.End)
		if err != nil {
			log.Warn().Err(err).Str("address", addr).Msg("enrich: swap lookup failed")
			continue
		}
		for _, ev := range swaps {
			if !inChain[route.NormalizeAddress(ev.Wallet)] || !w.Contains(ev.Timestamp) {
				continue
			}
			if ev.TxHash == "" || knownTx[ev.TxHash] {
				continue
			}
			seg := swapSegment(ev)
			pos := route.InsertionPoint(out, seg)
			out = append(out, route.Segment{})
			copy(out[pos+1:], out[pos:])
			out[pos] = seg

			knownTx[ev.TxHash] = true
			inserted++
		}
	}

	reindex(out)
	return out, inserted
}

// chainAddresses lists the distinct addresses of the chain, wallet first
// and then in order of appearance.
func chainAddresses(wallet string, segments []route.Segment) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(a string) {
		a = route.NormalizeAddress(a)
		if a == "" || seen[a] {
			return
		}
		seen[a] = true
		out = append(out, a)
	}
	add(wallet)
	for _, s := range segments {
		add(s.From)
		add(s.To)
	}
	return out
}

func swapSegment(ev route.SwapEvent) route.Segment {
	to := ev.Router
	if to == "" {
		to = ev.Wallet
	}
	return route.Segment{
		Type:        route.SegmentSwap,
		From:        ev.Wallet,
		To:          to,
		Chain:       ev.Chain,
		Token:       ev.TokenIn,
		TokenOut:    ev.TokenOut,
		Amount:      ev.AmountIn,
		AmountUSD:   route.SanitizeUSD(ev.AmountUSD),
		Timestamp:   ev.Timestamp,
		BlockNumber: ev.BlockNumber,
		TxHash:      ev.TxHash,
		Protocol:    ev.Protocol,
	}
}

func reindex(segments []route.Segment) {
	for i := range segments {
		segments[i].Index = i
	}
}
