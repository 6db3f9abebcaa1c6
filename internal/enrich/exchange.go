package enrich

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/routeintel/internal/route"
)

// ---------------------------------------------------------------------------
// Exchange Touch Detector: exact registry matching of segment endpoints
// ---------------------------------------------------------------------------

// SegmentSource supplies the base movement segments for a wallet and window.
type SegmentSource interface {
	FetchSegments(ctx context.Context, wallet string, start, end int64) ([]route.Segment, error)
}

// SwapSource supplies DEX swap events for a wallet and window.
type SwapSource interface {
	FetchSwaps(ctx context.Context, wallet string, start, end int64) ([]route.SwapEvent, error)
}

// ExchangeRegistry resolves addresses to known exchanges.
type ExchangeRegistry interface {
	IsKnownExchangeAddress(ctx context.Context, addr string) (route.ExchangeMatch, error)
}

// LabelExchangeWithdrawal marks a segment whose origin is a known exchange.
const LabelExchangeWithdrawal = "cex_withdrawal"

// ExchangeTouch summarises exchange contact across a segment list.
type ExchangeTouch struct {
	Touched     bool
	Exchanges   []string // deposit exchanges, first-seen order
	Withdrawals []string // exchanges funds were withdrawn from
	LookupErrs  int
}

// ExchangeDetector labels segments that deposit into known exchanges.
type ExchangeDetector struct {
	registry ExchangeRegistry
}

// NewExchangeDetector creates a detector backed by registry.
func NewExchangeDetector(registry ExchangeRegistry) *ExchangeDetector {
	return &ExchangeDetector{registry: registry}
}

// Detect returns a labelled copy of segments. Transfers into an exchange are
// retyped to CEX_DEPOSIT. A failed lookup leaves the segment untouched.
func (d *ExchangeDetector) Detect(ctx context.Context, segments []route.Segment) ([]route.Segment, ExchangeTouch) {
	out := route.CopySegments(segments)
	var touch ExchangeTouch

	memo := make(map[string]route.ExchangeMatch)
	failed := make(map[string]bool)
	lookup := func(addr string) (route.ExchangeMatch, bool) {
		key := route.NormalizeAddress(addr)
		if key == "" {
			return route.ExchangeMatch{}, false
		}
		if m, ok := memo[key]; ok {
			return m, true
		}
		if failed[key] {
			return route.ExchangeMatch{}, false
		}
		m, err := d.registry.IsKnownExchangeAddress(ctx, key)
		if err != nil {
			failed[key] = true
			touch.LookupErrs++
			log.Warn().Err(err).Str("address", key).Msg("enrich: exchange lookup failed")
			return route.ExchangeMatch{}, false
		}
		memo[key] = m
		return m, true
	}

	seenDeposit := make(map[string]bool)
	seenWithdrawal := make(map[string]bool)
	for i := range out {
		seg := &out[i]

		if m, ok := lookup(seg.To); ok && m.IsExchange {
			touch.Touched = true
			seg.ExchangeName = m.Name
			if seg.Type == route.SegmentTransfer {
				seg.Type = route.SegmentCEXDeposit
			}
			if !seenDeposit[m.Name] {
				seenDeposit[m.Name] = true
				touch.Exchanges = append(touch.Exchanges, m.Name)
			}
		}

		if m, ok := lookup(seg.From); ok && m.IsExchange {
			if seg.Label == "" {
				seg.Label = LabelExchangeWithdrawal
			}
			if !seenWithdrawal[m.Name] {
				seenWithdrawal[m.Name] = true
				touch.Withdrawals = append(touch.Withdrawals, m.Name)
			}
		}
	}

	return out, touch
}

// TerminalExchange reports the exchange the route ends at. Only the last
// segment and segments sharing its transaction hash are considered.
func TerminalExchange(resolved []route.Segment) (string, bool) {
	if len(resolved) == 0 {
		return "", false
	}
	last := resolved[len(resolved)-1]
	if last.Type == route.SegmentCEXDeposit {
		return last.ExchangeName, true
	}
	if last.TxHash == "" {
		return "", false
	}
	for i := len(resolved) - 2; i >= 0; i-- {
		s := resolved[i]
		if s.TxHash != last.TxHash {
			continue
		}
		if s.Type == route.SegmentCEXDeposit {
			return s.ExchangeName, true
		}
	}
	return "", false
}
