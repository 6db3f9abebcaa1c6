package graph

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/routeintel/internal/route"
)

// ---------------------------------------------------------------------------
// Graph Resolver: ordering, dedup, loop protection, transfer merging
// Turns raw fetched segments into a canonical, deterministic sequence.
// ---------------------------------------------------------------------------

// Config configures the Graph Resolver.
type Config struct {
	MaxHops         int    `yaml:"max_hops"`         // truncate looping routes to this many segments
	RepeatThreshold int    `yaml:"repeat_threshold"` // address occurrences that count as a loop
	MergeWindowS    int64  `yaml:"merge_window_s"`   // max gap between merged transfer legs
	SnapshotPath    string `yaml:"snapshot_path"`    // exchange registry gob snapshot
	RegistryFile    string `yaml:"registry_file"`    // optional YAML list of exchange addresses
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxHops:         50,
		RepeatThreshold: 3,
		MergeWindowS:    60,
	}
}

// Resolution is the output of one Resolve call.
type Resolution struct {
	Segments          []route.Segment
	Normalized        bool
	LoopsDetected     bool
	MergedCount       int
	RemovedDuplicates int
}

// Stats returns the resolution counters in the persisted form.
func (r Resolution) Stats() route.ResolutionStats {
	return route.ResolutionStats{
		LoopsDetected:     r.LoopsDetected,
		MergedCount:       r.MergedCount,
		RemovedDuplicates: r.RemovedDuplicates,
	}
}

// ResolverStats tracks cumulative resolver activity.
type ResolverStats struct {
	Resolved   int64 `json:"resolved"`
	Merged     int64 `json:"merged"`
	Duplicates int64 `json:"duplicates"`
	Loops      int64 `json:"loops"`
	Inexact    int64 `json:"inexact"`
}

// Resolver is stateless between calls apart from its counters.
type Resolver struct {
	config Config

	resolved   atomic.Int64
	merged     atomic.Int64
	duplicates atomic.Int64
	loops      atomic.Int64
	inexact    atomic.Int64
}

// NewResolver creates a resolver. Zero-valued limits fall back to defaults.
func NewResolver(config Config) *Resolver {
	def := DefaultConfig()
	if config.MaxHops <= 0 {
		config.MaxHops = def.MaxHops
	}
	if config.RepeatThreshold <= 0 {
		config.RepeatThreshold = def.RepeatThreshold
	}
	if config.MergeWindowS < 0 {
		config.MergeWindowS = def.MergeWindowS
	}
	return &Resolver{config: config}
}

// Resolve runs the resolution stages in fixed order. The input slice is not
// modified.
func (r *Resolver) Resolve(segments []route.Segment) Resolution {
	r.resolved.Add(1)

	if len(segments) == 0 {
		return Resolution{Segments: []route.Segment{}, Normalized: true}
	}

	segs := route.CopySegments(segments)
	route.SortChronological(segs)

	segs, removed := dedupe(segs)

	loops := false
	if len(segs) > r.config.MaxHops && hasRepeatedAddress(segs, r.config.RepeatThreshold) {
		segs = segs[:r.config.MaxHops]
		loops = true
		r.loops.Add(1)
	}

	merged := 0
	if len(segs) > 1 {
		segs, merged = r.mergeTransfers(segs)
	}

	for i := range segs {
		segs[i].Index = i
	}

	r.merged.Add(int64(merged))
	r.duplicates.Add(int64(removed))

	return Resolution{
		Segments:          segs,
		Normalized:        true,
		LoopsDetected:     loops,
		MergedCount:       merged,
		RemovedDuplicates: removed,
	}
}

// Stats returns cumulative counters.
func (r *Resolver) Stats() ResolverStats {
	return ResolverStats{
		Resolved:   r.resolved.Load(),
		Merged:     r.merged.Load(),
		Duplicates: r.duplicates.Load(),
		Loops:      r.loops.Load(),
		Inexact:    r.inexact.Load(),
	}
}

// dedupeKey identifies an exact duplicate segment.
type dedupeKey struct {
	txHash string
	from   string
	to     string
	amount string
}

func dedupe(segs []route.Segment) ([]route.Segment, int) {
	seen := make(map[dedupeKey]struct{}, len(segs))
	out := segs[:0]
	removed := 0
	for _, s := range segs {
		k := dedupeKey{
			txHash: s.TxHash,
			from:   route.NormalizeAddress(s.From),
			to:     route.NormalizeAddress(s.To),
			amount: strings.TrimSpace(s.Amount),
		}
		if _, dup := seen[k]; dup {
			removed++
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out, removed
}

func hasRepeatedAddress(segs []route.Segment, threshold int) bool {
	counts := make(map[string]int)
	for _, s := range segs {
		for _, addr := range [2]string{s.From, s.To} {
			a := route.NormalizeAddress(addr)
			if a == "" {
				continue
			}
			counts[a]++
			if counts[a] > threshold {
				return true
			}
		}
	}
	return false
}

// mergeTransfers collapses adjacent transfer legs into a single hop. The
// window is measured from the last leg absorbed into the running segment.
func (r *Resolver) mergeTransfers(segs []route.Segment) ([]route.Segment, int) {
	out := make([]route.Segment, 0, len(segs))
	merged := 0

	cur := segs[0]
	lastLegTs := cur.Timestamp
	for _, next := range segs[1:] {
		if r.canMerge(cur, next, lastLegTs) {
			cur = r.merge(cur, next)
			lastLegTs = next.Timestamp
			merged++
			continue
		}
		out = append(out, cur)
		cur = next
		lastLegTs = next.Timestamp
	}
	out = append(out, cur)

	return out, merged
}

func (r *Resolver) canMerge(a, b route.Segment, lastLegTs int64) bool {
	if a.Type != route.SegmentTransfer || b.Type != route.SegmentTransfer {
		return false
	}
	if a.IsCrossChain() || b.IsCrossChain() {
		return false
	}
	if !strings.EqualFold(a.Chain, b.Chain) {
		return false
	}
	if !route.SameAddress(a.To, b.From) {
		return false
	}
	if !strings.EqualFold(a.Token, b.Token) {
		return false
	}
	gap := b.Timestamp - lastLegTs
	return gap >= 0 && gap <= r.config.MergeWindowS
}

func (r *Resolver) merge(a, b route.Segment) route.Segment {
	out := a
	out.To = b.To
	out.AmountUSD = route.SanitizeUSD(a.AmountUSD) + route.SanitizeUSD(b.AmountUSD)
	out.Legs = legs(a) + legs(b)
	out.AmountInexact = a.AmountInexact || b.AmountInexact

	sum, err := route.AddAmounts(a.Amount, b.Amount)
	if err != nil {
		out.AmountInexact = true
		r.inexact.Add(1)
		log.Warn().
			Err(err).
			Str("tx_a", a.TxHash).
			Str("tx_b", b.TxHash).
			Msg("graph: amount merge fell back to first leg")
		return out
	}
	out.Amount = sum
	return out
}

func legs(s route.Segment) int {
	if s.Legs <= 0 {
		return 1
	}
	return s.Legs
}

// ValidateOrdering verifies segments are in (timestamp, block, index) order
// and indices are contiguous from zero.
func ValidateOrdering(segments []route.Segment) error {
	for i, s := range segments {
		if s.Index != i {
			return fmt.Errorf("graph: segment %d has index %d", i, s.Index)
		}
		if i == 0 {
			continue
		}
		if route.CompareChronological(segments[i-1], s) > 0 {
			return fmt.Errorf("graph: ordering violated at index %d", i)
		}
	}
	return nil
}
