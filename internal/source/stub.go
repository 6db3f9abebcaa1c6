package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/nexus-trading/routeintel/internal/route"
)

// Stub serves segments and swaps from memory. Used when no upstream indexer
// is configured, by the one-shot CLI with a fixture file, and in tests.
type Stub struct {
	mu       sync.RWMutex
	segments map[string][]route.Segment   // lower(wallet) -> segments
	swaps    map[string][]route.SwapEvent // lower(wallet) -> swaps

	// SegmentErr and SwapErr, when set, are returned from every fetch.
	SegmentErr error
	SwapErr    error

	calls map[string]int
}

// NewStub creates an empty stub source.
func NewStub() *Stub {
	return &Stub{
		segments: make(map[string][]route.Segment),
		swaps:    make(map[string][]route.SwapEvent),
		calls:    make(map[string]int),
	}
}

// AddSegments registers segments originating from wallet.
func (s *Stub) AddSegments(wallet string, segs ...route.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := strings.ToLower(wallet)
	s.segments[k] = append(s.segments[k], segs...)
}

// AddSwaps registers swaps executed by wallet.
func (s *Stub) AddSwaps(wallet string, swaps ...route.SwapEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := strings.ToLower(wallet)
	s.swaps[k] = append(s.swaps[k], swaps...)
}

// FetchSegments returns the wallet's segments in [start, end).
func (s *Stub) FetchSegments(ctx context.Context, wallet string, start, end int64) ([]route.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls["segments"]++
	s.mu.Unlock()
	if s.SegmentErr != nil {
		return nil, s.SegmentErr
	}

	w := route.Window{Start: start, End: end}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []route.Segment
	for _, seg := range s.segments[strings.ToLower(wallet)] {
		if w.Contains(seg.Timestamp) {
			out = append(out, seg)
		}
	}
	return out, nil
}

// FetchSwaps returns the wallet's swaps in [start, end).
func (s *Stub) FetchSwaps(ctx context.Context, wallet string, start, end int64) ([]route.SwapEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls["swaps"]++
	s.mu.Unlock()
	if s.SwapErr != nil {
		return nil, s.SwapErr
	}

	w := route.Window{Start: start, End: end}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []route.SwapEvent
	for _, sw := range s.swaps[strings.ToLower(wallet)] {
		if w.Contains(sw.Timestamp) {
			out = append(out, sw)
		}
	}
	return out, nil
}

// Calls returns how many fetches of kind ("segments" or "swaps") were made.
func (s *Stub) Calls(kind string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[kind]
}

// Wallets returns the wallets that have segments, sorted.
func (s *Stub) Wallets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.segments))
	for w := range s.segments {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

func (s *Stub) Health(context.Context) error { return nil }

// fixture is the on-disk stub format:
//
//	{"wallets": {"0xabc": {"segments": [...], "swaps": [...]}}}
//
// Entries use the same wire encoding as the RPC adapters.
type fixture struct {
	Wallets map[string]struct {
		Segments json.RawMessage `json:"segments"`
		Swaps    json.RawMessage `json:"swaps"`
	} `json:"wallets"`
}

// LoadFixture reads a JSON fixture into a new stub.
func LoadFixture(path string) (*Stub, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("source: read fixture: %w", err)
	}
	var fx fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("source: parse fixture: %w", err)
	}

	s := NewStub()
	for wallet, entry := range fx.Wallets {
		if len(entry.Segments) > 0 {
			segs, err := decodeSegments(entry.Segments)
			if err != nil {
				return nil, fmt.Errorf("source: fixture wallet %s: %w", wallet, err)
			}
			s.AddSegments(wallet, segs...)
		}
		if len(entry.Swaps) > 0 {
			swaps, err := decodeSwaps(entry.Swaps)
			if err != nil {
				return nil, fmt.Errorf("source: fixture wallet %s: %w", wallet, err)
			}
			s.AddSwaps(wallet, swaps...)
		}
	}
	return s, nil
}
