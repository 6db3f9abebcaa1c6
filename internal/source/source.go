package source

import (
	"context"
	"fmt"
	"time"

	"github.com/nexus-trading/routeintel/internal/route"
)

// Source is everything the analyzer and health monitor need from an
// upstream adapter.
type Source interface {
	FetchSegments(ctx context.Context, wallet string, start, end int64) ([]route.Segment, error)
	FetchSwaps(ctx context.Context, wallet string, start, end int64) ([]route.SwapEvent, error)
	Health(ctx context.Context) error
}

// New builds the adapter selected by cfg.Kind. The returned func releases
// its resources.
func New(cfg Config) (Source, func(), error) {
	switch cfg.Kind {
	case "rpc":
		if cfg.Endpoint == "" {
			return nil, nil, fmt.Errorf("source: rpc endpoint is required")
		}
		c := NewRPCClient(cfg)
		return c, c.Close, nil
	case "ws":
		if cfg.WSEndpoint == "" {
			return nil, nil, fmt.Errorf("source: ws endpoint is required")
		}
		c := NewWSClient(cfg)
		return c, c.Close, nil
	case "", "stub":
		if cfg.FixturePath == "" {
			return NewStub(), func() {}, nil
		}
		s, err := LoadFixture(cfg.FixturePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("source: unknown kind %q", cfg.Kind)
	}
}

// CallObserver receives per-call latency and outcome.
type CallObserver interface {
	ObserveSourceCall(method string, d time.Duration, err error)
}

// Instrument wraps src so every call is reported to obs.
func Instrument(src Source, obs CallObserver) Source {
	if obs == nil {
		return src
	}
	return &instrumented{Source: src, obs: obs}
}

type instrumented struct {
	Source
	obs CallObserver
}

func (i *instrumented) FetchSegments(ctx context.Context, wallet string, start, end int64) ([]route.Segment, error) {
	t := time.Now()
	segs, err := i.Source.FetchSegments(ctx, wallet, start, end)
	i.obs.ObserveSourceCall("segments", time.Since(t), err)
	return segs, err
}

func (i *instrumented) FetchSwaps(ctx context.Context, wallet string, start, end int64) ([]route.SwapEvent, error) {
	t := time.Now()
	swaps, err := i.Source.FetchSwaps(ctx, wallet, start, end)
	i.obs.ObserveSourceCall("swaps", time.Since(t), err)
	return swaps, err
}
