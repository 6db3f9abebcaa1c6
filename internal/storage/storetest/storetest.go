// Package storetest holds the behavioural suite every storage.RouteStore
// backend must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/routeintel/internal/route"
	"github.com/nexus-trading/routeintel/internal/storage"
)

// MakeRoute builds a small, fully populated route for wallet and window.
func MakeRoute(wallet string, w route.Window) *route.EnrichedRoute {
	deposit := route.Segment{
		Type: route.SegmentCEXDeposit, From: "0xmid", To: "0xcex", Chain: "ethereum",
		Token: "USDC", Amount: "123456789012345678901234567890", AmountUSD: 5000,
		Timestamp: w.Start + 20, BlockNumber: 101, TxHash: "0xt2", Index: 1, ExchangeName: "binance",
	}
	return &route.EnrichedRoute{
		RouteID:     route.ComputeRouteID(wallet, w),
		Wallet:      wallet,
		WindowStart: w.Start,
		WindowEnd:   w.End,
		Segments: []route.Segment{
			{
				Type: route.SegmentTransfer, From: wallet, To: "0xmid", Chain: "ethereum",
				Token: "USDC", Amount: "1000", AmountUSD: 5000, Timestamp: w.Start + 10,
				BlockNumber: 100, TxHash: "0xt1", Index: 0, Legs: 2,
			},
			deposit,
		},
		SegmentCount:    2,
		ExitProbability: 0.8,
		PathEntropy:     0.3,
		DumpRiskScore:   64.5,
		Confidence:      0.55,
		Labels: route.Labels{
			CEXTouched:       true,
			EndsAtExchange:   true,
			ExchangeName:     "binance",
			BridgeProtocols:  []string{},
			TouchedExchanges: []string{"binance"},
		},
		RouteType:      route.RouteExit,
		StartWallet:    wallet,
		EndWallet:      "0xcex",
		StartChain:     "ethereum",
		EndChain:       "ethereum",
		TotalUSD:       10000,
		AlertGenerated: true,
	}
}

// Run exercises a RouteStore. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.RouteStore) {
	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.FindByRouteID(context.Background(), "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("UpsertAndFind", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		r := MakeRoute("0xWallet", route.Window{Start: 1000, End: 2000})

		require.NoError(t, s.UpsertByRouteID(ctx, r.RouteID, r))

		got, err := s.FindByRouteID(ctx, r.RouteID)
		require.NoError(t, err)
		assert.Equal(t, r, got, "document round-trips unchanged")
	})

	t.Run("UpsertReplaces", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		r := MakeRoute("0xWallet", route.Window{Start: 1000, End: 2000})
		require.NoError(t, s.UpsertByRouteID(ctx, r.RouteID, r))

		rebuilt := r.Clone()
		rebuilt.Segments = rebuilt.Segments[:1]
		rebuilt.SegmentCount = 1
		rebuilt.RouteType = route.RouteInternal
		rebuilt.AlertGenerated = false
		require.NoError(t, s.UpsertByRouteID(ctx, r.RouteID, rebuilt))

		got, err := s.FindByRouteID(ctx, r.RouteID)
		require.NoError(t, err)
		assert.Equal(t, rebuilt, got)

		list, err := s.ListByWallet(ctx, "0xwallet", 10)
		require.NoError(t, err)
		assert.Len(t, list, 1, "one document per route id")
	})

	t.Run("InvalidInput", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		assert.ErrorIs(t, s.UpsertByRouteID(ctx, "", MakeRoute("0xa", route.Window{Start: 1, End: 2})), storage.ErrInvalidInput)
		assert.ErrorIs(t, s.UpsertByRouteID(ctx, "id", nil), storage.ErrInvalidInput)

		r := MakeRoute("0xa", route.Window{Start: 1, End: 2})
		assert.ErrorIs(t, s.UpsertByRouteID(ctx, "other-id", r), storage.ErrInvalidInput)
	})

	t.Run("ListByWallet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			w := route.Window{Start: int64(1000 * (i + 1)), End: int64(1000*(i+1) + 500)}
			r := MakeRoute("0xABC", w)
			require.NoError(t, s.UpsertByRouteID(ctx, r.RouteID, r))
		}
		other := MakeRoute("0xother", route.Window{Start: 1, End: 2})
		require.NoError(t, s.UpsertByRouteID(ctx, other.RouteID, other))

		list, err := s.ListByWallet(ctx, "0xabc", 10)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, int64(3000), list[0].WindowStart, "newest window first")
		assert.Equal(t, int64(1000), list[2].WindowStart)

		limited, err := s.ListByWallet(ctx, "0xabc", 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		none, err := s.ListByWallet(ctx, "0xnobody", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ListHonorsLargeLimit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		n := storage.DefaultConfig().ListLimit + 20
		for i := 0; i < n; i++ {
			r := MakeRoute("0xmany", route.Window{Start: int64(i * 10), End: int64(i*10 + 5)})
			require.NoError(t, s.UpsertByRouteID(ctx, r.RouteID, r))
		}

		all, err := s.ListByWallet(ctx, "0xmany", n+50)
		require.NoError(t, err)
		assert.Len(t, all, n)

		def, err := s.ListByWallet(ctx, "0xmany", 0)
		require.NoError(t, err)
		assert.Len(t, def, storage.DefaultConfig().ListLimit)
	})

	t.Run("ConcurrentUpsertSameID", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		r := MakeRoute("0xrace", route.Window{Start: 10, End: 20})

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.UpsertByRouteID(ctx, r.RouteID, r.Clone())
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}

		list, err := s.ListByWallet(ctx, "0xrace", 10)
		require.NoError(t, err)
		assert.Len(t, list, 1, fmt.Sprintf("expected single document for %s", r.RouteID))
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(context.Background()))
	})
}
