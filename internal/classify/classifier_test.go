package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexus-trading/routeintel/internal/route"
)

func s(typ route.SegmentType, chain, toChain string) route.Segment {
	return route.Segment{Type: typ, Chain: chain, ToChain: toChain, From: "0xa", To: "0xb"}
}

func TestClassify(t *testing.T) {
	twoChains := []route.Segment{
		s(route.SegmentBridge, "ethereum", "arbitrum"),
		s(route.SegmentTransfer, "arbitrum", ""),
	}
	oneChain := []route.Segment{
		s(route.SegmentTransfer, "ethereum", ""),
		s(route.SegmentSwap, "ethereum", ""),
	}
	endsAtDeposit := []route.Segment{
		s(route.SegmentTransfer, "ethereum", ""),
		s(route.SegmentCEXDeposit, "ethereum", ""),
	}

	tests := []struct {
		name   string
		segs   []route.Segment
		labels route.Labels
		exit   float64
		want   route.RouteType
	}{
		{"cross-chain into exchange is exit not migration", twoChains, route.Labels{CEXTouched: true}, 0.6, route.RouteExit},
		{"cex touched with low exit falls through", twoChains, route.Labels{CEXTouched: true}, 0.4, route.RouteUnknown},
		{"terminal deposit is exit regardless of score", endsAtDeposit, route.Labels{}, 0.1, route.RouteExit},
		{"mixer beats migration", twoChains, route.Labels{MixerSuspected: true}, 0.2, route.RouteMixing},
		{"migration", twoChains, route.Labels{}, 0.1, route.RouteMigration},
		{"internal", oneChain, route.Labels{}, 0.1, route.RouteInternal},
		{"single chain cex touch low exit is internal", oneChain, route.Labels{CEXTouched: true}, 0.3, route.RouteInternal},
		{"empty", nil, route.Labels{}, 0, route.RouteUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.segs, tt.labels, tt.exit))
		})
	}
}

func TestChainCount(t *testing.T) {
	assert.Equal(t, 0, ChainCount(nil))
	assert.Equal(t, 2, ChainCount([]route.Segment{
		s(route.SegmentBridge, "Ethereum", "arbitrum"),
		s(route.SegmentTransfer, "ethereum", ""),
	}))
}
